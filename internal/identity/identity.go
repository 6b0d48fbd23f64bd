// Package identity synthesizes the integer row ids used by the schedule
// cache. Group and teacher schedules share one flat id space, so every id
// carries its owner kind as a tag.
//
// An id packs, from the high bits down:
//
//	kind tag (2) | record type (1) | owner id (40) | slot (20)
//
// which keeps ids positive and unique per (kind, record, owner, slot) tuple
// regardless of how many decimal digits the owner id has.
package identity

import (
	"errors"
	"fmt"

	"timetable/internal/model"
)

var ErrOutOfRange = errors.New("identity: component out of range")

// Record tells day rows from lesson rows.
type Record uint8

const (
	RecordDay    Record = 0
	RecordLesson Record = 1
)

const (
	slotBits  = 20
	ownerBits = 40

	slotShift   = 0
	ownerShift  = slotShift + slotBits
	recordShift = ownerShift + ownerBits
	tagShift    = recordShift + 1

	MaxOwnerID = 1<<ownerBits - 1
	MaxSlot    = 1<<slotBits - 1
)

// Key is the decoded form of an id.
type Key struct {
	Kind    model.OwnerKind
	Record  Record
	OwnerID int64
	Slot    int64
}

func tagOf(kind model.OwnerKind) (int64, error) {
	switch kind {
	case model.OwnerGroup:
		return 1, nil
	case model.OwnerTeacher:
		return 2, nil
	default:
		return 0, fmt.Errorf("%w: %q", model.ErrUnknownOwnerKind, kind)
	}
}

func kindOf(tag int64) (model.OwnerKind, error) {
	switch tag {
	case 1:
		return model.OwnerGroup, nil
	case 2:
		return model.OwnerTeacher, nil
	default:
		return "", fmt.Errorf("%w: tag %d", model.ErrUnknownOwnerKind, tag)
	}
}

// Encode packs k into an id.
func Encode(k Key) (int64, error) {
	tag, err := tagOf(k.Kind)
	if err != nil {
		return 0, err
	}
	if k.OwnerID < 0 || k.OwnerID > MaxOwnerID {
		return 0, fmt.Errorf("%w: owner id %d", ErrOutOfRange, k.OwnerID)
	}
	if k.Slot < 0 || k.Slot > MaxSlot {
		return 0, fmt.Errorf("%w: slot %d", ErrOutOfRange, k.Slot)
	}
	if k.Record > RecordLesson {
		return 0, fmt.Errorf("%w: record %d", ErrOutOfRange, k.Record)
	}
	return tag<<tagShift |
		int64(k.Record)<<recordShift |
		k.OwnerID<<ownerShift |
		k.Slot<<slotShift, nil
}

// Decode unpacks an id produced by Encode.
func Decode(id int64) (Key, error) {
	if id <= 0 {
		return Key{}, fmt.Errorf("%w: id %d", ErrOutOfRange, id)
	}
	kind, err := kindOf(id >> tagShift)
	if err != nil {
		return Key{}, err
	}
	return Key{
		Kind:    kind,
		Record:  Record(id >> recordShift & 1),
		OwnerID: id >> ownerShift & MaxOwnerID,
		Slot:    id >> slotShift & MaxSlot,
	}, nil
}

// DayID returns the id of the day record for weekday wd of an owner's week.
func DayID(kind model.OwnerKind, ownerID int64, wd model.WeekDay) (int64, error) {
	if !wd.Valid() {
		return 0, fmt.Errorf("%w: %d", model.ErrUnknownWeekDay, int(wd))
	}
	return Encode(Key{Kind: kind, Record: RecordDay, OwnerID: ownerID, Slot: int64(wd)})
}

// LessonID returns the id of the counter-th lesson fetched for an owner. A
// later fetch that reuses a counter overwrites the earlier lesson.
func LessonID(kind model.OwnerKind, ownerID int64, counter int) (int64, error) {
	return Encode(Key{Kind: kind, Record: RecordLesson, OwnerID: ownerID, Slot: int64(counter)})
}
