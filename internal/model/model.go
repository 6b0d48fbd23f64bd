package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnknownOwnerKind = errors.New("unknown owner kind")
	ErrUnknownWeekDay   = errors.New("unknown weekday")
)

// WeekDay is a slot of the six-day academic week. Calendar Sunday has no
// slot of its own; see week.WeekdayOf.
type WeekDay int

const (
	Monday WeekDay = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

// WeekDays lists every academic weekday in order.
var WeekDays = [...]WeekDay{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}

var weekDayNames = [...]string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

func (d WeekDay) Valid() bool {
	return d >= Monday && d <= Saturday
}

func (d WeekDay) String() string {
	if !d.Valid() {
		return fmt.Sprintf("WeekDay(%d)", int(d))
	}
	return weekDayNames[d]
}

func ParseWeekDay(s string) (WeekDay, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range weekDayNames {
		if name == s {
			return WeekDay(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownWeekDay, s)
}

// MarshalText lets a Schedule encode as a JSON object keyed by weekday name.
func (d WeekDay) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownWeekDay, int(d))
	}
	return []byte(weekDayNames[d]), nil
}

func (d *WeekDay) UnmarshalText(b []byte) error {
	v, err := ParseWeekDay(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// OwnerKind tells group schedules from teacher schedules.
type OwnerKind string

const (
	OwnerGroup   OwnerKind = "group"
	OwnerTeacher OwnerKind = "teacher"
)

// OwnerKinds lists the supported owner kinds.
var OwnerKinds = [...]OwnerKind{OwnerGroup, OwnerTeacher}

func (k OwnerKind) Valid() bool {
	return k == OwnerGroup || k == OwnerTeacher
}

func ParseOwnerKind(s string) (OwnerKind, error) {
	k := OwnerKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownOwnerKind, s)
	}
	return k, nil
}

// OwnerKey identifies the owner of a schedule.
type OwnerKey struct {
	Kind OwnerKind `json:"kind"`
	ID   int64     `json:"id"`
}

func (k OwnerKey) String() string {
	return fmt.Sprintf("%s:%d", k.Kind, k.ID)
}

// Owner is a group or a teacher as listed by the remote directory.
// At most one owner per kind is picked; the owners use-case keeps that true.
type Owner struct {
	Kind     OwnerKind `json:"kind"`
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	IsPicked bool      `json:"is_picked"`
}

func (o Owner) Key() OwnerKey {
	return OwnerKey{Kind: o.Kind, ID: o.ID}
}

// RawLesson is a lesson as delivered by the remote provider, before it has
// been assigned a cache id.
type RawLesson struct {
	Start       string
	End         string
	Name        string
	Type        string
	Place       string
	TeacherName string
	LMSURL      string
	GroupNames  []string
}

// WithID turns a fetched lesson into a cacheable one.
func (r RawLesson) WithID(id int64) Lesson {
	groups := make([]string, len(r.GroupNames))
	copy(groups, r.GroupNames)
	return Lesson{
		ID:          id,
		Start:       r.Start,
		End:         r.End,
		Name:        r.Name,
		Type:        r.Type,
		Place:       r.Place,
		TeacherName: r.TeacherName,
		LMSURL:      r.LMSURL,
		GroupNames:  groups,
	}
}

// Lesson is an immutable cached lesson. Start and End are "HH:MM".
type Lesson struct {
	ID          int64    `json:"id"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Place       string   `json:"place"`
	TeacherName string   `json:"teacher_name"`
	LMSURL      string   `json:"lms_url"`
	GroupNames  []string `json:"group_names"`
}

// ScheduleDay is one weekday of an owner's cached week.
type ScheduleDay struct {
	ID        int64
	WeekDay   WeekDay
	LessonIDs []int64
}

// ScheduleWeek is the single live cached week of an owner. It is replaced
// wholesale on every successful sync.
type ScheduleWeek struct {
	Owner  OwnerKey
	IsOdd  bool
	Monday Date
	DayIDs []int64
}

// RawSchedule is the provider's weekday -> lessons answer.
type RawSchedule map[WeekDay][]RawLesson

// Schedule maps weekdays to their lessons in display order.
type Schedule map[WeekDay][]Lesson

// Days returns the weekdays present in s in academic order.
func (s Schedule) Days() []WeekDay {
	days := make([]WeekDay, 0, len(s))
	for d := range s {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days
}

// LessonCount returns the number of lessons across all days.
func (s Schedule) LessonCount() int {
	n := 0
	for _, lessons := range s {
		n += len(lessons)
	}
	return n
}
