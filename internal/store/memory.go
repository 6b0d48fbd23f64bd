// Package store holds the offline schedule cache: a sqlite implementation
// for the running program and an in-memory one with the same semantics.
//
// Writes are upserts by id (last write wins). Batch lookups return rows in
// the order of the requested ids and silently skip ids that are missing.
// Nothing is transactional across weeks, days and lessons.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"timetable/internal/model"
)

var ErrNotFound = errors.New("store: not found")

// Memory is a process-local cache. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	weeks   map[model.OwnerKey]model.ScheduleWeek
	days    map[int64]model.ScheduleDay
	lessons map[int64]model.Lesson
	owners  map[model.OwnerKey]model.Owner
}

func NewMemory() *Memory {
	return &Memory{
		weeks:   make(map[model.OwnerKey]model.ScheduleWeek),
		days:    make(map[int64]model.ScheduleDay),
		lessons: make(map[int64]model.Lesson),
		owners:  make(map[model.OwnerKey]model.Owner),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) GetWeek(_ context.Context, owner model.OwnerKey) (model.ScheduleWeek, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.weeks[owner]
	if !ok {
		return model.ScheduleWeek{}, false, nil
	}
	w.DayIDs = cloneIDs(w.DayIDs)
	return w, true, nil
}

func (m *Memory) PutWeek(_ context.Context, week model.ScheduleWeek) error {
	week.DayIDs = cloneIDs(week.DayIDs)
	m.mu.Lock()
	m.weeks[week.Owner] = week
	m.mu.Unlock()
	return nil
}

func (m *Memory) PutDays(_ context.Context, days []model.ScheduleDay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range days {
		d.LessonIDs = cloneIDs(d.LessonIDs)
		m.days[d.ID] = d
	}
	return nil
}

func (m *Memory) GetDaysByIDs(_ context.Context, ids []int64) ([]model.ScheduleDay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.ScheduleDay, 0, len(ids))
	for _, id := range ids {
		if d, ok := m.days[id]; ok {
			d.LessonIDs = cloneIDs(d.LessonIDs)
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *Memory) PutLessons(_ context.Context, lessons []model.Lesson) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range lessons {
		l.GroupNames = cloneStrings(l.GroupNames)
		m.lessons[l.ID] = l
	}
	return nil
}

func (m *Memory) GetLessonsByIDs(_ context.Context, ids []int64) ([]model.Lesson, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Lesson, 0, len(ids))
	for _, id := range ids {
		if l, ok := m.lessons[id]; ok {
			l.GroupNames = cloneStrings(l.GroupNames)
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *Memory) PutOwners(_ context.Context, owners []model.Owner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range owners {
		if prev, ok := m.owners[o.Key()]; ok {
			o.IsPicked = prev.IsPicked
		}
		m.owners[o.Key()] = o
	}
	return nil
}

func (m *Memory) ListOwners(_ context.Context, kind model.OwnerKind) ([]model.Owner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Owner, 0)
	for _, o := range m.owners {
		if o.Kind == kind {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) ClearPicked(_ context.Context, kind model.OwnerKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, o := range m.owners {
		if o.Kind == kind && o.IsPicked {
			o.IsPicked = false
			m.owners[k] = o
		}
	}
	return nil
}

func (m *Memory) SetPicked(_ context.Context, owner model.OwnerKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.owners[owner]
	if !ok {
		return fmt.Errorf("%w: owner %s", ErrNotFound, owner)
	}
	o.IsPicked = true
	m.owners[owner] = o
	return nil
}

func (m *Memory) PickedOwner(_ context.Context, kind model.OwnerKind) (model.Owner, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		picked model.Owner
		found  bool
	)
	for _, o := range m.owners {
		if o.Kind == kind && o.IsPicked && (!found || o.ID < picked.ID) {
			picked, found = o, true
		}
	}
	return picked, found, nil
}

// inOrder lays found rows out in the order of ids, skipping missing ones.
func inOrder[T any](ids []int64, found map[int64]T) []T {
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		if row, ok := found[id]; ok {
			out = append(out, row)
		}
	}
	return out
}

func cloneIDs(ids []int64) []int64 {
	if ids == nil {
		return nil
	}
	out := make([]int64, len(ids))
	copy(out, ids)
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
