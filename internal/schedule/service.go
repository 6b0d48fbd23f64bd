// Package schedule bridges the remote timetable provider and the offline
// cache: it fetches an owner's week, assigns cache ids, writes it through
// and serves reads from the cache.
package schedule

import (
	"context"
	"errors"
	"fmt"

	"timetable/internal/identity"
	appLog "timetable/internal/log"
	"timetable/internal/model"
	"timetable/internal/week"
)

var (
	// ErrRemoteUnavailable wraps any provider failure. Nothing is written
	// to the cache when it is returned.
	ErrRemoteUnavailable = errors.New("schedule: remote unavailable")
	// ErrCacheUnavailable wraps any failure of the underlying row store.
	ErrCacheUnavailable = errors.New("schedule: cache unavailable")
)

// Provider is the remote source of schedules.
type Provider interface {
	FetchSchedule(ctx context.Context, owner model.OwnerKey, date model.Date) (model.RawSchedule, error)
	FetchWeekOddness(ctx context.Context, owner model.OwnerKey, date model.Date) (bool, error)
}

// WeekFetcher is implemented by providers that read a week's lessons and
// its oddness from a single response. The service prefers it over the two
// separate Provider calls.
type WeekFetcher interface {
	FetchWeek(ctx context.Context, owner model.OwnerKey, date model.Date) (model.RawSchedule, bool, error)
}

// Cache is the row store the service writes through.
type Cache interface {
	GetWeek(ctx context.Context, owner model.OwnerKey) (model.ScheduleWeek, bool, error)
	PutWeek(ctx context.Context, week model.ScheduleWeek) error
	PutDays(ctx context.Context, days []model.ScheduleDay) error
	GetDaysByIDs(ctx context.Context, ids []int64) ([]model.ScheduleDay, error)
	PutLessons(ctx context.Context, lessons []model.Lesson) error
	GetLessonsByIDs(ctx context.Context, ids []int64) ([]model.Lesson, error)
}

// Source tells where a Result came from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceCache  Source = "cache"
	SourceNone   Source = "none"
)

// Result is what GetSchedule hands to the view layer.
type Result struct {
	Owner model.OwnerKey
	// Found is false when the owner has never been synced; Schedule is
	// then empty and IsOdd/Monday carry no meaning.
	Found    bool
	IsOdd    bool
	Monday   model.Date
	Schedule model.Schedule
	// Stale is set when a refresh was attempted and failed, so the data
	// shown is whatever the cache held before.
	Stale  bool
	Source Source
}

type Service struct {
	provider Provider
	cache    Cache
}

func NewService(p Provider, c Cache) *Service {
	return &Service{provider: p, cache: c}
}

// FetchAndStore fetches the week containing date for owner and replaces the
// owner's cached week with it. Lessons are written first, then days, then
// the week record, and only after the remote reads have succeeded. Once
// writing starts it runs to the end even if ctx is canceled.
func (s *Service) FetchAndStore(ctx context.Context, owner model.OwnerKey, date model.Date) (model.Schedule, error) {
	_, sched, err := s.fetchAndStore(ctx, owner, date)
	return sched, err
}

func (s *Service) fetchAndStore(ctx context.Context, owner model.OwnerKey, date model.Date) (model.ScheduleWeek, model.Schedule, error) {
	if !owner.Kind.Valid() {
		return model.ScheduleWeek{}, nil, fmt.Errorf("%w: %q", model.ErrUnknownOwnerKind, owner.Kind)
	}
	if _, err := identity.DayID(owner.Kind, owner.ID, model.Monday); err != nil {
		return model.ScheduleWeek{}, nil, err
	}

	raw, isOdd, err := s.fetchRemote(ctx, owner, date)
	if err != nil {
		return model.ScheduleWeek{}, nil, err
	}

	wk := model.ScheduleWeek{Owner: owner, IsOdd: isOdd, Monday: week.MondayOf(date)}
	days := make([]model.ScheduleDay, 0, len(raw))
	lessons := make([]model.Lesson, 0)
	sched := make(model.Schedule, len(raw))

	counter := 0
	for _, wd := range model.WeekDays {
		rawLessons, ok := raw[wd]
		if !ok {
			continue
		}
		dayID, err := identity.DayID(owner.Kind, owner.ID, wd)
		if err != nil {
			return model.ScheduleWeek{}, nil, err
		}
		day := model.ScheduleDay{ID: dayID, WeekDay: wd, LessonIDs: make([]int64, 0, len(rawLessons))}
		dayLessons := make([]model.Lesson, 0, len(rawLessons))
		for _, rl := range rawLessons {
			id, err := identity.LessonID(owner.Kind, owner.ID, counter)
			if err != nil {
				return model.ScheduleWeek{}, nil, err
			}
			counter++
			l := rl.WithID(id)
			day.LessonIDs = append(day.LessonIDs, id)
			dayLessons = append(dayLessons, l)
		}
		lessons = append(lessons, dayLessons...)
		days = append(days, day)
		wk.DayIDs = append(wk.DayIDs, day.ID)
		sched[wd] = dayLessons
	}

	// Old day rows must never point at reused lesson ids: once lessons are
	// written, days and week follow regardless of ctx.
	wctx := context.WithoutCancel(ctx)
	if err := s.cache.PutLessons(wctx, lessons); err != nil {
		return model.ScheduleWeek{}, nil, fmt.Errorf("%w: put lessons of %s: %w", ErrCacheUnavailable, owner, err)
	}
	if err := s.cache.PutDays(wctx, days); err != nil {
		return model.ScheduleWeek{}, nil, fmt.Errorf("%w: put days of %s: %w", ErrCacheUnavailable, owner, err)
	}
	if err := s.cache.PutWeek(wctx, wk); err != nil {
		return model.ScheduleWeek{}, nil, fmt.Errorf("%w: put week of %s: %w", ErrCacheUnavailable, owner, err)
	}

	appLog.Info("schedule synced",
		"owner", owner,
		"monday", wk.Monday,
		"odd", wk.IsOdd,
		"days", len(days),
		"lessons", len(lessons),
	)
	return wk, sched, nil
}

func (s *Service) fetchRemote(ctx context.Context, owner model.OwnerKey, date model.Date) (model.RawSchedule, bool, error) {
	if wf, ok := s.provider.(WeekFetcher); ok {
		raw, isOdd, err := wf.FetchWeek(ctx, owner, date)
		if err != nil {
			return nil, false, fmt.Errorf("%w: fetch week of %s: %w", ErrRemoteUnavailable, owner, err)
		}
		return raw, isOdd, nil
	}

	raw, err := s.provider.FetchSchedule(ctx, owner, date)
	if err != nil {
		return nil, false, fmt.Errorf("%w: fetch schedule of %s: %w", ErrRemoteUnavailable, owner, err)
	}
	isOdd, err := s.provider.FetchWeekOddness(ctx, owner, date)
	if err != nil {
		return nil, false, fmt.Errorf("%w: fetch week oddness of %s: %w", ErrRemoteUnavailable, owner, err)
	}
	return raw, isOdd, nil
}

// ReadCached rebuilds the owner's last synced schedule from the cache. An
// owner that was never synced yields an empty schedule and no error.
func (s *Service) ReadCached(ctx context.Context, owner model.OwnerKey) (model.Schedule, error) {
	_, sched, _, err := s.readCached(ctx, owner)
	return sched, err
}

func (s *Service) readCached(ctx context.Context, owner model.OwnerKey) (model.ScheduleWeek, model.Schedule, bool, error) {
	wk, found, err := s.cache.GetWeek(ctx, owner)
	if err != nil {
		return model.ScheduleWeek{}, nil, false, fmt.Errorf("%w: get week of %s: %w", ErrCacheUnavailable, owner, err)
	}
	if !found {
		return model.ScheduleWeek{}, model.Schedule{}, false, nil
	}

	days, err := s.cache.GetDaysByIDs(ctx, wk.DayIDs)
	if err != nil {
		return model.ScheduleWeek{}, nil, false, fmt.Errorf("%w: get days of %s: %w", ErrCacheUnavailable, owner, err)
	}

	var lessonIDs []int64
	for _, d := range days {
		lessonIDs = append(lessonIDs, d.LessonIDs...)
	}
	lessons, err := s.cache.GetLessonsByIDs(ctx, lessonIDs)
	if err != nil {
		return model.ScheduleWeek{}, nil, false, fmt.Errorf("%w: get lessons of %s: %w", ErrCacheUnavailable, owner, err)
	}
	byID := make(map[int64]model.Lesson, len(lessons))
	for _, l := range lessons {
		byID[l.ID] = l
	}

	sched := make(model.Schedule, len(days))
	for _, d := range days {
		if !d.WeekDay.Valid() {
			appLog.Warn("cached day with invalid weekday skipped", "owner", owner, "day_id", d.ID, "weekday", int(d.WeekDay))
			continue
		}
		dayLessons := make([]model.Lesson, 0, len(d.LessonIDs))
		for _, id := range d.LessonIDs {
			if l, ok := byID[id]; ok {
				dayLessons = append(dayLessons, l)
			}
		}
		sched[d.WeekDay] = dayLessons
	}
	return wk, sched, true, nil
}

// WeekOddness reports the cached week's oddness. ok is false when the owner
// has no cached week.
func (s *Service) WeekOddness(ctx context.Context, owner model.OwnerKey) (isOdd, ok bool, err error) {
	wk, found, err := s.cache.GetWeek(ctx, owner)
	if err != nil {
		return false, false, fmt.Errorf("%w: get week of %s: %w", ErrCacheUnavailable, owner, err)
	}
	return wk.IsOdd, found, nil
}

// MondayDate returns the Monday of the cached week. ok is false when the
// owner has no cached week.
func (s *Service) MondayDate(ctx context.Context, owner model.OwnerKey) (model.Date, bool, error) {
	wk, found, err := s.cache.GetWeek(ctx, owner)
	if err != nil {
		return model.Date{}, false, fmt.Errorf("%w: get week of %s: %w", ErrCacheUnavailable, owner, err)
	}
	return wk.Monday, found, nil
}

// GetSchedule returns the owner's schedule for the week containing date.
//
// Without forceRefresh the cache answers when it holds that very week.
// Otherwise the week is fetched; if the provider fails, whatever the cache
// holds is returned marked Stale. Only cache failures are returned as errors.
func (s *Service) GetSchedule(ctx context.Context, owner model.OwnerKey, date model.Date, forceRefresh bool) (Result, error) {
	monday := week.MondayOf(date)

	if !forceRefresh {
		wk, sched, found, err := s.readCached(ctx, owner)
		if err != nil {
			return Result{}, err
		}
		if found && wk.Monday == monday {
			return cachedResult(owner, wk, sched, true, false), nil
		}
	}

	wk, sched, err := s.fetchAndStore(ctx, owner, date)
	if err == nil {
		return Result{
			Owner:    owner,
			Found:    true,
			IsOdd:    wk.IsOdd,
			Monday:   wk.Monday,
			Schedule: sched,
			Source:   SourceRemote,
		}, nil
	}
	if !errors.Is(err, ErrRemoteUnavailable) {
		return Result{}, err
	}

	appLog.Warn("remote schedule unavailable, serving cache", "owner", owner, "date", date, "err", err)
	wk, sched, found, cerr := s.readCached(ctx, owner)
	if cerr != nil {
		return Result{}, cerr
	}
	return cachedResult(owner, wk, sched, found, true), nil
}

func cachedResult(owner model.OwnerKey, wk model.ScheduleWeek, sched model.Schedule, found, stale bool) Result {
	r := Result{Owner: owner, Found: found, Schedule: sched, Stale: stale, Source: SourceNone}
	if found {
		r.IsOdd = wk.IsOdd
		r.Monday = wk.Monday
		r.Source = SourceCache
	}
	if r.Schedule == nil {
		r.Schedule = model.Schedule{}
	}
	return r
}
