// Package refresh drives schedule syncs: on demand with concurrent callers
// coalesced per owner and week, and in the background on a cron schedule.
// At most one sync per owner runs at a time.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	appLog "timetable/internal/log"
	"timetable/internal/model"
	"timetable/internal/schedule"
	"timetable/internal/week"
)

const jobTimeout = 4 * time.Minute

// Scheduler is the schedule service the refresher drives.
type Scheduler interface {
	GetSchedule(ctx context.Context, owner model.OwnerKey, date model.Date, forceRefresh bool) (schedule.Result, error)
}

// Picker reports the picked owner of a kind.
type Picker interface {
	Picked(ctx context.Context, kind model.OwnerKind) (model.Owner, bool, error)
}

type Refresher struct {
	sched  Scheduler
	picker Picker
	loc    *time.Location
	group  singleflight.Group

	ownersMu sync.Mutex
	owners   map[model.OwnerKey]*sync.Mutex

	mu   sync.Mutex
	cron *cron.Cron
}

// New returns a Refresher. loc decides what "today" is for background
// runs; nil means UTC.
func New(sched Scheduler, picker Picker, loc *time.Location) *Refresher {
	if loc == nil {
		loc = time.UTC
	}
	return &Refresher{
		sched:  sched,
		picker: picker,
		loc:    loc,
		owners: make(map[model.OwnerKey]*sync.Mutex),
	}
}

// Refresh returns owner's schedule for the week containing date. Callers
// asking for the same owner and week while a refresh is running share its
// result; refreshes of other weeks of that owner wait for it to finish.
//
// The sync itself is not tied to ctx: a caller that gives up returns
// ctx.Err() while the sync completes for everyone else.
func (r *Refresher) Refresh(ctx context.Context, owner model.OwnerKey, date model.Date, force bool) (schedule.Result, error) {
	key := fmt.Sprintf("%s@%s/%t", owner, week.MondayOf(date), force)
	syncCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (any, error) {
		unlock := r.lockOwner(owner)
		defer unlock()
		return r.sched.GetSchedule(syncCtx, owner, date, force)
	})

	select {
	case <-ctx.Done():
		appLog.Debug("refresh abandoned by caller", "owner", owner, "date", date, "err", ctx.Err())
		return schedule.Result{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			appLog.Debug("refresh coalesced", "owner", owner, "date", date)
		}
		if res.Err != nil {
			return schedule.Result{}, res.Err
		}
		return res.Val.(schedule.Result), nil
	}
}

func (r *Refresher) lockOwner(owner model.OwnerKey) func() {
	r.ownersMu.Lock()
	m, ok := r.owners[owner]
	if !ok {
		m = &sync.Mutex{}
		r.owners[owner] = m
	}
	r.ownersMu.Unlock()
	m.Lock()
	return m.Unlock
}

// RefreshPicked force-refreshes the picked group and the picked teacher
// concurrently. A kind without a picked owner is skipped. A failure of one
// kind does not stop the other; all failures are returned joined.
func (r *Refresher) RefreshPicked(ctx context.Context, date model.Date) ([]schedule.Result, error) {
	results := make([]*schedule.Result, len(model.OwnerKinds))
	errs := make([]error, len(model.OwnerKinds))

	var g errgroup.Group
	for i, kind := range model.OwnerKinds {
		g.Go(func() error {
			owner, ok, err := r.picker.Picked(ctx, kind)
			if err != nil {
				errs[i] = fmt.Errorf("refresh: picked %s: %w", kind, err)
				return nil
			}
			if !ok {
				appLog.Debug("no picked owner, skipping refresh", "kind", kind)
				return nil
			}
			res, err := r.Refresh(ctx, owner.Key(), date, true)
			if err != nil {
				errs[i] = fmt.Errorf("refresh: %s: %w", owner.Key(), err)
				return nil
			}
			results[i] = &res
			return nil
		})
	}
	_ = g.Wait()

	out := make([]schedule.Result, 0, len(results))
	for _, res := range results {
		if res != nil {
			out = append(out, *res)
		}
	}
	return out, errors.Join(errs...)
}

// Today is the current date in the refresher's location.
func (r *Refresher) Today() model.Date {
	return model.DateOf(time.Now().In(r.loc))
}

// Start runs RefreshPicked for today on the given cron schedule
// (five-field, evaluated in the refresher's location). A run still going
// when the next one is due makes that one skip.
func (r *Refresher) Start(expr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return errors.New("refresh: already started")
	}

	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(r.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(expr, r.runJob); err != nil {
		return fmt.Errorf("refresh: schedule %q: %w", expr, err)
	}
	c.Start()
	r.cron = c
	appLog.Info("background refresh started", "schedule", expr, "timezone", r.loc.String())
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	appLog.Info("background refresh stopped")
}

func (r *Refresher) runJob() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	today := r.Today()
	results, err := r.RefreshPicked(ctx, today)
	if err != nil {
		appLog.Error("background refresh failed", err, "date", today)
	}
	stale := 0
	for _, res := range results {
		if res.Stale {
			stale++
		}
	}
	appLog.Info("background refresh done", "date", today, "owners", len(results), "stale", stale, "took", time.Since(start))
}

// cronLogger routes cron's own messages to the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
