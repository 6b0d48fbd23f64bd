package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"timetable/internal/model"
	"timetable/internal/schedule"
)

type slowScheduler struct {
	calls    atomic.Int32
	release  chan struct{}
	failFor  map[model.OwnerKind]error
	canceled atomic.Bool
}

func (s *slowScheduler) GetSchedule(ctx context.Context, owner model.OwnerKey, date model.Date, force bool) (schedule.Result, error) {
	s.calls.Add(1)
	if s.release != nil {
		<-s.release
	}
	if ctx.Err() != nil {
		s.canceled.Store(true)
	}
	if err := s.failFor[owner.Kind]; err != nil {
		return schedule.Result{}, err
	}
	return schedule.Result{Owner: owner, Found: true, Monday: date, Source: schedule.SourceRemote}, nil
}

type fixedPicker map[model.OwnerKind]model.Owner

func (p fixedPicker) Picked(_ context.Context, kind model.OwnerKind) (model.Owner, bool, error) {
	o, ok := p[kind]
	return o, ok, nil
}

var (
	group12   = model.OwnerKey{Kind: model.OwnerGroup, ID: 12}
	wednesday = model.NewDate(2023, time.March, 22)
)

func TestRefreshCoalescesConcurrentCallers(t *testing.T) {
	sched := &slowScheduler{release: make(chan struct{})}
	r := New(sched, fixedPicker{}, nil)

	const callers = 8
	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
	)
	results := make([]schedule.Result, callers)
	started.Add(callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			// Any day of the same week shares the flight.
			res, err := r.Refresh(context.Background(), group12, wednesday.AddDays(i%3), false)
			if err != nil {
				t.Error(err)
			}
			results[i] = res
		}()
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(sched.release)
	wg.Wait()

	if n := sched.calls.Load(); n != 1 {
		t.Errorf("scheduler called %d times, want 1", n)
	}
	for i, res := range results {
		if res.Owner != group12 {
			t.Errorf("caller %d got %+v", i, res)
		}
	}
}

func TestRefreshDifferentOwnersRunSeparately(t *testing.T) {
	sched := &slowScheduler{}
	r := New(sched, fixedPicker{}, nil)
	ctx := context.Background()
	if _, err := r.Refresh(ctx, group12, wednesday, false); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Refresh(ctx, model.OwnerKey{Kind: model.OwnerTeacher, ID: 12}, wednesday, false); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Refresh(ctx, group12, wednesday.AddDays(7), false); err != nil {
		t.Fatal(err)
	}
	if n := sched.calls.Load(); n != 3 {
		t.Errorf("scheduler called %d times, want 3", n)
	}
}

// overlapScheduler records how many syncs of one owner run at once.
type overlapScheduler struct {
	mu       sync.Mutex
	inFlight map[model.OwnerKey]int
	peak     map[model.OwnerKey]int
}

func (s *overlapScheduler) GetSchedule(_ context.Context, owner model.OwnerKey, date model.Date, _ bool) (schedule.Result, error) {
	s.mu.Lock()
	s.inFlight[owner]++
	s.peak[owner] = max(s.peak[owner], s.inFlight[owner])
	s.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	s.mu.Lock()
	s.inFlight[owner]--
	s.mu.Unlock()
	return schedule.Result{Owner: owner, Found: true, Monday: date}, nil
}

func TestRefreshSerializesSyncsOfOneOwner(t *testing.T) {
	sched := &overlapScheduler{inFlight: map[model.OwnerKey]int{}, peak: map[model.OwnerKey]int{}}
	r := New(sched, fixedPicker{}, nil)
	teacher7 := model.OwnerKey{Kind: model.OwnerTeacher, ID: 7}

	calls := []struct {
		owner model.OwnerKey
		date  model.Date
		force bool
	}{
		{group12, wednesday, true},
		{group12, wednesday, false},
		{group12, wednesday.AddDays(7), false},
		{group12, wednesday.AddDays(-7), true},
		{teacher7, wednesday, true},
		{teacher7, wednesday.AddDays(7), false},
	}
	var wg sync.WaitGroup
	for _, c := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Refresh(context.Background(), c.owner, c.date, c.force); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	for owner, peak := range sched.peak {
		if peak != 1 {
			t.Errorf("%s: %d syncs ran at once", owner, peak)
		}
	}
}

func TestRefreshCallerCancelDoesNotFailOthers(t *testing.T) {
	sched := &slowScheduler{release: make(chan struct{})}
	r := New(sched, fixedPicker{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Refresh(ctx, group12, wednesday, false)
		firstErr <- err
	}()
	for sched.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	second := make(chan schedule.Result, 1)
	go func() {
		res, err := r.Refresh(context.Background(), group12, wednesday, false)
		if err != nil {
			t.Error(err)
		}
		second <- res
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("first caller: want context.Canceled, got %v", err)
	}

	close(sched.release)
	if res := <-second; res.Owner != group12 || !res.Found {
		t.Errorf("second caller got %+v", res)
	}
	if n := sched.calls.Load(); n != 1 {
		t.Errorf("scheduler called %d times, want 1", n)
	}
	if sched.canceled.Load() {
		t.Error("sync saw the first caller's cancellation")
	}
}

func TestRefreshPicked(t *testing.T) {
	picker := fixedPicker{
		model.OwnerGroup:   {Kind: model.OwnerGroup, ID: 12, Name: "A-1", IsPicked: true},
		model.OwnerTeacher: {Kind: model.OwnerTeacher, ID: 7, Name: "Ivanova A.", IsPicked: true},
	}
	sched := &slowScheduler{}
	r := New(sched, picker, nil)

	results, err := r.RefreshPicked(context.Background(), wednesday)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].Owner != group12 || results[1].Owner.Kind != model.OwnerTeacher {
		t.Errorf("results = %+v", results)
	}
}

func TestRefreshPickedFailuresAreIndependent(t *testing.T) {
	picker := fixedPicker{
		model.OwnerGroup:   {Kind: model.OwnerGroup, ID: 12},
		model.OwnerTeacher: {Kind: model.OwnerTeacher, ID: 7},
	}
	cacheDown := errors.New("disk full")
	sched := &slowScheduler{failFor: map[model.OwnerKind]error{model.OwnerTeacher: cacheDown}}
	r := New(sched, picker, nil)

	results, err := r.RefreshPicked(context.Background(), wednesday)
	if !errors.Is(err, cacheDown) {
		t.Fatalf("want joined cache error, got %v", err)
	}
	if len(results) != 1 || results[0].Owner != group12 {
		t.Errorf("results = %+v", results)
	}
}

func TestRefreshPickedWithoutPicks(t *testing.T) {
	sched := &slowScheduler{}
	r := New(sched, fixedPicker{}, nil)
	results, err := r.RefreshPicked(context.Background(), wednesday)
	if err != nil || len(results) != 0 || sched.calls.Load() != 0 {
		t.Errorf("results %+v err %v calls %d", results, err, sched.calls.Load())
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	r := New(&slowScheduler{}, fixedPicker{}, nil)
	if err := r.Start("every now and then"); err == nil {
		r.Stop()
		t.Fatal("expected error")
	}
}

func TestStartStop(t *testing.T) {
	r := New(&slowScheduler{}, fixedPicker{}, time.UTC)
	if err := r.Start("*/30 * * * *"); err != nil {
		t.Fatal(err)
	}
	if err := r.Start("*/30 * * * *"); err == nil {
		t.Error("second Start should fail")
	}
	r.Stop()
	r.Stop()
	if err := r.Start("0 6 * * 1-6"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	r.Stop()
}

func TestToday(t *testing.T) {
	loc := time.FixedZone("UTC+14", 14*3600)
	r := New(&slowScheduler{}, fixedPicker{}, loc)
	want := model.DateOf(time.Now().In(loc))
	if got := r.Today(); got != want && got != want.AddDays(1) {
		t.Errorf("Today = %s, want %s", got, want)
	}
}
