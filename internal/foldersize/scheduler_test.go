package foldersize

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/goleak"

	"github.com/sydlexius/bucketscope/internal/event"
	"github.com/sydlexius/bucketscope/internal/scanner"
	"github.com/sydlexius/bucketscope/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type bucketSet map[string]bool

func (b bucketSet) HasBucket(id string) bool { return b[id] }

// memLister returns all objects whose key has the prefix in a single page.
type memLister struct {
	objects []storage.Object
}

func (l memLister) ListPage(_ context.Context, prefix, _ string, _ int) (storage.Page, error) {
	var page storage.Page
	for _, o := range l.objects {
		if len(o.Key) >= len(prefix) && o.Key[:len(prefix)] == prefix {
			page.Objects = append(page.Objects, o)
		}
	}
	return page, nil
}

type memSource struct{ lister storage.Lister }

func (s memSource) Lister(context.Context, string) (storage.Lister, error) { return s.lister, nil }

func fixtureScanner() *scanner.Scanner {
	return scanner.New(memSource{lister: memLister{objects: []storage.Object{
		{Key: "a/1", Size: 10},
		{Key: "a/2", Size: 20},
		{Key: "a/x/", Size: 0},
		{Key: "b/1", Size: 99},
	}}}, testLogger())
}

type finish struct {
	p   scanner.Progress
	err error
}

// gatedComputer runs until the test sends a finish value or the job is
// canceled. Progress sent on steps is reported as intermediate snapshots.
type gatedComputer struct {
	steps    chan scanner.Progress
	finishes chan finish
	running  chan string
}

func newGatedComputer() *gatedComputer {
	return &gatedComputer{
		steps:    make(chan scanner.Progress),
		finishes: make(chan finish),
		running:  make(chan string, 16),
	}
}

func (g *gatedComputer) Compute(ctx context.Context, req scanner.Request) (scanner.Result, error) {
	g.running <- req.Prefix
	tick := time.NewTicker(2 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return scanner.Result{Outcome: scanner.OutcomeCanceled}, nil
		case <-tick.C:
			if req.Cancelled() {
				return scanner.Result{Outcome: scanner.OutcomeCanceled}, nil
			}
		case p := <-g.steps:
			req.OnProgress(p)
		case f := <-g.finishes:
			if f.err != nil {
				return scanner.Result{}, f.err
			}
			f.p.Finished = true
			req.OnProgress(f.p)
			outcome := scanner.OutcomeCompleted
			if f.p.Partial {
				outcome = scanner.OutcomePartial
			}
			return scanner.Result{Progress: f.p, Outcome: outcome}, nil
		}
	}
}

func (g *gatedComputer) waitRunning(t *testing.T) {
	t.Helper()
	select {
	case <-g.running:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job to start")
	}
}

// recorder is a listener that stores every event it receives.
type recorder struct {
	mu       sync.Mutex
	events   []Event
	terminal chan struct{}
	once     sync.Once
}

func newRecorder() *recorder {
	return &recorder{terminal: make(chan struct{})}
}

func (r *recorder) listen(e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	if e.Terminal() {
		r.once.Do(func() { close(r.terminal) })
	}
	return nil
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) waitTerminal(t *testing.T) {
	t.Helper()
	select {
	case <-r.terminal:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal event")
	}
}

func newTestScheduler(t *testing.T, cfg Config, c Computer, opts ...Option) *Scheduler {
	t.Helper()
	s := New(cfg, c, bucketSet{"b1": true, "b2": true}, testLogger(), opts...)
	t.Cleanup(s.Shutdown)
	return s
}

func waitForStatus(t *testing.T, s *Scheduler, bucketID, jobID string, want Status) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := s.Get(bucketID, jobID)
		if err != nil {
			t.Fatalf("Get(%s): %v", jobID, err)
		}
		if snap.Status == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, _ := s.Get(bucketID, jobID)
	t.Fatalf("job %s status = %s, want %s", jobID, snap.Status, want)
	return Snapshot{}
}

func waitForObjects(t *testing.T, s *Scheduler, bucketID, jobID string, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap, _ := s.Get(bucketID, jobID); snap.ObjectsScanned == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %d objects", jobID, want)
}

var statusRank = map[Status]int{
	StatusQueued:    0,
	StatusRunning:   1,
	StatusCompleted: 2,
	StatusFailed:    2,
	StatusCanceled:  2,
}

func TestStart_CompletesWithFixture(t *testing.T) {
	s := newTestScheduler(t, Config{}, fixtureScanner())

	res, err := s.Start("b1", "a")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Job.Prefix != "a/" {
		t.Errorf("prefix = %q, want a/", res.Job.Prefix)
	}
	if res.SubscriptionPath != "/api/ws/folder-size/"+res.JobID {
		t.Errorf("subscription path = %q", res.SubscriptionPath)
	}

	snap := waitForStatus(t, s, "b1", res.JobID, StatusCompleted)
	if snap.ObjectsScanned != 2 {
		t.Errorf("objectsScanned = %d, want 2", snap.ObjectsScanned)
	}
	if snap.TotalSizeBytes != 30 {
		t.Errorf("totalSizeBytes = %d, want 30", snap.TotalSizeBytes)
	}
	if snap.Partial || snap.PartialReason != nil || snap.Message != nil {
		t.Errorf("unexpected partial state: %+v", snap)
	}
	if snap.StartedAt == nil || snap.FinishedAt == nil {
		t.Error("expected startedAt and finishedAt to be set")
	}
}

func TestStart_ResponseIsQueued(t *testing.T) {
	s := newTestScheduler(t, Config{Parallelism: 4}, fixtureScanner())

	// Fixture scans finish almost at once, so a snapshot taken after the
	// worker starts would often be RUNNING or COMPLETED.
	for range 50 {
		res, err := s.Start("b1", "a/")
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if res.Job.Status != StatusQueued {
			t.Fatalf("launch snapshot status = %s, want QUEUED", res.Job.Status)
		}
		if res.Job.StartedAt != nil || res.Job.ObjectsScanned != 0 {
			t.Fatalf("launch snapshot has run state: %+v", res.Job)
		}
	}
}

func TestStart_UnknownBucket(t *testing.T) {
	s := newTestScheduler(t, Config{}, fixtureScanner())
	if _, err := s.Start("nope", "a/"); !errors.Is(err, ErrBucketNotFound) {
		t.Errorf("err = %v, want ErrBucketNotFound", err)
	}
}

func TestStart_MaxObjectsPartial(t *testing.T) {
	s := newTestScheduler(t, Config{Limits: scanner.Limits{MaxObjects: 1}}, fixtureScanner())
	res, err := s.Start("b1", "a/")
	if err != nil {
		t.Fatal(err)
	}

	snap := waitForStatus(t, s, "b1", res.JobID, StatusCompleted)
	if !snap.Partial {
		t.Fatal("expected partial result")
	}
	if snap.PartialReason == nil || *snap.PartialReason != scanner.ReasonMaxObjects {
		t.Errorf("partialReason = %v, want max-objects", snap.PartialReason)
	}
	if snap.ObjectsScanned != 1 {
		t.Errorf("objectsScanned = %d, want 1", snap.ObjectsScanned)
	}
	if snap.Message == nil || *snap.Message != "Stopped after hitting max-objects cap" {
		t.Errorf("message = %v", snap.Message)
	}

	rec := newRecorder()
	if _, err := s.AttachListener(res.JobID, "late", rec.listen); err != nil {
		t.Fatal(err)
	}
	events := rec.snapshot()
	if len(events) != 1 || events[0].Type != EventSnapshot {
		t.Fatalf("late listener got %v, want one SNAPSHOT", events)
	}
}

func TestStart_PartialEventAndNoDuplicateProgress(t *testing.T) {
	g := newGatedComputer()
	s := newTestScheduler(t, Config{}, g)
	res, _ := s.Start("b1", "a/")
	g.waitRunning(t)

	rec := newRecorder()
	if _, err := s.AttachListener(res.JobID, "l1", rec.listen); err != nil {
		t.Fatal(err)
	}
	g.steps <- scanner.Progress{ObjectsScanned: 1}
	g.finishes <- finish{p: scanner.Progress{ObjectsScanned: 2, Partial: true, PartialReason: scanner.ReasonMaxRuntime}}
	rec.waitTerminal(t)

	var types []EventType
	for _, e := range rec.snapshot() {
		types = append(types, e.Type)
	}
	want := []EventType{EventSnapshot, EventProgress, EventPartial}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, types[i], want[i])
		}
	}
	last := rec.snapshot()[2].Job
	if last.Message == nil || *last.Message != "Stopped after hitting max-runtime cap" {
		t.Errorf("message = %v", last.Message)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestScheduler(t, Config{}, fixtureScanner())
	res, _ := s.Start("b1", "a/")

	if _, err := s.Get("b1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown job: err = %v, want ErrNotFound", err)
	}
	if _, err := s.Get("b2", res.JobID); !errors.Is(err, ErrNotFound) {
		t.Errorf("bucket mismatch: err = %v, want ErrNotFound", err)
	}
	if _, err := s.Cancel("b2", res.JobID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cancel bucket mismatch: err = %v, want ErrNotFound", err)
	}
	if _, err := s.CancelByID("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cancel unknown: err = %v, want ErrNotFound", err)
	}
	if _, err := s.AttachListener("missing", "l", newRecorder().listen); !errors.Is(err, ErrNotFound) {
		t.Errorf("attach unknown: err = %v, want ErrNotFound", err)
	}
	s.DetachListener("missing", "l")
}

func TestCancel_MidScan(t *testing.T) {
	g := newGatedComputer()
	s := newTestScheduler(t, Config{}, g)
	res, _ := s.Start("b1", "a/")
	g.waitRunning(t)

	rec := newRecorder()
	if _, err := s.AttachListener(res.JobID, "l1", rec.listen); err != nil {
		t.Fatal(err)
	}
	g.steps <- scanner.Progress{ObjectsScanned: 5, TotalSizeBytes: 50}
	waitForObjects(t, s, "b1", res.JobID, 5)

	snap, err := s.Cancel("b1", res.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != StatusCanceled {
		t.Fatalf("status = %s, want CANCELED", snap.Status)
	}
	if snap.Message == nil || *snap.Message != "Canceled" {
		t.Errorf("message = %v, want Canceled", snap.Message)
	}
	if snap.ObjectsScanned != 5 {
		t.Errorf("objectsScanned = %d, want 5", snap.ObjectsScanned)
	}
	rec.waitTerminal(t)

	// The worker observes cancellation and must not overwrite the state.
	s.Shutdown()
	final, _ := s.Get("b1", res.JobID)
	if final.Status != StatusCanceled {
		t.Errorf("final status = %s, want CANCELED", final.Status)
	}

	terminals := 0
	for _, e := range rec.snapshot() {
		if e.Type == EventCanceled {
			terminals++
		}
		if e.Type == EventCompleted || e.Type == EventFailed {
			t.Errorf("unexpected %s event", e.Type)
		}
	}
	if terminals != 1 {
		t.Errorf("got %d CANCELED events, want 1", terminals)
	}
}

func TestCancel_IdempotentAfterTerminal(t *testing.T) {
	s := newTestScheduler(t, Config{}, fixtureScanner())
	res, _ := s.Start("b1", "a/")
	done := waitForStatus(t, s, "b1", res.JobID, StatusCompleted)

	for range 2 {
		snap, err := s.Cancel("b1", res.JobID)
		if err != nil {
			t.Fatal(err)
		}
		if snap.Status != StatusCompleted {
			t.Errorf("status = %s, want COMPLETED", snap.Status)
		}
		if !snap.FinishedAt.Equal(*done.FinishedAt) {
			t.Error("finishedAt changed on cancel of finished job")
		}
	}
}

func TestCancel_WhileQueued(t *testing.T) {
	g := newGatedComputer()
	s := newTestScheduler(t, Config{Parallelism: 1}, g)

	first, _ := s.Start("b1", "first/")
	g.waitRunning(t)
	second, _ := s.Start("b1", "second/")

	snap, err := s.Cancel("b1", second.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != StatusCanceled || snap.StartedAt != nil {
		t.Errorf("queued cancel: status = %s startedAt = %v", snap.Status, snap.StartedAt)
	}

	g.finishes <- finish{p: scanner.Progress{ObjectsScanned: 1}}
	waitForStatus(t, s, "b1", first.JobID, StatusCompleted)
}

func TestParallelismBound(t *testing.T) {
	g := newGatedComputer()
	s := newTestScheduler(t, Config{Parallelism: 1}, g)

	first, _ := s.Start("b1", "first/")
	g.waitRunning(t)
	second, _ := s.Start("b1", "second/")

	time.Sleep(20 * time.Millisecond)
	if snap, _ := s.Get("b1", second.JobID); snap.Status != StatusQueued {
		t.Fatalf("second job status = %s, want QUEUED", snap.Status)
	}

	g.finishes <- finish{}
	waitForStatus(t, s, "b1", first.JobID, StatusCompleted)
	g.waitRunning(t)
	waitForStatus(t, s, "b1", second.JobID, StatusRunning)
	g.finishes <- finish{}
	waitForStatus(t, s, "b1", second.JobID, StatusCompleted)
}

func TestFailed_PreservesMessage(t *testing.T) {
	g := newGatedComputer()
	s := newTestScheduler(t, Config{}, g)
	res, _ := s.Start("b1", "a/")
	g.waitRunning(t)

	g.finishes <- finish{err: errors.New("listing page 1: access denied")}
	snap := waitForStatus(t, s, "b1", res.JobID, StatusFailed)
	if snap.Message == nil || *snap.Message != "listing page 1: access denied" {
		t.Errorf("message = %v", snap.Message)
	}
}

func TestTransitionsAreMonotonic(t *testing.T) {
	g := newGatedComputer()
	s := newTestScheduler(t, Config{}, g)
	res, _ := s.Start("b1", "a/")

	rec := newRecorder()
	if _, err := s.AttachListener(res.JobID, "l1", rec.listen); err != nil {
		t.Fatal(err)
	}
	g.waitRunning(t)
	g.steps <- scanner.Progress{ObjectsScanned: 1}
	g.steps <- scanner.Progress{ObjectsScanned: 2}
	g.finishes <- finish{p: scanner.Progress{ObjectsScanned: 3}}
	rec.waitTerminal(t)

	prev := -1
	for _, e := range rec.snapshot() {
		r := statusRank[e.Job.Status]
		if r < prev {
			t.Fatalf("status went backwards at %s: %s", e.Type, e.Job.Status)
		}
		prev = r
	}

	// Counters are frozen once terminal.
	final, _ := s.Get("b1", res.JobID)
	job, _ := s.lookup(res.JobID)
	s.onProgress(job, scanner.Progress{ObjectsScanned: 100})
	after, _ := s.Get("b1", res.JobID)
	if after.ObjectsScanned != final.ObjectsScanned {
		t.Errorf("counters changed after terminal: %d -> %d", final.ObjectsScanned, after.ObjectsScanned)
	}
}

func TestTwoListenersSeeSameSequence(t *testing.T) {
	g := newGatedComputer()
	s := newTestScheduler(t, Config{}, g)
	res, _ := s.Start("b1", "a/")
	g.waitRunning(t)
	waitForStatus(t, s, "b1", res.JobID, StatusRunning)

	a, b := newRecorder(), newRecorder()
	if _, err := s.AttachListener(res.JobID, "a", a.listen); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AttachListener(res.JobID, "b", b.listen); err != nil {
		t.Fatal(err)
	}

	for i := uint64(1); i <= 3; i++ {
		g.steps <- scanner.Progress{ObjectsScanned: i, TotalSizeBytes: i * 10}
	}
	g.finishes <- finish{p: scanner.Progress{ObjectsScanned: 4, TotalSizeBytes: 40}}
	a.waitTerminal(t)
	b.waitTerminal(t)

	ea, eb := a.snapshot(), b.snapshot()
	if len(ea) != len(eb) {
		t.Fatalf("listener a got %d events, b got %d", len(ea), len(eb))
	}
	for i := range ea {
		if ea[i].Type != eb[i].Type || ea[i].Job.ObjectsScanned != eb[i].Job.ObjectsScanned {
			t.Errorf("event %d differs: %s/%d vs %s/%d", i,
				ea[i].Type, ea[i].Job.ObjectsScanned, eb[i].Type, eb[i].Job.ObjectsScanned)
		}
	}
	want := []EventType{EventSnapshot, EventProgress, EventProgress, EventProgress, EventCompleted}
	for i, w := range want {
		if ea[i].Type != w {
			t.Errorf("event[%d] = %s, want %s", i, ea[i].Type, w)
		}
	}
	terminals := 0
	for _, e := range ea {
		if e.Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("got %d terminal events, want 1", terminals)
	}
}

func TestListenerFailureIsolated(t *testing.T) {
	g := newGatedComputer()
	s := newTestScheduler(t, Config{}, g)
	res, _ := s.Start("b1", "a/")
	g.waitRunning(t)

	erroring := func(Event) error { return errors.New("socket closed") }
	panicking := func(Event) error { panic("boom") }
	good := newRecorder()

	for id, l := range map[string]Listener{"err": erroring, "panic": panicking, "good": good.listen} {
		if _, err := s.AttachListener(res.JobID, id, l); err != nil {
			t.Fatal(err)
		}
	}
	g.steps <- scanner.Progress{ObjectsScanned: 1}
	g.finishes <- finish{p: scanner.Progress{ObjectsScanned: 2}}
	good.waitTerminal(t)

	events := good.snapshot()
	if len(events) != 3 {
		t.Fatalf("good listener got %d events, want 3", len(events))
	}
	snap, _ := s.Get("b1", res.JobID)
	if snap.Status != StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", snap.Status)
	}
}

func TestDetach_CancelOnDisconnect(t *testing.T) {
	g := newGatedComputer()
	s := newTestScheduler(t, Config{CancelOnDisconnect: true}, g)
	res, _ := s.Start("b1", "a/")
	g.waitRunning(t)

	if _, err := s.AttachListener(res.JobID, "a", newRecorder().listen); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AttachListener(res.JobID, "b", newRecorder().listen); err != nil {
		t.Fatal(err)
	}

	s.DetachListener(res.JobID, "a")
	time.Sleep(20 * time.Millisecond)
	if snap, _ := s.Get("b1", res.JobID); snap.Status != StatusRunning {
		t.Fatalf("status = %s after first detach, want RUNNING", snap.Status)
	}

	s.DetachListener(res.JobID, "b")
	waitForStatus(t, s, "b1", res.JobID, StatusCanceled)
}

func TestDetach_NoCancelWhenDisabled(t *testing.T) {
	g := newGatedComputer()
	s := newTestScheduler(t, Config{CancelOnDisconnect: false}, g)
	res, _ := s.Start("b1", "a/")
	g.waitRunning(t)

	if _, err := s.AttachListener(res.JobID, "a", newRecorder().listen); err != nil {
		t.Fatal(err)
	}
	s.DetachListener(res.JobID, "a")
	time.Sleep(20 * time.Millisecond)

	if snap, _ := s.Get("b1", res.JobID); snap.Status != StatusRunning {
		t.Fatalf("status = %s, want RUNNING", snap.Status)
	}
	g.finishes <- finish{}
	waitForStatus(t, s, "b1", res.JobID, StatusCompleted)
}

func TestRetentionSweep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	// The ticker stays idle so only the explicit sweep runs.
	s := newTestScheduler(t, Config{Retention: 10 * time.Minute, SweepInterval: time.Hour}, fixtureScanner(), WithClock(clock))

	old, _ := s.Start("b1", "a/")
	waitForStatus(t, s, "b1", old.JobID, StatusCompleted)

	clock.Advance(2 * time.Minute)
	recent, _ := s.Start("b1", "a/")
	waitForStatus(t, s, "b1", recent.JobID, StatusCompleted)

	clock.Advance(9 * time.Minute)
	if n := s.sweep(); n != 1 {
		t.Errorf("evicted %d jobs, want 1", n)
	}
	if _, err := s.Get("b1", old.JobID); !errors.Is(err, ErrNotFound) {
		t.Errorf("job finished 11m ago: err = %v, want ErrNotFound", err)
	}
	if _, err := s.Get("b1", recent.JobID); err != nil {
		t.Errorf("job finished 9m ago should remain: %v", err)
	}
}

func TestRetentionSweep_Ticker(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestScheduler(t, Config{Retention: time.Minute, SweepInterval: time.Minute}, fixtureScanner(), WithClock(clock))

	res, _ := s.Start("b1", "a/")
	waitForStatus(t, s, "b1", res.JobID, StatusCompleted)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("waiting for sweep ticker: %v", err)
	}
	clock.Advance(2 * time.Minute)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := s.Get("b1", res.JobID); errors.Is(err, ErrNotFound) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job was not evicted by the sweep ticker")
}

func TestRetention_RunningJobsKept(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := newGatedComputer()
	s := newTestScheduler(t, Config{}, g, WithClock(clock))
	res, _ := s.Start("b1", "a/")
	g.waitRunning(t)

	clock.Advance(time.Hour)
	if n := s.sweep(); n != 0 {
		t.Errorf("evicted %d jobs, want 0", n)
	}
	if _, err := s.Get("b1", res.JobID); err != nil {
		t.Errorf("running job evicted: %v", err)
	}
}

func TestShutdown_CancelsRunningJobs(t *testing.T) {
	g := newGatedComputer()
	s := New(Config{}, g, bucketSet{"b1": true}, testLogger())
	res, _ := s.Start("b1", "a/")
	g.waitRunning(t)

	s.Shutdown()
	snap, _ := s.Get("b1", res.JobID)
	if snap.Status != StatusCanceled {
		t.Errorf("status = %s, want CANCELED", snap.Status)
	}
	if _, err := s.Start("b1", "a/"); !errors.Is(err, ErrShutdown) {
		t.Errorf("Start after shutdown: err = %v, want ErrShutdown", err)
	}
	s.Shutdown()
}

func TestList_NewestFirst(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestScheduler(t, Config{}, fixtureScanner(), WithClock(clock))
	first, _ := s.Start("b1", "a/")
	clock.Advance(time.Second)
	second, _ := s.Start("b2", "a/")

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("got %d jobs, want 2", len(list))
	}
	if list[0].ID != second.JobID || list[1].ID != first.JobID {
		t.Errorf("order = [%s %s], want newest first", list[0].ID, list[1].ID)
	}
}

type capturePublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *capturePublisher) Publish(e event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *capturePublisher) types() []event.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func TestPublishesLifecycle(t *testing.T) {
	pub := &capturePublisher{}
	s := newTestScheduler(t, Config{}, fixtureScanner(), WithPublisher(pub))
	res, _ := s.Start("b1", "a/")
	waitForStatus(t, s, "b1", res.JobID, StatusCompleted)
	s.Shutdown()

	types := pub.types()
	if len(types) != 2 || types[0] != event.JobStarted || types[1] != event.JobCompleted {
		t.Fatalf("published %v, want [started completed]", types)
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.events[1].Data["total_size_bytes"] != uint64(30) {
		t.Errorf("total_size_bytes = %v, want 30", pub.events[1].Data["total_size_bytes"])
	}
}
