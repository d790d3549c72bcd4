// Package foldersize runs folder size jobs on a bounded worker pool, fans
// job events out to listeners, and evicts finished jobs after a retention
// window.
package foldersize

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"

	"github.com/sydlexius/bucketscope/internal/event"
	"github.com/sydlexius/bucketscope/internal/logging"
	"github.com/sydlexius/bucketscope/internal/scanner"
)

// Defaults applied by New for zero config values.
const (
	DefaultParallelism   = 2
	DefaultRetention     = 10 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Config controls scheduling and per-job limits.
type Config struct {
	Parallelism        int
	PageInterval       int
	Limits             scanner.Limits
	Retention          time.Duration
	SweepInterval      time.Duration
	CancelOnDisconnect bool
}

// Computer runs a single scan.
type Computer interface {
	Compute(ctx context.Context, req scanner.Request) (scanner.Result, error)
}

// BucketChecker reports whether a bucket id is configured.
type BucketChecker interface {
	HasBucket(id string) bool
}

// Publisher receives job lifecycle events.
type Publisher interface {
	Publish(e event.Event)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the real clock used for timestamps and the sweep ticker.
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithPublisher sends STARTED and terminal lifecycle events to p.
func WithPublisher(p Publisher) Option {
	return func(s *Scheduler) { s.publisher = p }
}

// Scheduler owns the job registry and the worker pool.
type Scheduler struct {
	cfg       Config
	computer  Computer
	buckets   BucketChecker
	clock     clockwork.Clock
	publisher Publisher
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	wg     sync.WaitGroup

	mu     sync.RWMutex
	jobs   map[string]*Job
	closed bool

	sweepDone chan struct{}
	stopOnce  sync.Once
}

// New creates a Scheduler and starts its retention sweep.
func New(cfg Config, computer Computer, buckets BucketChecker, logger *slog.Logger, opts ...Option) *Scheduler {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.PageInterval <= 0 {
		cfg.PageInterval = 1
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:       cfg,
		computer:  computer,
		buckets:   buckets,
		clock:     clockwork.NewRealClock(),
		logger:    logger.With(slog.String("component", "folder-size")),
		ctx:       ctx,
		cancel:    cancel,
		sem:       semaphore.NewWeighted(int64(cfg.Parallelism)),
		jobs:      make(map[string]*Job),
		sweepDone: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	go s.sweepLoop()
	return s
}

func (s *Scheduler) now() time.Time {
	return s.clock.Now().UTC()
}

// Start registers a job for prefix in bucketID and queues it on the pool.
func (s *Scheduler) Start(bucketID, prefix string) (StartResult, error) {
	if s.buckets != nil && !s.buckets.HasBucket(bucketID) {
		return StartResult{}, fmt.Errorf("%w: %s", ErrBucketNotFound, bucketID)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return StartResult{}, ErrShutdown
	}
	job := newJob(s.ctx, bucketID, scanner.NormalizePrefix(prefix), s.now())
	s.jobs[job.id] = job
	s.wg.Add(1)
	s.mu.Unlock()

	// Taken before the worker starts so the launch response shows QUEUED.
	initial := job.Snapshot()
	go s.run(job)

	s.logger.Info("folder size job queued",
		"job_id", job.id,
		"bucket_id", bucketID,
		"prefix", job.prefix)

	return StartResult{
		JobID:            job.id,
		Job:              initial,
		SubscriptionPath: SubscriptionPath(job.id),
	}, nil
}

func (s *Scheduler) lookup(jobID string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	return j, ok
}

func (s *Scheduler) require(bucketID, jobID string) (*Job, error) {
	j, ok := s.lookup(jobID)
	if !ok || j.bucketID != bucketID {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return j, nil
}

// Get returns the snapshot of a job in bucketID.
func (s *Scheduler) Get(bucketID, jobID string) (Snapshot, error) {
	j, err := s.require(bucketID, jobID)
	if err != nil {
		return Snapshot{}, err
	}
	return j.Snapshot(), nil
}

// List returns snapshots of every registered job, newest first.
func (s *Scheduler) List() []Snapshot {
	s.mu.RLock()
	out := make([]Snapshot, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Snapshot())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out
}

// Cancel cancels a job in bucketID. Canceling a finished job is a no-op that
// returns its final snapshot.
func (s *Scheduler) Cancel(bucketID, jobID string) (Snapshot, error) {
	j, err := s.require(bucketID, jobID)
	if err != nil {
		return Snapshot{}, err
	}
	return s.cancelJob(j), nil
}

// CancelByID cancels a job without a bucket check. Used by subscription
// channels, which are keyed by job id alone.
func (s *Scheduler) CancelByID(jobID string) (Snapshot, error) {
	j, ok := s.lookup(jobID)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return s.cancelJob(j), nil
}

func (s *Scheduler) cancelJob(j *Job) Snapshot {
	if j.Status().Terminal() {
		return j.Snapshot()
	}
	j.requestCancel()
	s.finishCanceled(j)
	return j.Snapshot()
}

// AttachListener registers l on a job and immediately delivers a SNAPSHOT
// event with the current state. Events generated afterwards follow it in order.
func (s *Scheduler) AttachListener(jobID, listenerID string, l Listener) (Snapshot, error) {
	j, ok := s.lookup(jobID)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}

	j.emitMu.Lock()
	defer j.emitMu.Unlock()
	j.addListener(listenerID, l)
	snap := j.Snapshot()
	deliver(listenerID, l, Event{Type: EventSnapshot, Job: snap}, s.logger)
	return snap, nil
}

// DetachListener removes a listener. With CancelOnDisconnect set, removing
// the last listener of an unfinished job requests its cancellation.
func (s *Scheduler) DetachListener(jobID, listenerID string) {
	j, ok := s.lookup(jobID)
	if !ok {
		return
	}
	remaining := j.removeListener(listenerID)
	if s.cfg.CancelOnDisconnect && remaining == 0 && !j.Status().Terminal() {
		s.logger.Info("canceling folder size job with no listeners", "job_id", jobID)
		j.requestCancel()
	}
}

// Shutdown stops the sweep and interrupts every queued or running job, then
// waits for the workers to return. Jobs interrupted this way end CANCELED.
func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cancel()
		<-s.sweepDone
		s.wg.Wait()
		s.logger.Info("folder size scheduler stopped")
	})
}

func (s *Scheduler) run(j *Job) {
	defer s.wg.Done()
	defer j.cancel()

	ctx := logging.WithAttrs(j.ctx,
		slog.String("job_id", j.id),
		slog.String("bucket_id", j.bucketID))

	if err := s.sem.Acquire(ctx, 1); err != nil {
		// Canceled while queued.
		s.finishCanceled(j)
		return
	}
	defer s.sem.Release(1)

	j.emitMu.Lock()
	started := j.markRunning(s.now())
	if started {
		j.broadcast(EventStarted, s.logger)
	}
	j.emitMu.Unlock()
	if !started {
		return
	}
	s.publish(event.JobStarted, j)
	s.logger.InfoContext(ctx, "folder size job started", "prefix", j.prefix)

	res, err := s.computer.Compute(ctx, scanner.Request{
		BucketID:     j.bucketID,
		Prefix:       j.prefix,
		Limits:       s.cfg.Limits,
		Cancelled:    j.CancelRequested,
		OnProgress:   func(p scanner.Progress) { s.onProgress(j, p) },
		PageInterval: s.cfg.PageInterval,
	})

	switch {
	case err != nil:
		s.logger.WarnContext(ctx, "folder size job failed", "error", err)
		s.finishFailed(j, err)
	case res.Outcome == scanner.OutcomeCanceled:
		s.finishCanceled(j)
	default:
		s.finishCompleted(j, res.Progress)
	}
}

// onProgress applies intermediate snapshots only. The final snapshot is
// applied by finishCompleted so its data is not broadcast twice.
func (s *Scheduler) onProgress(j *Job, p scanner.Progress) {
	if p.Finished {
		return
	}
	j.emitMu.Lock()
	defer j.emitMu.Unlock()
	if j.applyProgress(p) {
		j.broadcast(EventProgress, s.logger)
	}
}

func (s *Scheduler) finishCompleted(j *Job, p scanner.Progress) {
	j.emitMu.Lock()
	done := j.markCompleted(p, s.now())
	if done {
		if p.Partial {
			j.broadcast(EventPartial, s.logger)
		} else {
			j.broadcast(EventCompleted, s.logger)
		}
	}
	j.emitMu.Unlock()
	if !done {
		return
	}

	t := event.JobCompleted
	if p.Partial {
		t = event.JobPartial
	}
	s.publish(t, j)
	s.logger.Info("folder size job finished",
		"job_id", j.id,
		"objects", p.ObjectsScanned,
		"bytes", p.TotalSizeBytes,
		"partial", p.Partial)
}

func (s *Scheduler) finishFailed(j *Job, err error) {
	j.emitMu.Lock()
	done := j.markFailed(err.Error(), s.now())
	if done {
		j.broadcast(EventFailed, s.logger)
	}
	j.emitMu.Unlock()
	if done {
		s.publish(event.JobFailed, j)
	}
}

func (s *Scheduler) finishCanceled(j *Job) {
	j.emitMu.Lock()
	done := j.markCanceled(s.now())
	if done {
		j.broadcast(EventCanceled, s.logger)
	}
	j.emitMu.Unlock()
	if done {
		s.publish(event.JobCanceled, j)
		s.logger.Info("folder size job canceled", "job_id", j.id)
	}
}

func (s *Scheduler) publish(t event.Type, j *Job) {
	if s.publisher == nil {
		return
	}
	snap := j.Snapshot()
	data := map[string]any{
		"job_id":           snap.ID,
		"bucket_id":        snap.BucketID,
		"prefix":           snap.Prefix,
		"status":           string(snap.Status),
		"objects_scanned":  snap.ObjectsScanned,
		"total_size_bytes": snap.TotalSizeBytes,
	}
	if snap.PartialReason != nil {
		data["partial_reason"] = string(*snap.PartialReason)
	}
	if snap.Message != nil {
		data["message"] = *snap.Message
	}
	s.publisher.Publish(event.Event{Type: t, Timestamp: s.now(), Data: data})
}
