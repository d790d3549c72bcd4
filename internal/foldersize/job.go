package foldersize

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sydlexius/bucketscope/internal/scanner"
)

// Job is one folder size computation. Its state fields are written by the
// owning worker or by a cancel caller; all writes go through the mark and
// apply methods, which refuse to leave a terminal state.
type Job struct {
	id        string
	bucketID  string
	prefix    string
	createdAt time.Time

	ctx             context.Context
	cancel          context.CancelFunc
	cancelRequested atomic.Bool

	// emitMu orders state transitions with their broadcast so every
	// listener sees the same event sequence.
	emitMu sync.Mutex

	mu             sync.RWMutex
	status         Status
	objectsScanned uint64
	totalSizeBytes uint64
	partial        bool
	partialReason  scanner.PartialReason
	message        string
	startedAt      *time.Time
	finishedAt     *time.Time

	lmu       sync.Mutex
	listeners map[string]Listener
}

func newJob(parent context.Context, bucketID, prefix string, now time.Time) *Job {
	ctx, cancel := context.WithCancel(parent)
	return &Job{
		id:        uuid.New().String(),
		bucketID:  bucketID,
		prefix:    prefix,
		createdAt: now,
		ctx:       ctx,
		cancel:    cancel,
		status:    StatusQueued,
		listeners: make(map[string]Listener),
	}
}

// ID returns the job id.
func (j *Job) ID() string { return j.id }

// BucketID returns the bucket the job scans.
func (j *Job) BucketID() string { return j.bucketID }

// CancelRequested reports whether cancellation was asked for.
func (j *Job) CancelRequested() bool { return j.cancelRequested.Load() }

// requestCancel sets the cooperative flag and interrupts the worker context.
func (j *Job) requestCancel() {
	j.cancelRequested.Store(true)
	j.cancel()
}

// Snapshot returns a copy of the job's observable state.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	s := Snapshot{
		ID:             j.id,
		BucketID:       j.bucketID,
		Prefix:         j.prefix,
		Status:         j.status,
		ObjectsScanned: j.objectsScanned,
		TotalSizeBytes: j.totalSizeBytes,
		Partial:        j.partial,
		CreatedAt:      j.createdAt,
		StartedAt:      copyTime(j.startedAt),
		FinishedAt:     copyTime(j.finishedAt),
	}
	if j.partialReason != "" {
		r := j.partialReason
		s.PartialReason = &r
	}
	if j.message != "" {
		m := j.message
		s.Message = &m
	}
	return s
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Status returns the current status.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

func (j *Job) finishedBefore(cutoff time.Time) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status.Terminal() && j.finishedAt != nil && j.finishedAt.Before(cutoff)
}

func (j *Job) markRunning(now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusQueued {
		return false
	}
	j.status = StatusRunning
	j.startedAt = &now
	return true
}

func (j *Job) applyProgress(p scanner.Progress) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusRunning {
		return false
	}
	j.setCounters(p)
	return true
}

func (j *Job) markCompleted(p scanner.Progress, now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusRunning {
		return false
	}
	j.setCounters(p)
	if p.Partial {
		j.message = partialMessage(p.PartialReason)
	}
	j.status = StatusCompleted
	j.finishedAt = &now
	return true
}

func (j *Job) markFailed(msg string, now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = StatusFailed
	j.message = msg
	j.finishedAt = &now
	return true
}

func (j *Job) markCanceled(now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = StatusCanceled
	j.message = canceledMessage
	j.finishedAt = &now
	return true
}

// setCounters must be called with mu held.
func (j *Job) setCounters(p scanner.Progress) {
	j.objectsScanned = p.ObjectsScanned
	j.totalSizeBytes = p.TotalSizeBytes
	j.partial = p.Partial
	j.partialReason = p.PartialReason
}

func (j *Job) addListener(id string, l Listener) {
	j.lmu.Lock()
	defer j.lmu.Unlock()
	j.listeners[id] = l
}

// removeListener returns the number of listeners left.
func (j *Job) removeListener(id string) (remaining int) {
	j.lmu.Lock()
	defer j.lmu.Unlock()
	delete(j.listeners, id)
	return len(j.listeners)
}

type listenerEntry struct {
	id string
	fn Listener
}

func (j *Job) listenerSnapshot() []listenerEntry {
	j.lmu.Lock()
	defer j.lmu.Unlock()
	out := make([]listenerEntry, 0, len(j.listeners))
	for id, fn := range j.listeners {
		out = append(out, listenerEntry{id: id, fn: fn})
	}
	return out
}

// broadcast delivers an event built from the current state to a copy of the
// listener set. Callers hold emitMu.
func (j *Job) broadcast(t EventType, logger *slog.Logger) {
	ev := Event{Type: t, Job: j.Snapshot()}
	for _, l := range j.listenerSnapshot() {
		deliver(l.id, l.fn, ev, logger)
	}
}

func deliver(listenerID string, fn Listener, ev Event, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("listener panicked",
				"job_id", ev.Job.ID,
				"listener_id", listenerID,
				"event", string(ev.Type),
				"panic", r)
		}
	}()
	if err := fn(ev); err != nil {
		logger.Warn("delivering folder size event",
			"job_id", ev.Job.ID,
			"listener_id", listenerID,
			"event", string(ev.Type),
			"error", err)
	}
}
