package foldersize

import (
	"errors"
	"time"

	"github.com/sydlexius/bucketscope/internal/scanner"
)

// Status is the lifecycle state of a job.
type Status string

// Job statuses. A job only moves forward: queued, running, then one of the
// terminal states.
const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCanceled  Status = "CANCELED"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// EventType identifies a job event delivered to listeners.
type EventType string

// Event types.
const (
	EventStarted   EventType = "STARTED"
	EventProgress  EventType = "PROGRESS"
	EventPartial   EventType = "PARTIAL"
	EventCompleted EventType = "COMPLETED"
	EventFailed    EventType = "FAILED"
	EventCanceled  EventType = "CANCELED"
	EventSnapshot  EventType = "SNAPSHOT"
)

const canceledMessage = "Canceled"

var (
	// ErrNotFound is returned for an unknown job id or a job that belongs to
	// a different bucket.
	ErrNotFound = errors.New("folder size job not found")

	// ErrBucketNotFound is returned when starting a job on an unconfigured bucket.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrShutdown is returned by Start after Shutdown.
	ErrShutdown = errors.New("scheduler is shut down")
)

// Snapshot is an immutable view of a job.
type Snapshot struct {
	ID             string                 `json:"id"`
	BucketID       string                 `json:"bucketId"`
	Prefix         string                 `json:"prefix"`
	Status         Status                 `json:"status"`
	ObjectsScanned uint64                 `json:"objectsScanned"`
	TotalSizeBytes uint64                 `json:"totalSizeBytes"`
	Partial        bool                   `json:"partial"`
	PartialReason  *scanner.PartialReason `json:"partialReason"`
	Message        *string                `json:"message"`
	CreatedAt      time.Time              `json:"createdAt"`
	StartedAt      *time.Time             `json:"startedAt"`
	FinishedAt     *time.Time             `json:"finishedAt"`
}

// Event is delivered to job listeners.
type Event struct {
	Type EventType `json:"type"`
	Job  Snapshot  `json:"job"`
}

// Terminal reports whether the event ends the stream for a listener.
func (e Event) Terminal() bool {
	return e.Job.Status.Terminal()
}

// Listener receives job events. A returned error is logged and does not
// affect the job or other listeners. Listeners run on the goroutine that
// generated the event and must not block.
type Listener func(Event) error

// StartResult is returned by Scheduler.Start.
type StartResult struct {
	JobID            string   `json:"jobId"`
	Job              Snapshot `json:"job"`
	SubscriptionPath string   `json:"subscriptionPath"`
}

// SubscriptionPath returns the websocket path for a job.
func SubscriptionPath(jobID string) string {
	return "/api/ws/folder-size/" + jobID
}

func partialMessage(reason scanner.PartialReason) string {
	switch reason {
	case "":
		return "Stopped early"
	case scanner.ReasonMaxObjects:
		return "Stopped after hitting max-objects cap"
	case scanner.ReasonMaxRuntime:
		return "Stopped after hitting max-runtime cap"
	default:
		return "Stopped early: " + string(reason)
	}
}
