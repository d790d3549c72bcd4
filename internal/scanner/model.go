package scanner

import (
	"strings"
	"time"
)

// PageSize is the number of keys requested per listing call.
const PageSize = 500

// PartialReason names the cap that stopped a scan early.
type PartialReason string

// Partial reasons.
const (
	ReasonMaxObjects PartialReason = "max-objects"
	ReasonMaxRuntime PartialReason = "max-runtime"
)

// Limits caps a single scan. Zero values mean unbounded.
type Limits struct {
	MaxObjects uint64
	MaxRuntime time.Duration
}

// Progress is a point-in-time view of a running scan.
type Progress struct {
	Prefix         string        `json:"prefix"`
	ObjectsScanned uint64        `json:"objects_scanned"`
	TotalSizeBytes uint64        `json:"total_size_bytes"`
	Partial        bool          `json:"partial"`
	PartialReason  PartialReason `json:"partial_reason,omitempty"`
	Finished       bool          `json:"finished"`
}

// Outcome classifies how a scan ended.
type Outcome int

// Scan outcomes.
const (
	OutcomeCompleted Outcome = iota
	OutcomePartial
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomePartial:
		return "partial"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Result is the final state of a scan. Progress is the last snapshot taken;
// for a canceled scan it holds the counters reached before cancellation.
type Result struct {
	Progress Progress
	Outcome  Outcome
}

// NormalizePrefix trims surrounding whitespace and ensures a non-empty
// prefix ends with a slash.
func NormalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		return ""
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

func isDirectoryMarker(key string, size int64) bool {
	return size == 0 && strings.HasSuffix(key, "/")
}
