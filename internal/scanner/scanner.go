// Package scanner walks an object-storage prefix page by page, totalling
// object count and size under configurable caps.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sydlexius/bucketscope/internal/storage"
)

// ListerSource resolves the listing client for a bucket.
type ListerSource interface {
	Lister(ctx context.Context, bucketID string) (storage.Lister, error)
}

// Request describes one scan.
type Request struct {
	BucketID string
	Prefix   string
	Limits   Limits
	// Cancelled is polled at every checkpoint. May be nil.
	Cancelled func() bool
	// OnProgress receives a snapshot every PageInterval pages and once more
	// with Finished set when the scan ends without being canceled. May be nil.
	OnProgress   func(Progress)
	PageInterval int
}

// Scanner computes folder sizes.
type Scanner struct {
	source ListerSource
	clock  clockwork.Clock
	logger *slog.Logger
}

// New creates a Scanner backed by the real clock.
func New(source ListerSource, logger *slog.Logger) *Scanner {
	return NewWithClock(source, clockwork.NewRealClock(), logger)
}

// NewWithClock creates a Scanner that measures runtime with clock.
func NewWithClock(source ListerSource, clock clockwork.Clock, logger *slog.Logger) *Scanner {
	return &Scanner{
		source: source,
		clock:  clock,
		logger: logger.With(slog.String("component", "scanner")),
	}
}

// run holds the mutable state of one Compute call.
type run struct {
	req     Request
	started time.Time
	clock   clockwork.Clock
	p       Progress
}

// checkpoint reports whether the scan must stop. Cancellation is checked
// first, so it wins over a cap that is breached at the same moment.
func (r *run) checkpoint(ctx context.Context) (Outcome, bool) {
	if ctx.Err() != nil || (r.req.Cancelled != nil && r.req.Cancelled()) {
		return OutcomeCanceled, true
	}
	if r.req.Limits.MaxObjects > 0 && r.p.ObjectsScanned >= r.req.Limits.MaxObjects {
		r.p.Partial = true
		r.p.PartialReason = ReasonMaxObjects
		return OutcomePartial, true
	}
	if r.req.Limits.MaxRuntime > 0 && r.clock.Since(r.started) > r.req.Limits.MaxRuntime {
		r.p.Partial = true
		r.p.PartialReason = ReasonMaxRuntime
		return OutcomePartial, true
	}
	return OutcomeCompleted, false
}

func (r *run) emit(finished bool) {
	if r.req.OnProgress == nil {
		return
	}
	snap := r.p
	snap.Finished = finished
	r.req.OnProgress(snap)
}

// Compute runs the scan to completion, a cap, or cancellation. The returned
// error is non-nil only for a failure to resolve the bucket or list a page.
func (s *Scanner) Compute(ctx context.Context, req Request) (Result, error) {
	r := &run{
		req:     req,
		started: s.clock.Now(),
		clock:   s.clock,
		p:       Progress{Prefix: NormalizePrefix(req.Prefix)},
	}
	interval := max(req.PageInterval, 1)

	lister, err := s.source.Lister(ctx, req.BucketID)
	if err != nil {
		return Result{Progress: r.p}, fmt.Errorf("resolving bucket: %w", err)
	}

	token := ""
	pages := 0
	for {
		if outcome, stop := r.checkpoint(ctx); stop {
			return s.finish(ctx, r, outcome, pages), nil
		}

		page, err := lister.ListPage(ctx, r.p.Prefix, token, PageSize)
		if err != nil {
			if ctx.Err() != nil {
				return s.finish(ctx, r, OutcomeCanceled, pages), nil
			}
			return Result{Progress: r.p}, fmt.Errorf("listing page %d: %w", pages+1, err)
		}
		pages++

		for _, obj := range page.Objects {
			if isDirectoryMarker(obj.Key, obj.Size) {
				continue
			}
			r.p.ObjectsScanned = addSaturating(r.p.ObjectsScanned, 1)
			if obj.Size > 0 {
				r.p.TotalSizeBytes = addSaturating(r.p.TotalSizeBytes, uint64(obj.Size))
			}
			if outcome, stop := r.checkpoint(ctx); stop {
				return s.finish(ctx, r, outcome, pages), nil
			}
		}

		token = page.NextToken
		if token == "" {
			return s.finish(ctx, r, OutcomeCompleted, pages), nil
		}
		if pages%interval == 0 {
			r.emit(false)
		}
	}
}

func (s *Scanner) finish(ctx context.Context, r *run, outcome Outcome, pages int) Result {
	if outcome != OutcomeCanceled {
		r.p.Finished = true
		r.emit(true)
	}
	s.logger.DebugContext(ctx, "scan finished",
		slog.String("bucket_id", r.req.BucketID),
		slog.String("prefix", r.p.Prefix),
		slog.String("outcome", outcome.String()),
		slog.Int("pages", pages),
		slog.Uint64("objects", r.p.ObjectsScanned),
		slog.Uint64("bytes", r.p.TotalSizeBytes))
	return Result{Progress: r.p, Outcome: outcome}
}

func addSaturating(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
