package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Factory builds a Lister for a bucket.
type Factory func(ctx context.Context, b Bucket) (Lister, error)

// DefaultFactory selects the client implementation from the bucket provider.
// An empty provider is treated as s3.
func DefaultFactory(ctx context.Context, b Bucket) (Lister, error) {
	switch b.Provider {
	case "", ProviderS3:
		return NewS3Lister(ctx, b)
	case ProviderMinIO:
		return NewMinIOLister(b)
	default:
		return nil, fmt.Errorf("bucket %s: %w: %q", b.ID, ErrUnsupportedProvider, b.Provider)
	}
}

// Registry holds the configured buckets and caches one client per bucket id.
type Registry struct {
	buckets map[string]Bucket
	order   []string
	factory Factory
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[string]Lister
}

// NewRegistry creates a Registry using DefaultFactory.
func NewRegistry(buckets []Bucket, logger *slog.Logger) (*Registry, error) {
	return NewRegistryWithFactory(buckets, DefaultFactory, logger)
}

// NewRegistryWithFactory creates a Registry with a custom client factory.
func NewRegistryWithFactory(buckets []Bucket, factory Factory, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		buckets: make(map[string]Bucket, len(buckets)),
		factory: factory,
		logger:  logger.With(slog.String("component", "storage")),
		clients: make(map[string]Lister),
	}
	if err := ValidateBuckets(buckets); err != nil {
		return nil, err
	}
	for _, b := range buckets {
		r.buckets[b.ID] = b
		r.order = append(r.order, b.ID)
	}
	return r, nil
}

// ValidateBuckets checks required fields and id uniqueness.
func ValidateBuckets(buckets []Bucket) error {
	seen := make(map[string]struct{}, len(buckets))
	for _, b := range buckets {
		if b.ID == "" {
			return fmt.Errorf("bucket %q: id is required", b.Name)
		}
		if b.BucketName == "" {
			return fmt.Errorf("bucket %s: bucket_name is required", b.ID)
		}
		if _, dup := seen[b.ID]; dup {
			return fmt.Errorf("duplicate bucket id %q", b.ID)
		}
		seen[b.ID] = struct{}{}
	}
	return nil
}

// Bucket returns the bucket with the given id.
func (r *Registry) Bucket(id string) (Bucket, bool) {
	b, ok := r.buckets[id]
	return b, ok
}

// HasBucket reports whether id is configured.
func (r *Registry) HasBucket(id string) bool {
	_, ok := r.buckets[id]
	return ok
}

// Buckets returns all buckets in configuration order.
func (r *Registry) Buckets() []Bucket {
	out := make([]Bucket, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.buckets[id])
	}
	return out
}

// Lister returns the cached client for a bucket, creating it on first use.
func (r *Registry) Lister(ctx context.Context, id string) (Lister, error) {
	b, ok := r.buckets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBucket, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.clients[id]; ok {
		return l, nil
	}
	l, err := r.factory(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("creating client for bucket %s: %w", id, err)
	}
	r.clients[id] = l
	r.logger.Debug("storage client created",
		slog.String("bucket_id", id),
		slog.String("provider", b.Provider))
	return l, nil
}
