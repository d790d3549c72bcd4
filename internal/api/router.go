package api

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/sydlexius/bucketscope/internal/api/middleware"
	"github.com/sydlexius/bucketscope/internal/foldersize"
	"github.com/sydlexius/bucketscope/internal/storage"
)

// FolderSizeService is the job API the router exposes.
type FolderSizeService interface {
	Start(bucketID, prefix string) (foldersize.StartResult, error)
	Get(bucketID, jobID string) (foldersize.Snapshot, error)
	Cancel(bucketID, jobID string) (foldersize.Snapshot, error)
	CancelByID(jobID string) (foldersize.Snapshot, error)
	List() []foldersize.Snapshot
	AttachListener(jobID, listenerID string, l foldersize.Listener) (foldersize.Snapshot, error)
	DetachListener(jobID, listenerID string)
}

// BucketLister lists configured buckets.
type BucketLister interface {
	Buckets() []storage.Bucket
}

// RouterDeps bundles all dependencies needed by the HTTP router.
type RouterDeps struct {
	FolderSize FolderSizeService
	Buckets    BucketLister
	// LaunchLimiter, when set, rate-limits job launches per client IP.
	LaunchLimiter  *middleware.RateLimiter
	AllowedOrigins []string
	Logger         *slog.Logger
	BasePath       string
}

// Router sets up all HTTP routes for the application.
type Router struct {
	folderSize     FolderSizeService
	buckets        BucketLister
	launchLimiter  *middleware.RateLimiter
	originPatterns []string
	logger         *slog.Logger
	basePath       string
}

// NewRouter creates a new Router with all routes configured.
func NewRouter(deps RouterDeps) *Router {
	return &Router{
		folderSize:     deps.FolderSize,
		buckets:        deps.Buckets,
		launchLimiter:  deps.LaunchLimiter,
		originPatterns: originPatterns(deps.AllowedOrigins),
		logger:         deps.Logger.With(slog.String("component", "api")),
		basePath:       deps.BasePath,
	}
}

// originPatterns converts configured origins such as http://localhost:9071
// into the host patterns the websocket handshake matches against.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}

// Handler returns the root handler with middleware applied.
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	bp := r.basePath

	mux.HandleFunc("GET "+bp+"/api/v1/health", r.handleHealth)
	mux.HandleFunc("GET "+bp+"/api/v1/buckets", r.handleListBuckets)

	launch := http.Handler(http.HandlerFunc(r.handleFolderSizeStart))
	if r.launchLimiter != nil {
		launch = r.launchLimiter.Middleware(launch)
	}
	mux.Handle("POST "+bp+"/api/v1/buckets/{bucketId}/folders/size", launch)
	mux.HandleFunc("GET "+bp+"/api/v1/buckets/{bucketId}/folders/size/{jobId}", r.handleFolderSizeGet)
	mux.HandleFunc("DELETE "+bp+"/api/v1/buckets/{bucketId}/folders/size/{jobId}", r.handleFolderSizeCancel)
	mux.HandleFunc("GET "+bp+"/api/v1/folder-size/jobs", r.handleFolderSizeList)

	mux.HandleFunc("GET "+bp+foldersize.SubscriptionPath("{jobId}"), r.handleFolderSizeSubscribe)

	return middleware.Logging(r.logger)(middleware.SecurityHeaders(mux))
}
