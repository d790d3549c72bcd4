package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sydlexius/bucketscope/internal/foldersize"
	"github.com/sydlexius/bucketscope/internal/storage"
	"github.com/sydlexius/bucketscope/internal/version"
)

// GET /api/v1/health
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
		"commit":  version.Commit,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// bucketView omits credentials.
type bucketView struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	BucketName      string `json:"bucketName"`
	Provider        string `json:"provider"`
	EndpointURL     string `json:"endpointUrl,omitempty"`
	Region          string `json:"region,omitempty"`
	PathStyleAccess bool   `json:"pathStyleAccess"`
}

// GET /api/v1/buckets
func (r *Router) handleListBuckets(w http.ResponseWriter, req *http.Request) {
	buckets := r.buckets.Buckets()
	out := make([]bucketView, 0, len(buckets))
	for _, b := range buckets {
		provider := b.Provider
		if provider == "" {
			provider = storage.ProviderS3
		}
		out = append(out, bucketView{
			ID:              b.ID,
			Name:            b.Name,
			BucketName:      b.BucketName,
			Provider:        provider,
			EndpointURL:     b.EndpointURL,
			Region:          b.Region,
			PathStyleAccess: b.PathStyleAccess,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// writeServiceError maps folder size errors to HTTP statuses.
func (r *Router) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, foldersize.ErrNotFound), errors.Is(err, foldersize.ErrBucketNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, foldersize.ErrShutdown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		r.logger.Error("folder size request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}
