package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

const maxLaunchBody = 4 << 10

type folderSizeRequest struct {
	Prefix string `json:"prefix"`
}

// POST /api/v1/buckets/{bucketId}/folders/size
func (r *Router) handleFolderSizeStart(w http.ResponseWriter, req *http.Request) {
	var body folderSizeRequest
	dec := json.NewDecoder(io.LimitReader(req.Body, maxLaunchBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := r.folderSize.Start(req.PathValue("bucketId"), body.Prefix)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	res.SubscriptionPath = r.basePath + res.SubscriptionPath
	writeJSON(w, http.StatusAccepted, res)
}

// GET /api/v1/buckets/{bucketId}/folders/size/{jobId}
func (r *Router) handleFolderSizeGet(w http.ResponseWriter, req *http.Request) {
	snap, err := r.folderSize.Get(req.PathValue("bucketId"), req.PathValue("jobId"))
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// DELETE /api/v1/buckets/{bucketId}/folders/size/{jobId}
func (r *Router) handleFolderSizeCancel(w http.ResponseWriter, req *http.Request) {
	snap, err := r.folderSize.Cancel(req.PathValue("bucketId"), req.PathValue("jobId"))
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GET /api/v1/folder-size/jobs
func (r *Router) handleFolderSizeList(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.folderSize.List())
}
