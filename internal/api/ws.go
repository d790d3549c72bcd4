package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/sydlexius/bucketscope/internal/foldersize"
)

// subscriberBuffer bounds the events queued for one connection. A client
// that falls this far behind is disconnected.
const subscriberBuffer = 64

// wsFrame is the JSON text frame sent for every job event.
type wsFrame struct {
	Type foldersize.EventType `json:"type"`
	Job  foldersize.Snapshot  `json:"job"`
}

// GET /api/ws/folder-size/{jobId}
func (r *Router) handleFolderSizeSubscribe(w http.ResponseWriter, req *http.Request) {
	jobID := req.PathValue("jobId")

	conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		OriginPatterns: r.originPatterns,
	})
	if err != nil {
		r.logger.Warn("websocket accept failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.CloseNow() //nolint:errcheck

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	events := make(chan foldersize.Event, subscriberBuffer)
	listenerID := uuid.NewString()
	listener := func(e foldersize.Event) error {
		select {
		case events <- e:
			return nil
		default:
			cancel()
			return errors.New("subscriber too slow")
		}
	}

	if _, err := r.folderSize.AttachListener(jobID, listenerID, listener); err != nil {
		conn.Close(websocket.StatusPolicyViolation, "unknown job") //nolint:errcheck
		return
	}
	defer r.folderSize.DetachListener(jobID, listenerID)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer cancel()
		r.readCommands(ctx, conn, jobID)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			if err := wsjson.Write(ctx, conn, wsFrame{Type: e.Type, Job: e.Job}); err != nil {
				r.logger.Debug("websocket write failed", "job_id", jobID, "error", err)
				return
			}
			if e.Terminal() {
				conn.Close(websocket.StatusNormalClosure, string(e.Job.Status)) //nolint:errcheck
				<-readDone
				return
			}
		}
	}
}

// readCommands handles inbound text frames until the connection closes.
// "cancel" (any case, surrounding whitespace ignored) cancels the job.
func (r *Router) readCommands(ctx context.Context, conn *websocket.Conn, jobID string) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(string(data)), "cancel") {
			if _, err := r.folderSize.CancelByID(jobID); err != nil {
				r.logger.Debug("websocket cancel ignored", "job_id", jobID, "error", err)
			}
		}
	}
}
