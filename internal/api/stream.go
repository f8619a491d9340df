package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/deal-map/internal/surface"
)

const streamKeepAlive = 25 * time.Second

// handleStream pushes the session's feature collection as server-sent events:
// once on connect, then after every layer replacement. Intermediate
// generations may be skipped; each frame carries the latest one.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	release := sess.AttachStream()
	defer release()
	defer sess.Touch(time.Now())

	// Subscribe before the first frame so no replacement is missed.
	changed, unsubscribe := sess.Layer().Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	var sent uint64
	send := func() error {
		view := sess.Layer().Snapshot()
		if sent != 0 && view.Generation.Seq == sent {
			return nil
		}
		b, err := json.Marshal(surface.FeatureCollection(view))
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: features\nid: %s\ndata: %s\n\n", generationHeader(view.Generation), b); err != nil {
			return err
		}
		flusher.Flush()
		sent = view.Generation.Seq
		return nil
	}

	if err := send(); err != nil {
		zap.L().Debug("api: stream write", zap.String("session", sess.ID()), zap.Error(err))
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			fmt.Fprint(w, "event: done\ndata: session closed\n\n")
			flusher.Flush()
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-changed:
			if err := send(); err != nil {
				zap.L().Debug("api: stream write", zap.String("session", sess.ID()), zap.Error(err))
				return
			}
		}
	}
}
