package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
)

const webhookSourceName = "webhook"

// WebhookSource accepts batches pushed by the feed server over HTTP POST.
type WebhookSource struct {
	hub      *Hub
	maxBytes int64
	closed   atomic.Bool
}

// NewWebhookSource returns a source that publishes request bodies to hub.
// Bodies over maxBytes are rejected; maxBytes <= 0 disables the limit.
func NewWebhookSource(hub *Hub, maxBytes int64) *WebhookSource {
	return &WebhookSource{hub: hub, maxBytes: maxBytes}
}

// Run blocks until ctx is cancelled. Afterwards the handler refuses batches.
func (s *WebhookSource) Run(ctx context.Context) error {
	<-ctx.Done()
	s.closed.Store(true)
	return nil
}

// ServeHTTP handles POST /feed/mapDataUpdate.
func (s *WebhookSource) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.closed.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "feed closed"})
		return
	}

	body := r.Body
	if s.maxBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.maxBytes)
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body failed"})
		return
	}

	snap, err := ingest(s.hub, webhookSourceName, payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "payload must be a JSON array of pins"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "accepted",
		"records": len(snap.Value),
		"version": snap.Version,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
