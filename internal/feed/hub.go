// Package feed receives full-replacement pin batches from the live feed and
// keeps the most recent one.
package feed

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-map/internal/metrics"
	"github.com/sells-group/deal-map/internal/pin"
	"github.com/sells-group/deal-map/internal/state"
)

// EventName is the feed message that carries a batch.
const EventName = "mapDataUpdate"

// Batch is one full replacement list of pins.
type Batch []pin.Record

// Source delivers batches to a Hub until ctx is cancelled. Once Run returns
// the source publishes nothing further.
type Source interface {
	Run(ctx context.Context) error
}

// Hub holds the latest batch. Publishing replaces it outright; there is no
// merge with earlier batches. Before the first batch the hub holds an empty
// one, which renders the same as a disconnected feed.
type Hub struct {
	cell *state.Cell[Batch]
}

// NewHub returns a hub holding an empty batch.
func NewHub() *Hub {
	return &Hub{cell: state.NewCell(Batch{})}
}

// Publish replaces the current batch.
func (h *Hub) Publish(b Batch) state.Snapshot[Batch] {
	if b == nil {
		b = Batch{}
	}
	metrics.FeedRecords.Set(float64(len(b)))
	return h.cell.Set(b)
}

// Snapshot returns the current batch and its version.
func (h *Hub) Snapshot() state.Snapshot[Batch] {
	return h.cell.Get()
}

// Watch returns a coalescing change signal and its release func.
func (h *Hub) Watch() (<-chan struct{}, func()) {
	return h.cell.Watch()
}

// DecodeBatch parses one mapDataUpdate payload. The payload must be a JSON
// array; individual records never fail decoding.
func DecodeBatch(payload []byte) (Batch, error) {
	var b Batch
	if err := json.Unmarshal(payload, &b); err != nil {
		return nil, eris.Wrap(err, "feed: decode batch")
	}
	if b == nil {
		b = Batch{}
	}
	return b, nil
}

// ingest decodes a payload and publishes it, logging and counting failures.
// A bad payload leaves the previous batch in place.
func ingest(hub *Hub, source string, payload []byte) (state.Snapshot[Batch], error) {
	b, err := DecodeBatch(payload)
	if err != nil {
		metrics.FeedDecodeErrors.WithLabelValues(source).Inc()
		zap.L().Warn("feed: dropping malformed payload",
			zap.String("source", source),
			zap.Int("bytes", len(payload)),
			zap.Error(err),
		)
		return state.Snapshot[Batch]{}, err
	}

	snap := hub.Publish(b)
	metrics.FeedBatches.WithLabelValues(source).Inc()
	countUnplaceable(b)
	zap.L().Debug("feed: batch received",
		zap.String("source", source),
		zap.Int("records", len(b)),
		zap.Uint64("version", snap.Version),
	)
	return snap, nil
}

// countUnplaceable counts the records in b that can never be drawn, once per
// batch regardless of how many sessions view it.
func countUnplaceable(b Batch) {
	for _, rec := range b {
		if _, _, err := pin.ParseCoordinates(rec); err != nil {
			metrics.RejectedRecords.WithLabelValues(pin.RejectReason(err)).Inc()
		}
	}
}
