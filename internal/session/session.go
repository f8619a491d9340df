// Package session owns a map viewer's filter selection and keeps its
// feature layer in step with the feed.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/deal-map/internal/feed"
	"github.com/sells-group/deal-map/internal/metrics"
	"github.com/sells-group/deal-map/internal/pin"
	"github.com/sells-group/deal-map/internal/state"
	"github.com/sells-group/deal-map/internal/surface"
)

// Session is one map viewer. A single goroutine recomputes the layer from
// the latest feed batch and filter selection whenever either changes.
type Session struct {
	id      string
	hub     *feed.Hub
	filters *state.Cell[pin.FilterSelection]
	layer   *surface.Layer

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	lastSeen atomic.Int64
	streams  atomic.Int32

	rejections rejectionLog
}

func start(parent context.Context, id string, hub *feed.Hub, initial pin.FilterSelection, now time.Time) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		id:      id,
		hub:     hub,
		filters: state.NewCell(initial),
		layer:   surface.NewLayer(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.lastSeen.Store(now.UnixNano())

	// Watch before the first compute so no change can slip between them.
	feedCh, releaseFeed := hub.Watch()
	filterCh, releaseFilters := s.filters.Watch()
	go s.loop(ctx, feedCh, filterCh, func() {
		releaseFeed()
		releaseFilters()
	})
	return s
}

func (s *Session) loop(ctx context.Context, feedCh, filterCh <-chan struct{}, release func()) {
	defer close(s.done)
	defer release()

	s.recompute()
	for {
		select {
		case <-ctx.Done():
			return
		case <-feedCh:
		case <-filterCh:
		}
		if ctx.Err() != nil {
			return
		}
		s.recompute()
	}
}

func (s *Session) recompute() {
	started := time.Now()
	records := s.hub.Snapshot()
	filters := s.filters.Get()

	res := pin.Compute(records.Value, filters.Value)
	s.reportRejections(records.Version, res.Rejected)
	s.layer.Replace(records.Version, filters.Version, res.Features)
	metrics.ObserveRecompute(started)
}

func (s *Session) reportRejections(recordsVersion uint64, rejected []pin.Rejection) {
	for _, r := range s.rejections.unseen(recordsVersion, rejected) {
		zap.L().Warn("session: skipping pin without usable coordinates",
			zap.String("session", s.id),
			zap.Int("index", r.Index),
			zap.String("address", r.Address),
			zap.String("reason", pin.RejectReason(r.Err)),
			zap.Uint64("records_version", recordsVersion),
			zap.Error(r.Err),
		)
	}
}

// rejectionLog remembers which record indexes were already reported for the
// current feed version. Only the session loop touches it.
type rejectionLog struct {
	version uint64
	seen    map[int]struct{}
}

// unseen returns the rejections not yet reported for version and marks them
// reported. A new version starts over.
func (l *rejectionLog) unseen(version uint64, rejected []pin.Rejection) []pin.Rejection {
	if l.seen == nil || version != l.version {
		l.version = version
		l.seen = make(map[int]struct{})
	}
	var out []pin.Rejection
	for _, r := range rejected {
		if _, ok := l.seen[r.Index]; ok {
			continue
		}
		l.seen[r.Index] = struct{}{}
		out = append(out, r)
	}
	return out
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Layer returns the session's feature layer.
func (s *Session) Layer() *surface.Layer { return s.layer }

// Filters returns the current filter selection and its version.
func (s *Session) Filters() state.Snapshot[pin.FilterSelection] {
	return s.filters.Get()
}

// SetFilters replaces all four toggles.
func (s *Session) SetFilters(f pin.FilterSelection) state.Snapshot[pin.FilterSelection] {
	return s.filters.Set(f)
}

// Toggle sets one named checkbox.
func (s *Session) Toggle(name string, checked bool) (state.Snapshot[pin.FilterSelection], error) {
	return s.filters.Update(func(cur pin.FilterSelection) (pin.FilterSelection, error) {
		return cur.Toggle(name, checked)
	})
}

// Touch marks the session as in use.
func (s *Session) Touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

// LastSeen returns when the session was last used.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// AttachStream marks a live stream on the session and returns its release
// func. Sessions with live streams are never reaped.
func (s *Session) AttachStream() func() {
	s.streams.Add(1)
	var once sync.Once
	return func() { once.Do(func() { s.streams.Add(-1) }) }
}

func (s *Session) streaming() bool { return s.streams.Load() > 0 }

// Done is closed once the recompute loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close stops the recompute loop and releases the feed subscription. The
// layer is not updated after Close returns.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}
