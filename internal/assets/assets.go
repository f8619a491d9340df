// Package assets loads the pin pictogram images handed to the map SDK.
package assets

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/deal-map/internal/metrics"
	"github.com/sells-group/deal-map/internal/pin"
)

const (
	fileExt     = ".png"
	contentType = "image/png"
)

// Registry holds the pictograms that loaded successfully.
type Registry struct {
	mu     sync.RWMutex
	images map[pin.Pictogram][]byte
	failed map[pin.Pictogram]error
	ready  atomic.Bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		images: make(map[pin.Pictogram][]byte),
		failed: make(map[pin.Pictogram]error),
	}
}

// Load reads every pictogram from dir concurrently. A missing or unreadable
// image is logged and recorded; it never stops the others from loading.
// Features keep referencing failed pictograms.
func (r *Registry) Load(ctx context.Context, dir string) {
	g, gctx := errgroup.WithContext(ctx)

	for _, id := range pin.AllPictograms() {
		g.Go(func() error {
			data, err := readImage(gctx, dir, id)

			r.mu.Lock()
			if err != nil {
				r.failed[id] = err
			} else {
				r.images[id] = data
				delete(r.failed, id)
			}
			r.mu.Unlock()

			if err != nil {
				metrics.AssetLoadFailures.WithLabelValues(string(id)).Inc()
				zap.L().Error("assets: failed to load pictogram",
					zap.String("pictogram", string(id)),
					zap.String("dir", dir),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	r.ready.Store(true)
	zap.L().Info("assets: pictograms loaded",
		zap.Int("loaded", len(r.Loaded())),
		zap.Int("failed", len(pin.AllPictograms())-len(r.Loaded())),
	)
}

func readImage(ctx context.Context, dir string, id pin.Pictogram) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, string(id)+fileExt)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "assets: read %s", path)
	}
	if ct := http.DetectContentType(data); ct != contentType {
		return nil, eris.Errorf("assets: %s is %s, want %s", path, ct, contentType)
	}
	return data, nil
}

// Ready reports whether the load pass has finished.
func (r *Registry) Ready() bool { return r.ready.Load() }

// Image returns the bytes for id if it loaded.
func (r *Registry) Image(id pin.Pictogram) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, ok := r.images[id]
	return data, ok
}

// Loaded returns the pictograms that loaded, in load order.
func (r *Registry) Loaded() []pin.Pictogram {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []pin.Pictogram
	for _, id := range pin.AllPictograms() {
		if _, ok := r.images[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Failure returns the load error for id, if any.
func (r *Registry) Failure(id pin.Pictogram) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failed[id]
}

// ServeHTTP serves /icons/{id}.png.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	name := filepath.Base(req.URL.Path)
	if !strings.HasSuffix(name, fileExt) {
		http.NotFound(w, req)
		return
	}
	data, ok := r.Image(pin.Pictogram(strings.TrimSuffix(name, fileExt)))
	if !ok {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(data)
}
