// Package api exposes map sessions, features, filters, and pictograms to
// the browser map over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/deal-map/internal/assets"
	"github.com/sells-group/deal-map/internal/config"
	"github.com/sells-group/deal-map/internal/detail"
	"github.com/sells-group/deal-map/internal/metrics"
	"github.com/sells-group/deal-map/internal/pin"
	"github.com/sells-group/deal-map/internal/session"
	"github.com/sells-group/deal-map/internal/surface"
)

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	sessions  *session.Manager
	icons     *assets.Registry
	feedHook  http.Handler
	mapCfg    config.MapConfig
	hitRadius float64
	origins   []string
}

// Options configures a Server.
type Options struct {
	Sessions *session.Manager
	Icons    *assets.Registry
	// FeedHook receives pushed batches; nil disables the webhook route.
	FeedHook       http.Handler
	Map            config.MapConfig
	HitRadius      float64
	AllowedOrigins []string
}

// NewServer builds a Server from opts.
func NewServer(opts Options) *Server {
	return &Server{
		sessions:  opts.Sessions,
		icons:     opts.Icons,
		feedHook:  opts.FeedHook,
		mapCfg:    opts.Map,
		hitRadius: opts.HitRadius,
		origins:   opts.AllowedOrigins,
	}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/map/config", s.handleMapConfig)
	r.Handle("/metrics", metrics.Handler())
	r.Handle("/icons/*", s.icons)

	if s.feedHook != nil {
		r.Method(http.MethodPost, "/feed/mapDataUpdate", s.feedHook)
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", s.handleCloseSession)
			r.Get("/filters", s.handleGetFilters)
			r.Put("/filters", s.handlePutFilters)
			r.Patch("/filters/{name}", s.handleToggle)
			r.Get("/features", s.handleFeatures)
			r.Get("/features/{index}", s.handleFeatureDetail)
			r.Get("/hit", s.handleHit)
			r.Get("/stream", s.handleStream)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type mapConfigResponse struct {
	SubscriptionKey string          `json:"subscription_key"`
	Center          [2]float64      `json:"center"`
	Zoom            int             `json:"zoom"`
	View            string          `json:"view"`
	ClusterRadius   int             `json:"cluster_radius"`
	Icons           []pin.Pictogram `json:"icons"`
	IconsLoaded     []pin.Pictogram `json:"icons_loaded"`
	AssetsReady     bool            `json:"assets_ready"`
}

func (s *Server) handleMapConfig(w http.ResponseWriter, _ *http.Request) {
	loaded := s.icons.Loaded()
	if loaded == nil {
		loaded = []pin.Pictogram{}
	}
	writeJSON(w, http.StatusOK, mapConfigResponse{
		SubscriptionKey: s.mapCfg.SubscriptionKey,
		Center:          [2]float64{s.mapCfg.CenterLon, s.mapCfg.CenterLat},
		Zoom:            s.mapCfg.Zoom,
		View:            s.mapCfg.View,
		ClusterRadius:   s.mapCfg.ClusterRadius,
		Icons:           pin.AllPictograms(),
		IconsLoaded:     loaded,
		AssetsReady:     s.icons.Ready(),
	})
}

type filtersResponse struct {
	Filters pin.FilterSelection `json:"filters"`
	Version uint64              `json:"version"`
}

type sessionResponse struct {
	ID string `json:"id"`
	filtersResponse
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	// The body is optional; an empty one opens with every filter off.
	var initial pin.FilterSelection
	if err := json.NewDecoder(r.Body).Decode(&initial); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess := s.sessions.Create(initial)
	snap := sess.Filters()
	writeJSON(w, http.StatusCreated, sessionResponse{
		ID:              sess.ID(),
		filtersResponse: filtersResponse{Filters: snap.Value, Version: snap.Version},
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Close(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetFilters(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	snap := sess.Filters()
	writeJSON(w, http.StatusOK, filtersResponse{Filters: snap.Value, Version: snap.Version})
}

func (s *Server) handlePutFilters(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var f pin.FilterSelection
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	snap := sess.SetFilters(f)
	writeJSON(w, http.StatusOK, filtersResponse{Filters: snap.Value, Version: snap.Version})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Checked *bool `json:"checked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Checked == nil {
		writeError(w, http.StatusBadRequest, "checked is required")
		return
	}

	snap, err := sess.Toggle(chi.URLParam(r, "name"), *req.Checked)
	if errors.Is(err, pin.ErrUnknownToggle) {
		writeError(w, http.StatusBadRequest, "unknown filter")
		return
	}
	if err != nil {
		zap.L().Error("api: toggle filter", zap.String("session", sess.ID()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "toggle failed")
		return
	}
	writeJSON(w, http.StatusOK, filtersResponse{Filters: snap.Value, Version: snap.Version})
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	view := sess.Layer().Snapshot()
	w.Header().Set("X-Generation", generationHeader(view.Generation))
	writeJSON(w, http.StatusOK, surface.FeatureCollection(view))
}

func (s *Server) handleFeatureDetail(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid feature index")
		return
	}
	// Indexes only mean something within one generation.
	view := sess.Layer().Snapshot()
	if seq := r.URL.Query().Get("seq"); seq != "" && seq != strconv.FormatUint(view.Generation.Seq, 10) {
		writeError(w, http.StatusConflict, "feature set has changed")
		return
	}
	if idx < 0 || idx >= len(view.Features) {
		writeError(w, http.StatusNotFound, "feature not found")
		return
	}
	writeJSON(w, http.StatusOK, detail.FromFeature(view.Features[idx]))
}

func (s *Server) handleHit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	if errLon != nil || errLat != nil {
		writeError(w, http.StatusBadRequest, "lon and lat are required")
		return
	}

	f, _, hit := sess.Layer().HitTest(lon, lat, s.hitRadius)
	if !hit {
		writeError(w, http.StatusNotFound, "no feature at location")
		return
	}
	writeJSON(w, http.StatusOK, detail.FromFeature(f))
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := s.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
	}
	return sess, ok
}

func generationHeader(g surface.Generation) string {
	return strconv.FormatUint(g.Records, 10) + "." +
		strconv.FormatUint(g.Filters, 10) + "." +
		strconv.FormatUint(g.Seq, 10)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
