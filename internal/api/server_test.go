package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-map/internal/assets"
	"github.com/sells-group/deal-map/internal/config"
	"github.com/sells-group/deal-map/internal/detail"
	"github.com/sells-group/deal-map/internal/feed"
	"github.com/sells-group/deal-map/internal/pin"
	"github.com/sells-group/deal-map/internal/session"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

const threePins = `[
	{"StatusReason":"100000000","Gated/Fenced":"Y","Latitude":"40.7128","Longitude":"-74.0060","PropertyAddress":"1 Main St","State":"NY","Zip":"10001"},
	{"StatusReason":"2","Gated/Fenced":"N","Latitude":41.0,"Longitude":-73.5,"State":"CT","Zip":"06830"},
	{"StatusReason":"1","Latitude":"","Longitude":"-74.2","PropertyAddress":"No Lat Rd"}
]`

type fixture struct {
	hub      *feed.Hub
	sessions *session.Manager
	handler  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "green-pin.png"), []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), 0o644))
	icons := assets.NewRegistry()
	icons.Load(context.Background(), dir)

	hub := feed.NewHub()
	sessions := session.NewManager(context.Background(), hub)
	t.Cleanup(sessions.CloseAll)

	srv := NewServer(Options{
		Sessions: sessions,
		Icons:    icons,
		FeedHook: feed.NewWebhookSource(hub, 1<<20),
		Map: config.MapConfig{
			SubscriptionKey: "key",
			CenterLon:       -74.006,
			CenterLat:       40.7128,
			Zoom:            8,
			View:            "Auto",
			ClusterRadius:   45,
		},
		HitRadius:      50,
		AllowedOrigins: []string{"*"},
	})
	return &fixture{hub: hub, sessions: sessions, handler: srv.Routes()}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func (f *fixture) createSession(t *testing.T, body string) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/sessions", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

// waitRecords blocks until the session's layer reflects feed version v.
func (f *fixture) waitRecords(t *testing.T, id string, v uint64) {
	t.Helper()
	sess, ok := f.sessions.Get(id)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return sess.Layer().Snapshot().Generation.Records == v
	}, waitFor, tick)
}

func (f *fixture) waitFilters(t *testing.T, id string, v uint64) {
	t.Helper()
	sess, ok := f.sessions.Get(id)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return sess.Layer().Snapshot().Generation.Filters == v
	}, waitFor, tick)
}

type featureCollection struct {
	Type     string `json:"type"`
	Features []struct {
		ID       string `json:"id"`
		Geometry struct {
			Type        string    `json:"type"`
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties map[string]any `json:"properties"`
	} `json:"features"`
}

func decodeFeatures(t *testing.T, w *httptest.ResponseRecorder) featureCollection {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var fc featureCollection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fc))
	return fc
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestMapConfig(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/map/config", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp mapConfigResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "key", resp.SubscriptionKey)
	assert.Equal(t, [2]float64{-74.006, 40.7128}, resp.Center)
	assert.Equal(t, 8, resp.Zoom)
	assert.Equal(t, "Auto", resp.View)
	assert.Equal(t, 45, resp.ClusterRadius)
	assert.Equal(t, pin.AllPictograms(), resp.Icons)
	assert.Equal(t, []pin.Pictogram{pin.GreenPin}, resp.IconsLoaded)
	assert.True(t, resp.AssetsReady)
}

func TestIcons(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/icons/green-pin.png", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = f.do(t, http.MethodGet, "/icons/red-pin.png", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dealmap_")
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t)

	t.Run("empty body", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/sessions", "")
		require.Equal(t, http.StatusCreated, w.Code)
		var resp sessionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.ID)
		assert.Equal(t, pin.FilterSelection{}, resp.Filters)
	})

	t.Run("initial filters", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/sessions", `{"Red":true,"GatedFenced":true}`)
		require.Equal(t, http.StatusCreated, w.Code)
		var resp sessionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, pin.FilterSelection{Red: true, GatedFenced: true}, resp.Filters)
	})

	t.Run("malformed body", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/sessions", `{"Red":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(t)

	paths := []struct {
		method, path string
	}{
		{http.MethodGet, "/sessions/nope/features"},
		{http.MethodGet, "/sessions/nope/filters"},
		{http.MethodGet, "/sessions/nope/features/0"},
		{http.MethodGet, "/sessions/nope/hit?lon=0&lat=0"},
		{http.MethodGet, "/sessions/nope/stream"},
		{http.MethodDelete, "/sessions/nope"},
	}
	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			w := f.do(t, p.method, p.path, "")
			assert.Equal(t, http.StatusNotFound, w.Code)
			assert.JSONEq(t, `{"error":"session not found"}`, w.Body.String())
		})
	}
}

func TestCloseSession(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t, "")

	w := f.do(t, http.MethodDelete, "/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, f.sessions.Len())

	w = f.do(t, http.MethodGet, "/sessions/"+id+"/features", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFeatures_EmptyBeforeFeed(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t, "")

	fc := decodeFeatures(t, f.do(t, http.MethodGet, "/sessions/"+id+"/features", ""))
	assert.Equal(t, "FeatureCollection", fc.Type)
	assert.Empty(t, fc.Features)
}

func TestFeatures_FromWebhook(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t, "")

	w := f.do(t, http.MethodPost, "/feed/mapDataUpdate", threePins)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	f.waitRecords(t, id, 1)

	w = f.do(t, http.MethodGet, "/sessions/"+id+"/features", "")
	assert.True(t, strings.HasPrefix(w.Header().Get("X-Generation"), "1.0."), w.Header().Get("X-Generation"))
	fc := decodeFeatures(t, w)

	// The record without a latitude is skipped.
	require.Len(t, fc.Features, 2)

	first := fc.Features[0]
	assert.Equal(t, "0", first.ID)
	assert.Equal(t, "Point", first.Geometry.Type)
	assert.InDeltaSlice(t, []float64{-74.006, 40.7128}, first.Geometry.Coordinates, 1e-9)
	assert.Equal(t, "100000000", first.Properties["StatusReasonValue"])
	assert.Equal(t, "Y", first.Properties["GatedFenced"])
	assert.Equal(t, "1 Main St", first.Properties["Name"])
	assert.Equal(t, "State: NY, Zip: 10001", first.Properties["Description"])
	assert.Equal(t, "green-pin-fence", first.Properties["image"])

	second := fc.Features[1]
	assert.Equal(t, "red-pin", second.Properties["image"])
	assert.Equal(t, "N", second.Properties["GatedFenced"])
}

func TestFeatures_MalformedFeedKeepsPrevious(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t, "")

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/feed/mapDataUpdate", threePins).Code)
	f.waitRecords(t, id, 1)

	w := f.do(t, http.MethodPost, "/feed/mapDataUpdate", `{"not":"an array"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, uint64(1), f.hub.Snapshot().Version)

	fc := decodeFeatures(t, f.do(t, http.MethodGet, "/sessions/"+id+"/features", ""))
	assert.Len(t, fc.Features, 2)
}

func TestFilters_PutAndToggle(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t, "")
	f.hub.Publish(mustBatch(t, threePins))
	f.waitRecords(t, id, 1)

	w := f.do(t, http.MethodPut, "/sessions/"+id+"/filters", `{"Green":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp filtersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, pin.FilterSelection{Green: true}, resp.Filters)
	assert.Equal(t, uint64(1), resp.Version)

	f.waitFilters(t, id, 1)
	fc := decodeFeatures(t, f.do(t, http.MethodGet, "/sessions/"+id+"/features", ""))
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "green-pin-fence", fc.Features[0].Properties["image"])

	w = f.do(t, http.MethodPatch, "/sessions/"+id+"/filters/Red", `{"checked":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, pin.FilterSelection{Green: true, Red: true}, resp.Filters)
	assert.Equal(t, uint64(2), resp.Version)

	f.waitFilters(t, id, 2)
	fc = decodeFeatures(t, f.do(t, http.MethodGet, "/sessions/"+id+"/features", ""))
	assert.Len(t, fc.Features, 2)

	w = f.do(t, http.MethodPatch, "/sessions/"+id+"/filters/GatedFenced", `{"checked":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	f.waitFilters(t, id, 3)
	fc = decodeFeatures(t, f.do(t, http.MethodGet, "/sessions/"+id+"/features", ""))
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "Y", fc.Features[0].Properties["GatedFenced"])

	w = f.do(t, http.MethodGet, "/sessions/"+id+"/filters", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"filters":{"Green":true,"Yellow":false,"Red":true,"GatedFenced":true},"version":3}`, w.Body.String())
}

func TestFilters_BadRequests(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t, "")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"put malformed", http.MethodPut, "/filters", `[`},
		{"toggle unknown name", http.MethodPatch, "/filters/Purple", `{"checked":true}`},
		{"toggle missing checked", http.MethodPatch, "/filters/Red", `{}`},
		{"toggle malformed", http.MethodPatch, "/filters/Red", `nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.method, "/sessions/"+id+tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	sess, ok := f.sessions.Get(id)
	require.True(t, ok)
	assert.Equal(t, uint64(0), sess.Filters().Version)
}

func TestFiltersAreSessionScoped(t *testing.T) {
	f := newFixture(t)
	a := f.createSession(t, "")
	b := f.createSession(t, "")
	f.hub.Publish(mustBatch(t, threePins))
	f.waitRecords(t, a, 1)
	f.waitRecords(t, b, 1)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPatch, "/sessions/"+a+"/filters/Red", `{"checked":true}`).Code)
	f.waitFilters(t, a, 1)

	assert.Len(t, decodeFeatures(t, f.do(t, http.MethodGet, "/sessions/"+a+"/features", "")).Features, 1)
	assert.Len(t, decodeFeatures(t, f.do(t, http.MethodGet, "/sessions/"+b+"/features", "")).Features, 2)
}

func TestFeatureDetail(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t, "")
	f.hub.Publish(mustBatch(t, threePins))
	f.waitRecords(t, id, 1)

	w := f.do(t, http.MethodGet, "/sessions/"+id+"/features/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var v detail.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, detail.DefaultTitle, v.Title)
	assert.Equal(t, "2", v.StatusReasonValue)
	assert.Equal(t, "N", v.GatedFenced)
	assert.Equal(t, "State: CT, Zip: 06830", v.Description)

	t.Run("out of range", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/sessions/"+id+"/features/2", "").Code)
		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/sessions/"+id+"/features/-1", "").Code)
	})

	t.Run("not a number", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/sessions/"+id+"/features/x", "").Code)
	})

	t.Run("stale generation", func(t *testing.T) {
		sess, ok := f.sessions.Get(id)
		require.True(t, ok)
		seq := strconv.FormatUint(sess.Layer().Snapshot().Generation.Seq, 10)
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/sessions/"+id+"/features/0?seq="+seq, "").Code)
		assert.Equal(t, http.StatusConflict, f.do(t, http.MethodGet, "/sessions/"+id+"/features/0?seq=99", "").Code)
	})
}

func TestHit(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t, "")
	f.hub.Publish(mustBatch(t, threePins))
	f.waitRecords(t, id, 1)

	w := f.do(t, http.MethodGet, "/sessions/"+id+"/hit?lon=-74.0061&lat=40.7128", "")
	require.Equal(t, http.StatusOK, w.Code)
	var v detail.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, "100000000", v.StatusReasonValue)
	assert.Equal(t, "Y", v.GatedFenced)

	w = f.do(t, http.MethodGet, "/sessions/"+id+"/hit?lon=-80&lat=35", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/sessions/"+id+"/hit?lon=-74", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStream(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	id := f.createSession(t, "")
	f.waitRecords(t, id, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sessions/"+id+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := make(chan featureCollection, 4)
	go func() {
		defer close(frames)
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var fc featureCollection
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &fc) == nil {
				frames <- fc
			}
		}
	}()

	next := func() featureCollection {
		select {
		case fc, ok := <-frames:
			require.True(t, ok, "stream ended early")
			return fc
		case <-time.After(waitFor):
			t.Fatal("no frame received")
		}
		return featureCollection{}
	}

	assert.Empty(t, next().Features)

	f.hub.Publish(mustBatch(t, threePins))
	// Frames for earlier generations may arrive first.
	for len(next().Features) != 2 {
	}

	assert.Equal(t, 0, f.sessions.Reap(0), "streaming sessions are not reaped")
	assert.Equal(t, 1, f.sessions.Len())
}

func mustBatch(t *testing.T, raw string) feed.Batch {
	t.Helper()
	b, err := feed.DecodeBatch([]byte(raw))
	require.NoError(t, err)
	return b
}
