// Package surface holds the features currently shown on a map and answers
// the map's GeoJSON and hit-test requests.
package surface

import (
	"math"
	"strconv"
	"sync"

	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/deal-map/internal/pin"
	"github.com/sells-group/deal-map/internal/state"
)

// Generation identifies the inputs a feature set was computed from.
type Generation struct {
	Records uint64 `json:"records"`
	Filters uint64 `json:"filters"`
	Seq     uint64 `json:"seq"`
}

// View is one immutable generation of features.
type View struct {
	Generation Generation
	Features   []pin.Feature
}

// Layer is the map's feature collection. Each Replace clears the previous
// generation and adds the new one; there are no partial updates.
type Layer struct {
	cell *state.Cell[View]
	mu   sync.Mutex
	seq  uint64
}

// NewLayer returns an empty layer.
func NewLayer() *Layer {
	return &Layer{cell: state.NewCell(View{Features: []pin.Feature{}})}
}

// Replace swaps in a new feature set computed from the given input versions.
func (l *Layer) Replace(records, filters uint64, features []pin.Feature) View {
	copied := make([]pin.Feature, len(features))
	copy(copied, features)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	view := View{
		Generation: Generation{Records: records, Filters: filters, Seq: l.seq},
		Features:   copied,
	}
	l.cell.Set(view)
	return view
}

// Snapshot returns the current generation.
func (l *Layer) Snapshot() View {
	return l.cell.Get().Value
}

// Subscribe returns a coalescing signal fired on every Replace.
func (l *Layer) Subscribe() (<-chan struct{}, func()) {
	return l.cell.Watch()
}

// Feature returns the feature at index i of the current generation.
func (l *Layer) Feature(i int) (pin.Feature, bool) {
	v := l.Snapshot()
	if i < 0 || i >= len(v.Features) {
		return pin.Feature{}, false
	}
	return v.Features[i], true
}

// HitTest returns the feature nearest to (lon, lat) within radiusMeters.
// Ties go to the lower index.
func (l *Layer) HitTest(lon, lat, radiusMeters float64) (pin.Feature, int, bool) {
	v := l.Snapshot()
	best := -1
	bestDist := math.Inf(1)
	for i, f := range v.Features {
		d := HaversineMeters(lat, lon, f.Lat, f.Lon)
		if d <= radiusMeters && d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return pin.Feature{}, -1, false
	}
	return v.Features[best], best, true
}

// FeatureCollection encodes a generation as GeoJSON. Feature ids are the
// indexes within the generation.
func FeatureCollection(v View) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(v.Features))}
	for i, f := range v.Features {
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         strconv.Itoa(i),
			Geometry:   f.Geometry(),
			Properties: f.Properties(),
		})
	}
	return fc
}

const earthRadiusMeters = 6371008.8

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}
