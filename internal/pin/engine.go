package pin

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Coordinate errors reported in Rejection.Err.
var (
	ErrMissingCoordinate = eris.New("pin: missing coordinate")
	ErrInvalidCoordinate = eris.New("pin: invalid coordinate")
)

// Rejection reason labels.
const (
	ReasonMissing = "missing"
	ReasonInvalid = "invalid"
)

// RejectReason labels a coordinate error from ParseCoordinates.
func RejectReason(err error) string {
	if errors.Is(err, ErrMissingCoordinate) {
		return ReasonMissing
	}
	return ReasonInvalid
}

// Rejection describes a record that passed the filters but could not be
// placed on the map.
type Rejection struct {
	Index   int
	Address string
	Err     error
}

// Result is the output of one recomputation pass.
type Result struct {
	Features []Feature
	Rejected []Rejection
}

// Compute filters records, drops those without usable coordinates, and
// assigns each survivor its marker. It has no side effects; callers decide
// what to do with Rejected. Output order follows input order.
func Compute(records []Record, filters FilterSelection) Result {
	res := Result{Features: make([]Feature, 0, len(records))}

	for i, r := range records {
		if !filters.Match(r) {
			continue
		}

		lon, lat, err := ParseCoordinates(r)
		if err != nil {
			res.Rejected = append(res.Rejected, Rejection{
				Index:   i,
				Address: r.Address.String(),
				Err:     err,
			})
			continue
		}

		code := r.StatusCode.String()
		res.Features = append(res.Features, Feature{
			Lon:                lon,
			Lat:                lat,
			StatusCode:         code,
			Fenced:             r.Fenced,
			DisplayName:        r.Address.String(),
			DisplayDescription: describe(r),
			Pictogram:          ResolvePictogram(code, IsFenced(r.Fenced)),
		})
	}

	return res
}

// ParseCoordinates returns the record's longitude and latitude.
func ParseCoordinates(r Record) (lon, lat float64, err error) {
	lat, err = parseCoordinate("latitude", r.Latitude)
	if err != nil {
		return 0, 0, err
	}
	lon, err = parseCoordinate("longitude", r.Longitude)
	if err != nil {
		return 0, 0, err
	}
	return lon, lat, nil
}

func parseCoordinate(name string, f Field) (float64, error) {
	if !f.Present() {
		return 0, eris.Wrap(ErrMissingCoordinate, name)
	}
	text := strings.TrimSpace(f.String())
	if text == "" {
		return 0, eris.Wrap(ErrMissingCoordinate, name)
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, eris.Wrapf(ErrInvalidCoordinate, "%s %q", name, f.String())
	}
	return v, nil
}
