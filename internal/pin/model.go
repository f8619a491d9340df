// Package pin classifies deal pins from the live feed and filters them into
// map-ready point features.
package pin

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/twpayne/go-geom"
)

// Status codes reported by the feed in the StatusReason column.
const (
	StatusInProgress = "1"
	StatusLost       = "2"
	StatusWon        = "100000000"
)

// Record is one pin as received from the feed. Keys follow the dashboard
// export (StatusReason, Gated/Fenced, ...); the lower-camel names are also
// accepted.
type Record struct {
	StatusCode Field
	Fenced     Field
	Latitude   Field
	Longitude  Field
	Address    Field
	Region     Field
	PostalCode Field
}

type wireRecord struct {
	StatusReason    Field `json:"StatusReason"`
	GatedFenced     Field `json:"Gated/Fenced"`
	Latitude        Field `json:"Latitude"`
	Longitude       Field `json:"Longitude"`
	PropertyAddress Field `json:"PropertyAddress"`
	State           Field `json:"State"`
	Zip             Field `json:"Zip"`

	AltStatusCode Field `json:"statusCode"`
	AltFenced     Field `json:"fenced"`
	AltLatitude   Field `json:"latitude"`
	AltLongitude  Field `json:"longitude"`
	AltAddress    Field `json:"address"`
	AltRegion     Field `json:"region"`
	AltPostalCode Field `json:"postalCode"`
}

// UnmarshalJSON decodes a feed record. Dashboard keys win over the
// lower-camel aliases when both are set. An element that is not an object
// decodes as an empty record so the rest of the batch survives; it is later
// rejected for missing coordinates.
func (r *Record) UnmarshalJSON(data []byte) error {
	if t := bytes.TrimSpace(data); len(t) == 0 || t[0] != '{' {
		*r = Record{}
		return nil
	}
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Record{
		StatusCode: firstPresent(w.StatusReason, w.AltStatusCode),
		Fenced:     firstPresent(w.GatedFenced, w.AltFenced),
		Latitude:   firstPresent(w.Latitude, w.AltLatitude),
		Longitude:  firstPresent(w.Longitude, w.AltLongitude),
		Address:    firstPresent(w.PropertyAddress, w.AltAddress),
		Region:     firstPresent(w.State, w.AltRegion),
		PostalCode: firstPresent(w.Zip, w.AltPostalCode),
	}
	return nil
}

// MarshalJSON encodes the record with the dashboard keys, omitting absent fields.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]Field, 7)
	put := func(key string, f Field) {
		if f.Present() {
			out[key] = f
		}
	}
	put("StatusReason", r.StatusCode)
	put("Gated/Fenced", r.Fenced)
	put("Latitude", r.Latitude)
	put("Longitude", r.Longitude)
	put("PropertyAddress", r.Address)
	put("State", r.Region)
	put("Zip", r.PostalCode)
	return json.Marshal(out)
}

func firstPresent(fields ...Field) Field {
	for _, f := range fields {
		if f.Present() {
			return f
		}
	}
	return Field{}
}

// Feature is a record that survived filtering and coordinate parsing.
// It has no identity beyond the recomputation that produced it.
type Feature struct {
	Lon                float64
	Lat                float64
	StatusCode         string
	Fenced             Field
	DisplayName        string
	DisplayDescription string
	Pictogram          Pictogram
}

// Geometry returns the feature's point in WGS84 lon/lat order.
func (f Feature) Geometry() *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{f.Lon, f.Lat}).SetSRID(4326)
}

// Properties returns the property bag handed to the map SDK. GatedFenced is
// omitted when the record had no fenced value.
func (f Feature) Properties() map[string]interface{} {
	props := map[string]interface{}{
		"StatusReasonValue": f.StatusCode,
		"Name":              f.DisplayName,
		"Description":       f.DisplayDescription,
		"image":             string(f.Pictogram),
	}
	if f.Fenced.Present() {
		props["GatedFenced"] = f.Fenced.String()
	}
	return props
}

func describe(r Record) string {
	return fmt.Sprintf("State: %s, Zip: %s", r.Region.String(), r.PostalCode.String())
}
