package pin

import "strings"

// Pictogram identifies the marker image drawn for a feature.
type Pictogram string

// Marker images registered with the map SDK.
const (
	GreenPin       Pictogram = "green-pin"
	YellowPin      Pictogram = "yellow-pin"
	RedPin         Pictogram = "red-pin"
	GreenPinFence  Pictogram = "green-pin-fence"
	YellowPinFence Pictogram = "yellow-pin-fence"
	RedPinFence    Pictogram = "red-pin-fence"
)

const (
	fencedSuffix    = "-fence"
	fencedFlagValue = "Y"
)

// AllPictograms returns every marker id in asset load order.
func AllPictograms() []Pictogram {
	return []Pictogram{GreenPin, YellowPin, RedPin, GreenPinFence, YellowPinFence, RedPinFence}
}

// IsFenced interprets a Gated/Fenced value: "Y" in any case, ignoring
// surrounding whitespace. Absent or anything else is false.
func IsFenced(f Field) bool {
	return f.Present() && strings.EqualFold(strings.TrimSpace(f.String()), fencedFlagValue)
}

// ResolvePictogram maps a status code and fenced flag to a marker.
// Unrecognized codes draw as in progress (yellow).
func ResolvePictogram(statusCode string, fenced bool) Pictogram {
	var base Pictogram
	switch statusCode {
	case StatusInProgress:
		base = YellowPin
	case StatusLost:
		base = RedPin
	case StatusWon:
		base = GreenPin
	default:
		// TODO: confirm with the feed owners whether unknown codes should get
		// their own marker instead of sharing the in-progress one.
		base = YellowPin
	}
	if fenced {
		return base + fencedSuffix
	}
	return base
}
