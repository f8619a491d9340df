package pin

import "github.com/rotisserie/eris"

// Filter toggle names as shown on the map controls.
const (
	ToggleGreen       = "Green"
	ToggleYellow      = "Yellow"
	ToggleRed         = "Red"
	ToggleGatedFenced = "GatedFenced"
)

// ErrUnknownToggle is returned by Toggle for a name that is not a filter.
var ErrUnknownToggle = eris.New("pin: unknown filter toggle")

// FilterSelection holds the four independent map filter checkboxes.
// The zero value shows every pin.
type FilterSelection struct {
	Green       bool `json:"Green" yaml:"green"`
	Yellow      bool `json:"Yellow" yaml:"yellow"`
	Red         bool `json:"Red" yaml:"red"`
	GatedFenced bool `json:"GatedFenced" yaml:"gated_fenced"`
}

// Toggle returns a copy of s with the named checkbox set to checked.
func (s FilterSelection) Toggle(name string, checked bool) (FilterSelection, error) {
	switch name {
	case ToggleGreen:
		s.Green = checked
	case ToggleYellow:
		s.Yellow = checked
	case ToggleRed:
		s.Red = checked
	case ToggleGatedFenced:
		s.GatedFenced = checked
	default:
		return s, eris.Wrapf(ErrUnknownToggle, "toggle %q", name)
	}
	return s, nil
}

// AnyStatus reports whether at least one status color is checked.
func (s FilterSelection) AnyStatus() bool {
	return s.Green || s.Yellow || s.Red
}

// MatchStatus applies the status predicate. With no color checked every
// code passes, unrecognized ones included. Otherwise only codes mapped to a
// checked color pass.
func (s FilterSelection) MatchStatus(code string) bool {
	if !s.AnyStatus() {
		return true
	}
	switch code {
	case StatusWon:
		return s.Green
	case StatusLost:
		return s.Red
	case StatusInProgress:
		return s.Yellow
	}
	return false
}

// MatchFenced applies the gated/fenced predicate.
func (s FilterSelection) MatchFenced(fenced bool) bool {
	return !s.GatedFenced || fenced
}

// Match reports whether r passes both predicates.
func (s FilterSelection) Match(r Record) bool {
	return s.MatchStatus(r.StatusCode.String()) && s.MatchFenced(IsFenced(r.Fenced))
}
