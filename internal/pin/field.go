package pin

import (
	"bytes"
	"encoding/json"
)

// Field is a tolerant scalar read from a feed record. It remembers whether
// the key was present and keeps the value as text: strings verbatim, numbers
// as their literal, booleans as "true"/"false". JSON null counts as absent.
type Field struct {
	text    string
	present bool
}

// NewField returns a present Field holding s.
func NewField(s string) Field {
	return Field{text: s, present: true}
}

// String returns the textual value, or "" when absent.
func (f Field) String() string { return f.text }

// Present reports whether the field was set to a non-null value.
func (f Field) Present() bool { return f.present }

// UnmarshalJSON accepts any JSON value and never fails on well-formed input.
func (f *Field) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = Field{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = NewField(s)
		return nil
	}
	// Numbers, booleans, and composite values keep their raw literal.
	*f = NewField(string(data))
	return nil
}

// MarshalJSON writes the value back as a JSON string, or null when absent.
func (f Field) MarshalJSON() ([]byte, error) {
	if !f.present {
		return []byte("null"), nil
	}
	return json.Marshal(f.text)
}
