// Package detail builds the pin detail dialog shown when a map feature is
// clicked.
package detail

import (
	"fmt"
	"io"
	"strings"

	"github.com/sells-group/deal-map/internal/pin"
)

// Placeholders for fields the feed left out.
const (
	DefaultTitle     = "Pin Details"
	NotAvailable     = "N/A"
	DismissLabel     = "Close"
	statusLineFormat = "Status Reason Value: %s"
	fencedLineFormat = "Gated/Fenced: %s"
)

// View is the content of the detail dialog.
type View struct {
	Title             string  `json:"title" yaml:"title"`
	StatusReasonValue string  `json:"status_reason_value" yaml:"status_reason_value"`
	GatedFenced       string  `json:"gated_fenced" yaml:"gated_fenced"`
	Description       string  `json:"description" yaml:"description"`
	Pictogram         string  `json:"pictogram" yaml:"pictogram"`
	Longitude         float64 `json:"longitude" yaml:"longitude"`
	Latitude          float64 `json:"latitude" yaml:"latitude"`
}

// FromFeature fills a View, substituting placeholders for absent values.
func FromFeature(f pin.Feature) View {
	title := f.DisplayName
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	fenced := f.Fenced.String()
	if fenced == "" {
		fenced = NotAvailable
	}
	return View{
		Title:             title,
		StatusReasonValue: f.StatusCode,
		GatedFenced:       fenced,
		Description:       f.DisplayDescription,
		Pictogram:         string(f.Pictogram),
		Longitude:         f.Lon,
		Latitude:          f.Lat,
	}
}

// Render writes the dialog as plain text.
func Render(w io.Writer, v View) error {
	lines := []string{
		v.Title,
		strings.Repeat("-", len(v.Title)),
		fmt.Sprintf(statusLineFormat, v.StatusReasonValue),
		fmt.Sprintf(fencedLineFormat, v.GatedFenced),
		v.Description,
		"[" + DismissLabel + "]",
	}
	_, err := io.WriteString(w, strings.Join(lines, "\n")+"\n")
	return err
}
