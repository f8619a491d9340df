package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/deal-map/internal/detail"
	"github.com/sells-group/deal-map/internal/feed"
	"github.com/sells-group/deal-map/internal/pin"
	"github.com/sells-group/deal-map/internal/surface"
)

var (
	renderFile    string
	renderFormat  string
	renderFilters pin.FilterSelection
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Compute map pins for a feed batch without starting the server",
	Long:  "Reads a mapDataUpdate batch from --file or stdin, applies the filter flags, and prints the resulting pins as GeoJSON, YAML detail views, or detail dialogs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("render"); err != nil {
			return err
		}

		payload, err := readBatch(cmd.InOrStdin(), renderFile)
		if err != nil {
			return err
		}
		batch, err := feed.DecodeBatch(payload)
		if err != nil {
			return err
		}

		res := pin.Compute(batch, renderFilters)
		for _, r := range res.Rejected {
			zap.L().Warn("render: skipping pin without usable coordinates",
				zap.Int("index", r.Index),
				zap.String("address", r.Address),
				zap.Error(r.Err),
			)
		}

		return writeFeatures(cmd.OutOrStdout(), renderFormat, res.Features)
	},
}

func init() {
	f := renderCmd.Flags()
	f.StringVar(&renderFile, "file", "", "batch file (default stdin)")
	f.StringVar(&renderFormat, "format", "geojson", "output format: geojson, yaml, or detail")
	f.BoolVar(&renderFilters.Green, "green", false, "show won deals")
	f.BoolVar(&renderFilters.Yellow, "yellow", false, "show in-progress deals")
	f.BoolVar(&renderFilters.Red, "red", false, "show lost deals")
	f.BoolVar(&renderFilters.GatedFenced, "gated", false, "show gated/fenced properties only")
	rootCmd.AddCommand(renderCmd)
}

func readBatch(stdin io.Reader, path string) ([]byte, error) {
	if path == "" {
		data, err := io.ReadAll(stdin)
		return data, eris.Wrap(err, "read batch from stdin")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read batch %s", path)
	}
	return data, nil
}

func writeFeatures(w io.Writer, format string, features []pin.Feature) error {
	switch format {
	case "geojson":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(surface.FeatureCollection(surface.View{Features: features})), "render: encode geojson")
	case "yaml":
		views := make([]detail.View, 0, len(features))
		for _, f := range features {
			views = append(views, detail.FromFeature(f))
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(views); err != nil {
			return eris.Wrap(err, "render: encode yaml")
		}
		return eris.Wrap(enc.Close(), "render: flush yaml")
	case "detail":
		for i, f := range features {
			if i > 0 {
				if _, err := fmt.Fprintln(w); err != nil {
					return eris.Wrap(err, "render: write")
				}
			}
			if err := detail.Render(w, detail.FromFeature(f)); err != nil {
				return eris.Wrap(err, "render: write detail")
			}
		}
		return nil
	default:
		return eris.Errorf("render: unknown format %q", format)
	}
}
