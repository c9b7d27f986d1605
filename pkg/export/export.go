// Package export writes detection results as CSV, JSON and plots.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"zfisher/pkg/detection"
)

// CSVHeader is the first row written by WriteCSV
var CSVHeader = []string{"label", "z", "y", "x"}

// WriteCSV writes one row per centroid, in label order
func WriteCSV(w io.Writer, result *detection.Result) error {
	if len(result.Labels) != len(result.Centroids) {
		return fmt.Errorf("result has %d labels for %d centroids", len(result.Labels), len(result.Centroids))
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for i, c := range result.Centroids {
		row := []string{
			strconv.FormatUint(uint64(result.Labels[i]), 10),
			formatCoord(c.Z),
			formatCoord(c.Y),
			formatCoord(c.X),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteJSON writes the whole result, label map excluded
func WriteJSON(w io.Writer, result *detection.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// SaveCSV writes the CSV form of result to path, creating parent directories
func SaveCSV(path string, result *detection.Result) error {
	return saveFile(path, func(w io.Writer) error { return WriteCSV(w, result) })
}

// SaveJSON writes the JSON form of result to path, creating parent directories
func SaveJSON(path string, result *detection.Result) error {
	return saveFile(path, func(w io.Writer) error { return WriteJSON(w, result) })
}

func saveFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// PlotCentroids saves an XY scatter of the centroids to path. Markers shade
// from blue at the first plane to red at the last, and the Y axis points
// down to match image orientation.
func PlotCentroids(result *detection.Result, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Nuclei centroids (%d)", len(result.Centroids))
	p.X.Label.Text = "X (voxels)"
	p.Y.Label.Text = "Y (voxels)"
	p.Y.Scale = plot.InvertedScale{Normalizer: plot.LinearScale{}}
	p.Add(plotter.NewGrid())

	if len(result.Centroids) > 0 {
		pts := make(plotter.XYs, len(result.Centroids))
		for i, c := range result.Centroids {
			pts[i] = plotter.XY{X: c.X, Y: c.Y}
		}

		scatter, err := plotter.NewScatter(pts)
		if err != nil {
			return err
		}
		depth := float64(result.Shape[0])
		scatter.GlyphStyleFunc = func(i int) draw.GlyphStyle {
			return draw.GlyphStyle{
				Color:  depthColor(result.Centroids[i].Z, depth),
				Radius: vg.Points(2.5),
				Shape:  draw.CircleGlyph{},
			}
		}
		p.Add(scatter)
	}

	p.X.Min, p.X.Max = 0, float64(result.Shape[2])
	p.Y.Min, p.Y.Max = 0, float64(result.Shape[1])

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return p.Save(6*vg.Inch, 6*vg.Inch, path)
}

// depthColor interpolates between blue and red along the Z axis
func depthColor(z, depth float64) color.Color {
	t := 0.0
	if depth > 1 {
		t = z / (depth - 1)
	}
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return color.RGBA{R: uint8(255 * t), G: 64, B: uint8(255 * (1 - t)), A: 255}
}
