package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"zfisher/internal/models"
	"zfisher/pkg/detection"
)

// markerRadius is the half-width in pixels of a centroid marker
const markerRadius = 2

// ChannelColors maps fluorescence channel names to display colours
var ChannelColors = map[string]color.RGBA{
	"DAPI":  {R: 0, G: 0, B: 255, A: 255},
	"FITC":  {R: 0, G: 255, B: 0, A: 255},
	"CY3":   {R: 255, G: 255, B: 0, A: 255},
	"CY5":   {R: 255, G: 0, B: 0, A: 255},
	"TXRED": {R: 255, G: 0, B: 255, A: 255},
}

// ChannelColor returns the display colour of a channel, white if unknown
func ChannelColor(channel string) color.RGBA {
	if c, ok := ChannelColors[strings.ToUpper(channel)]; ok {
		return c
	}
	return color.RGBA{R: 255, G: 255, B: 255, A: 255}
}

// Viewer renders static previews of a channel volume and the nuclei found
// in it. Intensities are stretched linearly from the volume's minimum to its
// maximum.
type Viewer struct {
	volume *models.Volume

	// intensity range used for display
	min, max float32
}

// NewViewer creates a viewer over vol
func NewViewer(vol *models.Volume) *Viewer {
	v := &Viewer{volume: vol}
	if len(vol.Data) > 0 {
		v.min, v.max = vol.Data[0], vol.Data[0]
		for _, val := range vol.Data {
			if val < v.min {
				v.min = val
			}
			if val > v.max {
				v.max = val
			}
		}
	}
	return v
}

// gray16 maps a raw sample onto the display range
func (v *Viewer) gray16(val float32) color.Gray16 {
	if v.max <= v.min {
		return color.Gray16{}
	}
	n := float64(val-v.min) / float64(v.max-v.min)
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, n*65535)))}
}

// ExtractSlice extracts a 2D slice from the volume along the given axis
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray16, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	vol := v.volume
	var img *image.Gray16

	switch axis {
	case "x", "X":
		// YZ plane
		if position >= vol.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, vol.Width)
		}
		img = image.NewGray16(image.Rect(0, 0, vol.Depth, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for z := 0; z < vol.Depth; z++ {
				img.SetGray16(z, y, v.gray16(vol.At(z, y, position)))
			}
		}

	case "y", "Y":
		// XZ plane
		if position >= vol.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, vol.Height)
		}
		img = image.NewGray16(image.Rect(0, 0, vol.Width, vol.Depth))
		for z := 0; z < vol.Depth; z++ {
			for x := 0; x < vol.Width; x++ {
				img.SetGray16(x, z, v.gray16(vol.At(z, position, x)))
			}
		}

	case "z", "Z":
		// XY plane
		if position >= vol.Depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, vol.Depth)
		}
		img = image.NewGray16(image.Rect(0, 0, vol.Width, vol.Height))
		plane := vol.Plane(position)
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				img.SetGray16(x, y, v.gray16(plane[y*vol.Width+x]))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// MaxProjection collapses the volume along Z, keeping the brightest sample
// of every (y, x) column
func (v *Viewer) MaxProjection() *image.Gray16 {
	vol := v.volume
	img := image.NewGray16(image.Rect(0, 0, vol.Width, vol.Height))
	if vol.Depth == 0 {
		return img
	}

	proj := make([]float32, vol.Height*vol.Width)
	copy(proj, vol.Plane(0))
	for z := 1; z < vol.Depth; z++ {
		for i, val := range vol.Plane(z) {
			if val > proj[i] {
				proj[i] = val
			}
		}
	}

	for y := 0; y < vol.Height; y++ {
		for x := 0; x < vol.Width; x++ {
			img.SetGray16(x, y, v.gray16(proj[y*vol.Width+x]))
		}
	}
	return img
}

// RenderCentroids draws a square marker of colour c at every centroid on top
// of the maximum projection
func (v *Viewer) RenderCentroids(centroids []detection.Centroid, c color.Color) *image.RGBA {
	proj := v.MaxProjection()
	b := proj.Bounds()
	img := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			img.Set(x, y, proj.Gray16At(x, y))
		}
	}

	for _, cent := range centroids {
		cx, cy := int(math.Round(cent.X)), int(math.Round(cent.Y))
		for dy := -markerRadius; dy <= markerRadius; dy++ {
			for dx := -markerRadius; dx <= markerRadius; dx++ {
				p := image.Pt(cx+dx, cy+dy)
				if p.In(b) {
					img.Set(p.X, p.Y, c)
				}
			}
		}
	}
	return img
}

// SavePreview writes img to path, shrinking it so its longer side is at most
// maxDim pixels. The format follows the file extension.
func SavePreview(img image.Image, path string, maxDim int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	b := img.Bounds()
	if maxDim > 0 && (b.Dx() > maxDim || b.Dy() > maxDim) {
		if b.Dx() >= b.Dy() {
			img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
		}
	}

	return imaging.Save(img, path)
}

// SaveSliceSequence extracts and saves every slice along the given axis as PNG
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.volume.Width
	case "y", "Y":
		maxPos = v.volume.Height
	case "z", "Z":
		maxPos = v.volume.Depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", strings.ToLower(axis), pos))
		if err := imaging.Save(img, filename); err != nil {
			return err
		}
	}

	return nil
}
