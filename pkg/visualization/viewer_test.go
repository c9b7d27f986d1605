package visualization

import (
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"os"
	"path/filepath"
	"testing"

	"zfisher/internal/models"
	"zfisher/pkg/detection"
)

// gradientVolume fills each Z plane with the value z
func gradientVolume(depth, height, width int) *models.Volume {
	vol := models.NewVolume(depth, height, width)
	for z := 0; z < depth; z++ {
		plane := vol.Plane(z)
		for i := range plane {
			plane[i] = float32(z)
		}
	}
	return vol
}

// TestExtractSlice verifies that slices are correctly extracted from the volume
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 8, 5
	viewer := NewViewer(gradientVolume(depth, height, width))

	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}
		if img.Bounds().Dx() != width || img.Bounds().Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d",
				width, height, img.Bounds().Dx(), img.Bounds().Dy())
		}

		expected := uint16(float64(z) / float64(depth-1) * 65535)
		if got := img.Gray16At(3, 3).Y; got != expected {
			t.Errorf("Expected pixel value %d in Z slice %d, got %d", expected, z, got)
		}
	}

	img, err := viewer.ExtractSlice("x", 2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if img.Bounds().Dx() != depth || img.Bounds().Dy() != height {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d",
			depth, height, img.Bounds().Dx(), img.Bounds().Dy())
	}

	img, err = viewer.ExtractSlice("Y", 1)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if img.Bounds().Dx() != width || img.Bounds().Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d",
			width, depth, img.Bounds().Dx(), img.Bounds().Dy())
	}

	if _, err := viewer.ExtractSlice("w", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := viewer.ExtractSlice("z", depth); err == nil {
		t.Error("Expected error for out of range position, got nil")
	}
	if _, err := viewer.ExtractSlice("z", -1); err == nil {
		t.Error("Expected error for negative position, got nil")
	}
}

// TestMaxProjection verifies the brightest plane wins every column
func TestMaxProjection(t *testing.T) {
	vol := models.NewVolume(3, 4, 4)
	vol.Set(1, 2, 2, 100)
	vol.Set(2, 0, 0, 50)
	viewer := NewViewer(vol)

	img := viewer.MaxProjection()
	if got := img.Gray16At(2, 2).Y; got != 65535 {
		t.Errorf("Expected brightest pixel 65535, got %d", got)
	}
	if got := img.Gray16At(0, 0).Y; got != 32767 {
		t.Errorf("Expected half intensity 32767, got %d", got)
	}
	if got := img.Gray16At(3, 3).Y; got != 0 {
		t.Errorf("Expected background 0, got %d", got)
	}
}

// TestRenderCentroids verifies markers are drawn and clipped at the border
func TestRenderCentroids(t *testing.T) {
	viewer := NewViewer(gradientVolume(2, 20, 20))
	blue := ChannelColor("dapi")

	img := viewer.RenderCentroids([]detection.Centroid{
		{Z: 1, Y: 10, X: 10},
		{Z: 0, Y: 0.4, X: 19.2},
	}, blue)

	if img.Bounds() != image.Rect(0, 0, 20, 20) {
		t.Fatalf("Expected 20x20 image, got %v", img.Bounds())
	}
	for _, p := range []image.Point{{10, 10}, {12, 8}, {19, 0}, {17, 2}} {
		if got := img.RGBAAt(p.X, p.Y); got != blue {
			t.Errorf("Expected marker at %v, got %v", p, got)
		}
	}
	if got := img.RGBAAt(5, 5); got == blue {
		t.Errorf("Expected no marker at (5,5)")
	}
}

// TestChannelColor verifies the channel colour map and its fallback
func TestChannelColor(t *testing.T) {
	tests := map[string]color.RGBA{
		"DAPI":  {B: 255, A: 255},
		"fitc":  {G: 255, A: 255},
		"TxRed": {R: 255, B: 255, A: 255},
		"GFP":   {R: 255, G: 255, B: 255, A: 255},
	}
	for name, expected := range tests {
		if got := ChannelColor(name); got != expected {
			t.Errorf("Expected colour %v for %s, got %v", expected, name, got)
		}
	}
}

// TestSavePreview verifies previews are shrunk to the requested size
func TestSavePreview(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "viewer_test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tempDir)

	viewer := NewViewer(gradientVolume(2, 40, 80))
	path := filepath.Join(tempDir, "preview", "dapi.png")
	if err := SavePreview(viewer.MaxProjection(), path, 20); err != nil {
		t.Fatalf("Failed to save preview: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Preview was not written: %v", err)
	}
	defer file.Close()

	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		t.Fatalf("Failed to decode preview: %v", err)
	}
	if cfg.Width != 20 || cfg.Height != 10 {
		t.Errorf("Expected preview size 20x10, got %dx%d", cfg.Width, cfg.Height)
	}
}

// TestSaveSliceSequence verifies one file is written per slice
func TestSaveSliceSequence(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "viewer_test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tempDir)

	depth := 3
	viewer := NewViewer(gradientVolume(depth, 5, 5))
	if err := viewer.SaveSliceSequence("Z", tempDir); err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}

	for z := 0; z < depth; z++ {
		filename := filepath.Join(tempDir, fmt.Sprintf("slice_z_%03d.png", z))
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			t.Errorf("Expected slice file %s to exist", filename)
		}
	}

	if err := viewer.SaveSliceSequence("q", tempDir); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
}
