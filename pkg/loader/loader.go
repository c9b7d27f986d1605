// Package loader reads Z-plane image stacks from disk into volumes.
//
// A channel is a directory of single-plane images (TIFF or PNG), one file per
// Z-plane, ordered by the number embedded in each filename. A session is a
// directory holding one such channel directory per fluorescence channel.
package loader

import (
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	_ "golang.org/x/image/tiff"

	"zfisher/internal/models"
)

var planeExtensions = map[string]bool{
	".tif":  true,
	".tiff": true,
	".png":  true,
}

// Loader reads channel stacks and sessions
type Loader struct {
	logger *zap.Logger
}

// New creates a Loader
func New(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger}
}

// LoadVolume loads a single channel directory as a volume. Sample values are
// kept as-is (a 16-bit value of 4000 becomes 4000.0).
func (l *Loader) LoadVolume(dir string) (*models.Volume, error) {
	slices, err := l.loadSlices(dir)
	if err != nil {
		return nil, err
	}

	bounds := slices[0].Image.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	vol := models.NewVolume(len(slices), height, width)

	for z, s := range slices {
		b := s.Image.Bounds()
		if b.Dx() != width || b.Dy() != height {
			return nil, fmt.Errorf("slice %s is %dx%d, expected %dx%d", s.Filename, b.Dx(), b.Dy(), width, height)
		}
		imageToPlane(s.Image, vol.Plane(z))
	}

	l.logger.Info("loaded channel",
		zap.String("dir", dir),
		zap.Int("planes", vol.Depth),
		zap.Int("height", height),
		zap.Int("width", width))

	return vol, nil
}

// LoadSession loads every channel directory under root. Channels are named
// after their directories and ordered alphabetically. A root that directly
// holds plane images is loaded as a single channel named Channel_0.
func (l *Loader) LoadSession(root string, voxel models.VoxelSize) (*models.Session, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var channels []string
	hasPlanes := false
	for _, e := range entries {
		if e.IsDir() {
			channels = append(channels, e.Name())
		} else if planeExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			hasPlanes = true
		}
	}
	sort.Strings(channels)

	session := &models.Session{VoxelSize: voxel, Path: root}

	if len(channels) == 0 {
		if !hasPlanes {
			return nil, fmt.Errorf("no channel directories or plane images found in %s", root)
		}
		vol, err := l.LoadVolume(root)
		if err != nil {
			return nil, err
		}
		vol.VoxelSize = voxel
		session.Channels = []string{fmt.Sprintf("Channel_%d", 0)}
		session.Volumes = []*models.Volume{vol}
		return session, nil
	}

	for _, name := range channels {
		vol, err := l.LoadVolume(filepath.Join(root, name))
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", name, err)
		}
		if len(session.Volumes) > 0 && vol.Shape() != session.Volumes[0].Shape() {
			return nil, fmt.Errorf("channel %s has shape %s, expected %s", name, vol.Shape(), session.Volumes[0].Shape())
		}
		vol.VoxelSize = voxel
		session.Channels = append(session.Channels, name)
		session.Volumes = append(session.Volumes, vol)
	}

	l.logger.Info("loaded session",
		zap.String("root", root),
		zap.Strings("channels", session.Channels))

	return session, nil
}

// loadSlices reads and orders the plane images of a channel directory
func (l *Loader) loadSlices(dir string) ([]models.Slice, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if planeExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no TIFF or PNG planes found in %s", dir)
	}

	// Plane order follows the number in the filename, so z2 sorts before z10
	sort.SliceStable(files, func(i, j int) bool {
		ni, nj := extractNumber(files[i]), extractNumber(files[j])
		if ni != nj {
			return ni < nj
		}
		return files[i] < files[j]
	})

	slices := make([]models.Slice, 0, len(files))
	for i, name := range files {
		img, err := loadImage(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to load image %s: %w", name, err)
		}
		slices = append(slices, models.Slice{Image: img, Index: i, Filename: name})
	}

	return slices, nil
}

// extractNumber returns the last run of digits in a filename, or -1
func extractNumber(filename string) int {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	end := -1
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] >= '0' && base[i] <= '9' {
			end = i
			break
		}
	}
	if end < 0 {
		return -1
	}
	start := end
	for start > 0 && base[start-1] >= '0' && base[start-1] <= '9' {
		start--
	}
	num, err := strconv.Atoi(base[start : end+1])
	if err != nil {
		return -1
	}
	return num
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// imageToPlane copies raw sample values into dst without normalisation
func imageToPlane(img image.Image, dst []float32) {
	b := img.Bounds()
	width := b.Dx()

	switch src := img.(type) {
	case *image.Gray16:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < width; x++ {
				dst[y*width+x] = float32(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	case *image.Gray:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < width; x++ {
				dst[y*width+x] = float32(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	default:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < width; x++ {
				g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				dst[y*width+x] = float32(g.Y)
			}
		}
	}
}
