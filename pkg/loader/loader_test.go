package loader

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"zfisher/internal/models"
)

// writePlane writes a Gray16 plane whose every pixel is value + x
func writePlane(t *testing.T, path string, width, height int, value uint16) {
	t.Helper()
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: value + uint16(x)})
		}
	}

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	switch filepath.Ext(path) {
	case ".png":
		require.NoError(t, png.Encode(f, img))
	default:
		require.NoError(t, tiff.Encode(f, img, nil))
	}
}

func TestExtractNumber(t *testing.T) {
	tests := map[string]int{
		"plane_z10.tif":    10,
		"z2.png":           2,
		"dapi_c1_z007.tif": 7,
		"noindex.tif":      -1,
		"/tmp/a/42.tiff":   42,
	}
	for name, want := range tests {
		assert.Equal(t, want, extractNumber(name), name)
	}
}

func TestLoadVolumeOrdersPlanesNumerically(t *testing.T) {
	dir := t.TempDir()
	writePlane(t, filepath.Join(dir, "z10.tif"), 4, 3, 3000)
	writePlane(t, filepath.Join(dir, "z2.tif"), 4, 3, 2000)
	writePlane(t, filepath.Join(dir, "z1.png"), 4, 3, 1000)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	vol, err := New(nil).LoadVolume(dir)
	require.NoError(t, err)

	assert.Equal(t, models.Shape{3, 3, 4}, vol.Shape())
	assert.Equal(t, float32(1000), vol.At(0, 0, 0))
	assert.Equal(t, float32(2003), vol.At(1, 2, 3))
	assert.Equal(t, float32(3001), vol.At(2, 1, 1), "16-bit samples must not be normalised")
}

func TestLoadVolumeRejectsMixedSizes(t *testing.T) {
	dir := t.TempDir()
	writePlane(t, filepath.Join(dir, "z0.png"), 4, 3, 0)
	writePlane(t, filepath.Join(dir, "z1.png"), 5, 3, 0)

	_, err := New(nil).LoadVolume(dir)
	assert.Error(t, err)
}

func TestLoadVolumeEmptyDir(t *testing.T) {
	_, err := New(nil).LoadVolume(t.TempDir())
	assert.Error(t, err)
}

func TestLoadVolumeEightBit(t *testing.T) {
	dir := t.TempDir()
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	img.SetGray(1, 1, color.Gray{Y: 200})
	f, err := os.Create(filepath.Join(dir, "z0.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	vol, err := New(nil).LoadVolume(dir)
	require.NoError(t, err)
	assert.Equal(t, float32(200), vol.At(0, 1, 1))
}

func TestLoadSession(t *testing.T) {
	root := t.TempDir()
	for _, ch := range []string{"FITC", "DAPI"} {
		dir := filepath.Join(root, ch)
		require.NoError(t, os.MkdirAll(dir, 0755))
		for z := 0; z < 2; z++ {
			writePlane(t, filepath.Join(dir, "z"+string(rune('0'+z))+".tif"), 3, 3, uint16(100*(z+1)))
		}
	}

	voxel := models.VoxelSize{Z: 0.3, Y: 0.1, X: 0.1}
	session, err := New(nil).LoadSession(root, voxel)
	require.NoError(t, err)

	assert.Equal(t, []string{"DAPI", "FITC"}, session.Channels)
	assert.Equal(t, root, session.Path)

	dapi, err := session.Channel("dapi")
	require.NoError(t, err)
	assert.Equal(t, models.Shape{2, 3, 3}, dapi.Shape())
	assert.Equal(t, voxel, dapi.VoxelSize)

	_, err = session.Channel("CY5")
	assert.Error(t, err)
}

func TestLoadSessionFlatDirectory(t *testing.T) {
	root := t.TempDir()
	writePlane(t, filepath.Join(root, "z0.png"), 2, 2, 5)

	session, err := New(nil).LoadSession(root, models.VoxelSize{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Channel_0"}, session.Channels)
}

func TestLoadSessionMismatchedChannels(t *testing.T) {
	root := t.TempDir()
	for i, ch := range []string{"A", "B"} {
		dir := filepath.Join(root, ch)
		require.NoError(t, os.MkdirAll(dir, 0755))
		writePlane(t, filepath.Join(dir, "z0.png"), 3+i, 3, 0)
	}

	_, err := New(nil).LoadSession(root, models.VoxelSize{})
	assert.Error(t, err)
}
