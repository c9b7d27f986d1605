package models

import (
	"fmt"
	"image"
	"strings"
)

// Slice represents a single Z-plane image of one channel with metadata
type Slice struct {
	// Image is the decoded plane
	Image image.Image

	// Index is the position of this plane in the stack
	Index int

	// Filename is the original filename of the plane
	Filename string
}

// VoxelSize is the physical size of a voxel in microns
type VoxelSize struct {
	Z, Y, X float64
}

// Volume is a single-channel 3D intensity array indexed (Z, Y, X)
type Volume struct {
	// Data holds the intensities in row-major order: z*Height*Width + y*Width + x
	Data []float32

	// Depth is the number of Z-planes
	Depth int

	// Height is the number of rows in each plane
	Height int

	// Width is the number of columns in each plane
	Width int

	// VoxelSize is the physical voxel size, zero when unknown
	VoxelSize VoxelSize
}

// Shape is the (Z, Y, X) extent of a volume
type Shape [3]int

func (s Shape) String() string {
	return fmt.Sprintf("(%d,%d,%d)", s[0], s[1], s[2])
}

// Voxels returns the number of voxels covered by the shape
func (s Shape) Voxels() int {
	return s[0] * s[1] * s[2]
}

// NewVolume allocates a zero-filled volume
func NewVolume(depth, height, width int) *Volume {
	return &Volume{
		Data:   make([]float32, depth*height*width),
		Depth:  depth,
		Height: height,
		Width:  width,
	}
}

// Shape returns the (Z, Y, X) extent
func (v *Volume) Shape() Shape {
	return Shape{v.Depth, v.Height, v.Width}
}

// Index returns the offset of voxel (z, y, x) in Data
func (v *Volume) Index(z, y, x int) int {
	return (z*v.Height+y)*v.Width + x
}

// At returns the intensity at (z, y, x)
func (v *Volume) At(z, y, x int) float32 {
	return v.Data[v.Index(z, y, x)]
}

// Set stores an intensity at (z, y, x)
func (v *Volume) Set(z, y, x int, value float32) {
	v.Data[v.Index(z, y, x)] = value
}

// Plane returns the data of plane z without copying
func (v *Volume) Plane(z int) []float32 {
	size := v.Height * v.Width
	return v.Data[z*size : (z+1)*size]
}

// Validate checks that all axes are positive and Data matches the shape
func (v *Volume) Validate() error {
	if v == nil {
		return fmt.Errorf("volume is nil")
	}
	if v.Depth <= 0 || v.Height <= 0 || v.Width <= 0 {
		return fmt.Errorf("volume shape %s must have positive axes", v.Shape())
	}
	if len(v.Data) != v.Depth*v.Height*v.Width {
		return fmt.Errorf("volume data length %d does not match shape %s", len(v.Data), v.Shape())
	}
	return nil
}

// Session represents a multi-channel scan: one Volume per channel sharing a
// voxel size.
type Session struct {
	// Channels lists the channel names in acquisition order
	Channels []string

	// Volumes holds one volume per entry in Channels
	Volumes []*Volume

	// VoxelSize is the physical voxel size shared by all channels
	VoxelSize VoxelSize

	// Path is the location the session was loaded from
	Path string
}

// Channel returns the volume of the named channel. Matching is
// case-insensitive, so "dapi" finds "DAPI".
func (s *Session) Channel(name string) (*Volume, error) {
	for i, ch := range s.Channels {
		if strings.EqualFold(ch, name) {
			return s.Volumes[i], nil
		}
	}
	return nil, fmt.Errorf("channel %q not found (have %s)", name, strings.Join(s.Channels, ", "))
}
