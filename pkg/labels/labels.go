// Package labels holds label maps produced by segmentation and the region
// measurements computed from them.
package labels

import (
	"fmt"
	"sort"

	"zfisher/internal/models"
)

// Map assigns every voxel of a volume to background (0) or an object label
type Map struct {
	Data   []uint32
	Depth  int
	Height int
	Width  int
}

// NewMap allocates an all-background label map
func NewMap(depth, height, width int) *Map {
	return &Map{
		Data:   make([]uint32, depth*height*width),
		Depth:  depth,
		Height: height,
		Width:  width,
	}
}

// Shape returns the (Z, Y, X) extent
func (m *Map) Shape() models.Shape {
	return models.Shape{m.Depth, m.Height, m.Width}
}

// Index returns the offset of voxel (z, y, x) in Data
func (m *Map) Index(z, y, x int) int {
	return (z*m.Height+y)*m.Width + x
}

// At returns the label at (z, y, x)
func (m *Map) At(z, y, x int) uint32 {
	return m.Data[m.Index(z, y, x)]
}

// Set stores a label at (z, y, x)
func (m *Map) Set(z, y, x int, label uint32) {
	m.Data[m.Index(z, y, x)] = label
}

// Plane returns the labels of plane z without copying
func (m *Map) Plane(z int) []uint32 {
	size := m.Height * m.Width
	return m.Data[z*size : (z+1)*size]
}

// Validate checks that all axes are positive and Data matches the shape
func (m *Map) Validate() error {
	if m == nil {
		return fmt.Errorf("label map is nil")
	}
	if m.Depth <= 0 || m.Height <= 0 || m.Width <= 0 {
		return fmt.Errorf("label map shape %s must have positive axes", m.Shape())
	}
	if len(m.Data) != m.Depth*m.Height*m.Width {
		return fmt.Errorf("label map data length %d does not match shape %s", len(m.Data), m.Shape())
	}
	return nil
}

// Distinct returns the positive labels present in the map, ascending
func (m *Map) Distinct() []uint32 {
	seen := make(map[uint32]struct{})
	for _, l := range m.Data {
		if l != 0 {
			seen[l] = struct{}{}
		}
	}
	out := make([]uint32, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Max returns the largest label in the map
func (m *Map) Max() uint32 {
	var max uint32
	for _, l := range m.Data {
		if l > max {
			max = l
		}
	}
	return max
}

// Relabel renumbers the labels to 1..n in order of first appearance in
// raster order. It returns n.
func (m *Map) Relabel() int {
	next := uint32(0)
	mapping := make(map[uint32]uint32)
	for i, l := range m.Data {
		if l == 0 {
			continue
		}
		nl, ok := mapping[l]
		if !ok {
			next++
			nl = next
			mapping[l] = nl
		}
		m.Data[i] = nl
	}
	return int(next)
}
