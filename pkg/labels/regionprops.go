package labels

import (
	"fmt"
	"sort"
)

// Point is a (Z, Y, X) position in voxel index space
type Point struct {
	Z, Y, X float64
}

// Box is an inclusive-exclusive bounding box: Min <= p < Max per axis
type Box struct {
	Min [3]int
	Max [3]int
}

// Region holds the measurements of one labelled object
type Region struct {
	// Label is the object identifier in the label map
	Label uint32

	// Area is the number of voxels carrying the label
	Area int

	// Centroid is the mean (z, y, x) of the member voxels
	Centroid Point

	// BBox bounds the member voxels
	BBox Box
}

type accumulator struct {
	count      int
	sz, sy, sx float64
	box        Box
}

// RegionProps measures every positive label of m. Regions are returned in
// ascending label order.
func RegionProps(m *Map) ([]Region, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	acc := make(map[uint32]*accumulator)
	i := 0
	for z := 0; z < m.Depth; z++ {
		for y := 0; y < m.Height; y++ {
			for x := 0; x < m.Width; x++ {
				l := m.Data[i]
				i++
				if l == 0 {
					continue
				}
				a, ok := acc[l]
				if !ok {
					a = &accumulator{box: Box{Min: [3]int{z, y, x}, Max: [3]int{z + 1, y + 1, x + 1}}}
					acc[l] = a
				}
				a.count++
				a.sz += float64(z)
				a.sy += float64(y)
				a.sx += float64(x)
				a.box.extend(z, y, x)
			}
		}
	}

	regions := make([]Region, 0, len(acc))
	for l, a := range acc {
		if a.count == 0 {
			return nil, fmt.Errorf("label %d has no voxels", l)
		}
		n := float64(a.count)
		regions = append(regions, Region{
			Label:    l,
			Area:     a.count,
			Centroid: Point{Z: a.sz / n, Y: a.sy / n, X: a.sx / n},
			BBox:     a.box,
		})
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Label < regions[j].Label })

	return regions, nil
}

func (b *Box) extend(z, y, x int) {
	p := [3]int{z, y, x}
	for d := 0; d < 3; d++ {
		if p[d] < b.Min[d] {
			b.Min[d] = p[d]
		}
		if p[d]+1 > b.Max[d] {
			b.Max[d] = p[d] + 1
		}
	}
}
