package labels

import "fmt"

// disjoint-set forest over voxel offsets
type unionFind struct {
	parent []int32
}

func newUnionFind(n int) *unionFind {
	p := make([]int32, n)
	for i := range p {
		p[i] = int32(i)
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(i int32) int32 {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int32) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	// Smaller root wins so the raster-first voxel stays the representative.
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}

// Components labels the 6-connected foreground regions of a 3D mask.
// Labels are 1..n in raster order of each region's first voxel.
func Components(mask []bool, depth, height, width int) (*Map, error) {
	if len(mask) != depth*height*width {
		return nil, fmt.Errorf("mask length %d does not match shape (%d,%d,%d)", len(mask), depth, height, width)
	}

	uf := newUnionFind(len(mask))
	plane := height * width
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				i := z*plane + y*width + x
				if !mask[i] {
					continue
				}
				if x > 0 && mask[i-1] {
					uf.union(int32(i), int32(i-1))
				}
				if y > 0 && mask[i-width] {
					uf.union(int32(i), int32(i-width))
				}
				if z > 0 && mask[i-plane] {
					uf.union(int32(i), int32(i-plane))
				}
			}
		}
	}

	m := NewMap(depth, height, width)
	assign(m.Data, mask, uf)
	return m, nil
}

// PlaneComponents labels the 4-connected foreground regions of one plane and
// returns the labels along with their count.
func PlaneComponents(mask []bool, height, width int) ([]uint32, int, error) {
	if len(mask) != height*width {
		return nil, 0, fmt.Errorf("mask length %d does not match plane (%d,%d)", len(mask), height, width)
	}

	uf := newUnionFind(len(mask))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			if !mask[i] {
				continue
			}
			if x > 0 && mask[i-1] {
				uf.union(int32(i), int32(i-1))
			}
			if y > 0 && mask[i-width] {
				uf.union(int32(i), int32(i-width))
			}
		}
	}

	out := make([]uint32, len(mask))
	n := assign(out, mask, uf)
	return out, n, nil
}

func assign(out []uint32, mask []bool, uf *unionFind) int {
	roots := make(map[int32]uint32)
	var next uint32
	for i, fg := range mask {
		if !fg {
			continue
		}
		r := uf.find(int32(i))
		l, ok := roots[r]
		if !ok {
			next++
			l = next
			roots[r] = l
		}
		out[i] = l
	}
	return int(next)
}

// RemoveSmall clears objects with fewer than minSize voxels and compacts the
// remaining labels to 1..n. It returns n.
func RemoveSmall(m *Map, minSize int) int {
	if minSize > 1 {
		sizes := make(map[uint32]int)
		for _, l := range m.Data {
			if l != 0 {
				sizes[l]++
			}
		}
		for i, l := range m.Data {
			if l != 0 && sizes[l] < minSize {
				m.Data[i] = 0
			}
		}
	}
	return m.Relabel()
}
