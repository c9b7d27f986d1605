package segmentation

import (
	"fmt"

	"zfisher/pkg/labels"
)

type labelPair struct {
	prev, cur uint32
}

// Stitch joins independently labelled planes into one 3D label map. An
// object on plane z+1 inherits the label of the plane-z object it overlaps
// best when their IoU reaches threshold; each plane-z object passes its label
// to at most one successor. Threshold 0 disables linking. Labels in the
// result are compacted to 1..n.
func Stitch(planes [][]uint32, height, width int, threshold float64) (*labels.Map, error) {
	if len(planes) == 0 {
		return nil, fmt.Errorf("no planes to stitch")
	}
	size := height * width

	m := labels.NewMap(len(planes), height, width)
	var next uint32

	for z, plane := range planes {
		if len(plane) != size {
			return nil, fmt.Errorf("plane %d has %d labels, want %d", z, len(plane), size)
		}

		mapping := make(map[uint32]uint32)
		if z > 0 && threshold > 0 {
			mapping = linkPlanes(m.Plane(z-1), plane, threshold)
		}

		dst := m.Plane(z)
		for i, l := range plane {
			if l == 0 {
				continue
			}
			gl, ok := mapping[l]
			if !ok {
				next++
				gl = next
				mapping[l] = gl
			}
			dst[i] = gl
		}
	}

	m.Relabel()
	return m, nil
}

// linkPlanes maps labels of cur to labels already assigned in prev
func linkPlanes(prev, cur []uint32, threshold float64) map[uint32]uint32 {
	overlap := make(map[labelPair]int)
	prevArea := make(map[uint32]int)
	curArea := make(map[uint32]int)
	for i := range cur {
		p, c := prev[i], cur[i]
		if p != 0 {
			prevArea[p]++
		}
		if c != 0 {
			curArea[c]++
		}
		if p != 0 && c != 0 {
			overlap[labelPair{p, c}]++
		}
	}

	iou := make(map[labelPair]float64, len(overlap))
	for pair, n := range overlap {
		v := float64(n) / float64(prevArea[pair.prev]+curArea[pair.cur]-n)
		if v >= threshold {
			iou[pair] = v
		}
	}

	// Each previous object keeps only its best-matching current object.
	bestForPrev := make(map[uint32]labelPair)
	for pair, v := range iou {
		b, ok := bestForPrev[pair.prev]
		if !ok || v > iou[b] || (v == iou[b] && pair.cur < b.cur) {
			bestForPrev[pair.prev] = pair
		}
	}

	// Each current object takes the best surviving previous object.
	mapping := make(map[uint32]uint32)
	bestIoU := make(map[uint32]float64)
	for _, pair := range bestForPrev {
		v := iou[pair]
		cur, ok := mapping[pair.cur]
		if !ok || v > bestIoU[pair.cur] || (v == bestIoU[pair.cur] && pair.prev < cur) {
			mapping[pair.cur] = pair.prev
			bestIoU[pair.cur] = v
		}
	}

	return mapping
}
