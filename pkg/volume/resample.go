// Package volume implements the geometric reduction applied to a volume
// before inference: axial subsampling and anti-aliased in-plane
// downsampling.
//
// Both steps share one index convention. Plane k of the subsampled volume is
// plane k*stride of the source, and pixel i of a downsampled row is centred
// on source coordinate i/scale. The inverse mapping is therefore a plain
// multiplication by stride and division by scale.
package volume

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"zfisher/internal/models"
)

// ReducedSize returns the length of an axis of n samples after scaling,
// rounded to the nearest integer and never below one.
func ReducedSize(n int, scale float64) int {
	m := int(math.Round(float64(n) * scale))
	if m < 1 {
		m = 1
	}
	return m
}

// ReducedDepth returns the number of planes kept by Subsample: ceil(depth/stride)
func ReducedDepth(depth, stride int) int {
	return (depth + stride - 1) / stride
}

// ReducedShape returns the shape a volume takes after Subsample and Downsample
func ReducedShape(shape models.Shape, stride int, scale float64) models.Shape {
	return models.Shape{
		ReducedDepth(shape[0], stride),
		ReducedSize(shape[1], scale),
		ReducedSize(shape[2], scale),
	}
}

// Subsample keeps planes 0, stride, 2*stride, ... and discards the rest.
// stride 1 returns a copy of the input.
func Subsample(v *models.Volume, stride int) (*models.Volume, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if stride < 1 {
		return nil, fmt.Errorf("z stride must be >= 1, got %d", stride)
	}

	depth := ReducedDepth(v.Depth, stride)
	out := models.NewVolume(depth, v.Height, v.Width)
	out.VoxelSize = v.VoxelSize
	out.VoxelSize.Z *= float64(stride)

	for z := 0; z < depth; z++ {
		copy(out.Plane(z), v.Plane(z*stride))
	}

	return out, nil
}

// Downsample rescales every plane by scale along Y and X.
//
// Each output pixel is the area-weighted mean of the source pixels under a
// box footprint of width 1/scale centred on i/scale, clipped to the image.
// Weights are renormalised after clipping so a constant image stays
// constant. Intensities are not rescaled to [0, 1].
func Downsample(v *models.Volume, scale float64) (*models.Volume, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if scale <= 0 || scale > 1 || math.IsNaN(scale) {
		return nil, fmt.Errorf("xy scale must be in (0, 1], got %g", scale)
	}

	height := ReducedSize(v.Height, scale)
	width := ReducedSize(v.Width, scale)
	out := models.NewVolume(v.Depth, height, width)
	out.VoxelSize = v.VoxelSize
	out.VoxelSize.Y /= scale
	out.VoxelSize.X /= scale

	if scale == 1 {
		copy(out.Data, v.Data)
		return out, nil
	}

	wy, err := boxWeights(v.Height, height, scale)
	if err != nil {
		return nil, err
	}
	wx, err := boxWeights(v.Width, width, scale)
	if err != nil {
		return nil, err
	}

	plane := mat.NewDense(v.Height, v.Width, nil)
	var rows, result mat.Dense
	for z := 0; z < v.Depth; z++ {
		src := v.Plane(z)
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				plane.Set(y, x, float64(src[y*v.Width+x]))
			}
		}

		// (height x H) * (H x W) * (W x width)
		rows.Mul(wy, plane)
		result.Mul(&rows, wx.T())

		dst := out.Plane(z)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				dst[y*width+x] = float32(result.At(y, x))
			}
		}
	}

	return out, nil
}

// boxWeights builds the (out x in) resampling matrix for one axis. Source
// pixel k covers [k-0.5, k+0.5]; output pixel i covers
// [i/scale - 0.5/scale, i/scale + 0.5/scale].
func boxWeights(in, out int, scale float64) (*mat.Dense, error) {
	w := mat.NewDense(out, in, nil)
	half := 0.5 / scale

	for i := 0; i < out; i++ {
		center := float64(i) / scale
		lo, hi := center-half, center+half

		first := int(math.Floor(lo + 0.5))
		if first < 0 {
			first = 0
		}
		last := int(math.Ceil(hi - 0.5))
		if last > in-1 {
			last = in - 1
		}

		total := 0.0
		for k := first; k <= last; k++ {
			overlap := math.Min(hi, float64(k)+0.5) - math.Max(lo, float64(k)-0.5)
			if overlap > 0 {
				w.Set(i, k, overlap)
				total += overlap
			}
		}
		if total == 0 {
			return nil, fmt.Errorf("output sample %d of %d has no source support (input %d, scale %g)", i, out, in, scale)
		}

		row := w.RawRowView(i)
		for k := range row {
			row[k] /= total
		}
	}

	return w, nil
}
