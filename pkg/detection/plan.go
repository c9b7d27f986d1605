package detection

import (
	"fmt"
	"math"

	"zfisher/internal/models"
	"zfisher/pkg/volume"
)

// Plan is the Sampling Plan: how a volume is reduced before inference
type Plan struct {
	// ZStride keeps planes 0, ZStride, 2*ZStride, ...
	ZStride int `json:"z_stride"`

	// XYScale is the in-plane scale factor in (0, 1]
	XYScale float64 `json:"xy_scale"`
}

// Centroid is a (Z, Y, X) position in voxel index space
type Centroid struct {
	Z float64 `json:"z"`
	Y float64 `json:"y"`
	X float64 `json:"x"`
}

// Validate checks the plan on its own
func (p Plan) Validate() error {
	if p.ZStride < 1 {
		return fmt.Errorf("z stride must be >= 1, got %d", p.ZStride)
	}
	if math.IsNaN(p.XYScale) || p.XYScale <= 0 || p.XYScale > 1 {
		return fmt.Errorf("xy scale must be in (0, 1], got %g", p.XYScale)
	}
	return nil
}

// Check validates the plan against a volume shape. A stride larger than the
// depth leaves fewer planes than one stride and is rejected.
func (p Plan) Check(shape models.Shape) error {
	if err := p.Validate(); err != nil {
		return &ConfigurationError{Stage: StagePlan, Shape: shape, Reason: err.Error()}
	}
	if shape[0] <= 0 || shape[1] <= 0 || shape[2] <= 0 {
		return &ConfigurationError{Stage: StagePlan, Shape: shape, Reason: "volume axes must be positive"}
	}
	if shape[0] < p.ZStride {
		return &ConfigurationError{
			Stage:  StagePlan,
			Shape:  shape,
			Reason: fmt.Sprintf("volume has %d planes, fewer than z stride %d", shape[0], p.ZStride),
		}
	}
	return nil
}

// ReducedShape returns the shape inference sees
func (p Plan) ReducedShape(shape models.Shape) models.Shape {
	return volume.ReducedShape(shape, p.ZStride, p.XYScale)
}

// ToOriginal maps a reduced-space position back into the original volume.
// It is the exact inverse of ToReduced.
func (p Plan) ToOriginal(c Centroid) Centroid {
	return Centroid{
		Z: c.Z * float64(p.ZStride),
		Y: c.Y / p.XYScale,
		X: c.X / p.XYScale,
	}
}

// ToReduced maps an original-space position into the reduced volume using
// the same convention as volume.Subsample and volume.Downsample.
func (p Plan) ToReduced(c Centroid) Centroid {
	return Centroid{
		Z: c.Z / float64(p.ZStride),
		Y: c.Y * p.XYScale,
		X: c.X * p.XYScale,
	}
}
