// Package segmentation provides the nuclear segmentation capability used by
// the detection pipeline. A Segmenter turns an intensity volume into a label
// map; backends differ in where and how that happens.
package segmentation

import (
	"context"
	"fmt"

	"zfisher/internal/models"
	"zfisher/pkg/labels"
)

// EvalOptions mirrors the arguments a pretrained nuclear model accepts
type EvalOptions struct {
	// ZAxis is the depth axis of the input, always 0 for (Z, Y, X) volumes
	ZAxis int `json:"z_axis"`

	// Diameter is the expected object diameter in voxels, 0 for none
	Diameter float64 `json:"diameter"`

	// Rescale is an extra scale factor the model applies before inference
	Rescale float64 `json:"rescale"`

	// Do3D runs full 3D inference instead of per-plane inference
	Do3D bool `json:"do_3D"`

	// StitchThreshold is the IoU used to link per-plane objects
	StitchThreshold float64 `json:"stitch_threshold"`

	// BatchSize is the number of planes evaluated together
	BatchSize int `json:"batch_size"`

	// Resample lets the model resample its output to the original size
	Resample bool `json:"resample"`

	// Channels selects the cytoplasm and nucleus channels; [0, 0] is grayscale
	Channels [2]int `json:"channels"`

	// UseGPU requests accelerated execution
	UseGPU bool `json:"gpu"`
}

// Validate reports invalid option values
func (o EvalOptions) Validate() error {
	if o.ZAxis != 0 {
		return fmt.Errorf("z axis must be 0 for (Z, Y, X) volumes, got %d", o.ZAxis)
	}
	if o.Diameter < 0 {
		return fmt.Errorf("diameter must be >= 0, got %g", o.Diameter)
	}
	if o.Rescale <= 0 {
		return fmt.Errorf("rescale must be > 0, got %g", o.Rescale)
	}
	if o.StitchThreshold < 0 || o.StitchThreshold > 1 {
		return fmt.Errorf("stitch threshold must be in [0, 1], got %g", o.StitchThreshold)
	}
	if o.BatchSize < 1 {
		return fmt.Errorf("batch size must be >= 1, got %d", o.BatchSize)
	}
	return nil
}

// Segmenter evaluates a segmentation model on a volume. The returned label
// map has the same shape as the input volume.
type Segmenter interface {
	Name() string
	Evaluate(ctx context.Context, vol *models.Volume, opts EvalOptions) (*labels.Map, error)
}

// Reentrant is implemented by segmenters that tolerate concurrent Evaluate
// calls. Callers serialise segmenters that do not implement it.
type Reentrant interface {
	Reentrant() bool
}

// IsReentrant reports whether s declares itself safe for concurrent use
func IsReentrant(s Segmenter) bool {
	r, ok := s.(Reentrant)
	return ok && r.Reentrant()
}
