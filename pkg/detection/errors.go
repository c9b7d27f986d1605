package detection

import (
	"errors"
	"fmt"

	"zfisher/internal/models"
)

// Error classes. Every error returned by Detect matches exactly one of them
// through errors.Is, except context cancellation which is passed through.
var (
	ErrConfiguration     = errors.New("invalid detection configuration")
	ErrInference         = errors.New("inference failed")
	ErrResourceExhausted = errors.New("resources exhausted")
	ErrInvariant         = errors.New("detection invariant violated")
)

// Pipeline stage names attached to errors and log entries
const (
	StagePlan        = "plan"
	StageSubsample   = "subsample"
	StageDownsample  = "downsample"
	StageInference   = "inference"
	StageRegionProps = "regionprops"
	StageRescale     = "rescale"
)

// ConfigurationError reports a Sampling Plan that cannot be applied to a
// volume. It is not retryable.
type ConfigurationError struct {
	Stage  string
	Shape  models.Shape
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s (volume %s)", e.Stage, e.Reason, e.Shape)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// InferenceError wraps a segmentation failure with the shape of the reduced
// volume that was submitted.
type InferenceError struct {
	Backend      string
	ReducedShape models.Shape
	Err          error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%s: %s on reduced volume %s: %v", StageInference, e.Backend, e.ReducedShape, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

func (e *InferenceError) Is(target error) bool { return target == ErrInference }

// ResourceError reports memory or compute exhaustion. Retrying with the
// same Sampling Plan will fail again; the caller must reduce more.
type ResourceError struct {
	Stage        string
	ReducedShape models.Shape
	Err          error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s: reduced volume %s: %v", e.Stage, e.ReducedShape, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

func (e *ResourceError) Is(target error) bool { return target == ErrResourceExhausted }

// InvariantError reports inconsistent output from a collaborator, such as a
// label map of the wrong shape.
type InvariantError struct {
	Stage string
	Err   error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *InvariantError) Unwrap() error { return e.Err }

func (e *InvariantError) Is(target error) bool { return target == ErrInvariant }
