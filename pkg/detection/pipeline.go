// Package detection reduces a 3D channel volume to the centroids of the
// nuclei found in it.
//
// Detect runs five steps: axial subsampling, in-plane downsampling,
// segmentation, region measurement and rescaling of the centroids back into
// the coordinate frame of the input volume. The reduction makes inference
// on dense, full-resolution stacks tractable; the rescaling applies the exact
// inverse of the reduction so callers never see reduced coordinates.
package detection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"zfisher/internal/models"
	"zfisher/pkg/labels"
	"zfisher/pkg/segmentation"
	"zfisher/pkg/volume"
)

// boundsTolerance absorbs floating point error when checking that rescaled
// centroids fall inside the original volume
const boundsTolerance = 1e-6

// Options holds the inference settings passed through to the segmenter
type Options struct {
	// Diameter is the expected object diameter in reduced voxels, 0 for none
	Diameter float64

	// Do3D requests full 3D inference instead of per-plane stitching
	Do3D bool

	// StitchThreshold is the IoU used to link per-plane objects
	StitchThreshold float64

	// BatchSize is the number of planes evaluated together
	BatchSize int

	// UseGPU requests accelerated execution, resolved before the pipeline runs
	UseGPU bool

	// MaxReducedVoxels rejects reductions larger than this, 0 disables the check
	MaxReducedVoxels int
}

// Result is the Detection Result of one Detect call
type Result struct {
	// ID identifies the run in logs and exports
	ID string `json:"id"`

	// Backend names the segmenter that produced the labels
	Backend string `json:"backend"`

	Plan         Plan         `json:"plan"`
	Shape        models.Shape `json:"shape"`
	ReducedShape models.Shape `json:"reduced_shape"`

	// Centroids are in the input volume's index space, ordered by label
	Centroids []Centroid `json:"centroids"`

	// Labels holds the label each centroid was measured from
	Labels []uint32 `json:"labels"`

	// LabelMap is the segmentation of the reduced volume
	LabelMap *labels.Map `json:"-"`
}

// Pipeline runs centroid detection with a fixed segmenter and options. It
// keeps no state between calls. Calls on the same Pipeline are serialised
// around inference unless the segmenter is reentrant.
type Pipeline struct {
	segmenter segmentation.Segmenter
	opts      Options
	logger    *zap.Logger

	// mu serialises Evaluate for non-reentrant segmenters
	mu sync.Mutex
}

// NewPipeline creates a pipeline around a segmenter
func NewPipeline(seg segmentation.Segmenter, opts Options, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	return &Pipeline{
		segmenter: seg,
		opts:      opts,
		logger:    logger,
	}
}

// EvalOptions returns the arguments passed to the segmenter. Rescale is
// always 1 and Resample always false: all geometric reduction has already
// been done, and a second transform inside the model would corrupt the
// inverse mapping.
func (p *Pipeline) EvalOptions() segmentation.EvalOptions {
	return segmentation.EvalOptions{
		ZAxis:           0,
		Diameter:        p.opts.Diameter,
		Rescale:         1.0,
		Do3D:            p.opts.Do3D,
		StitchThreshold: p.opts.StitchThreshold,
		BatchSize:       p.opts.BatchSize,
		Resample:        false,
		Channels:        [2]int{0, 0},
		UseGPU:          p.opts.UseGPU,
	}
}

// Detect finds the nuclei of vol and returns their centroids in vol's index
// space. No objects yields an empty Result, not an error.
func (p *Pipeline) Detect(ctx context.Context, vol *models.Volume, plan Plan) (*Result, error) {
	if vol == nil {
		return nil, &ConfigurationError{Stage: StagePlan, Reason: "volume is nil"}
	}
	shape := vol.Shape()
	if err := vol.Validate(); err != nil {
		return nil, &ConfigurationError{Stage: StagePlan, Shape: shape, Reason: err.Error()}
	}
	if err := plan.Check(shape); err != nil {
		return nil, err
	}

	reducedShape := plan.ReducedShape(shape)
	if p.opts.MaxReducedVoxels > 0 && reducedShape.Voxels() > p.opts.MaxReducedVoxels {
		return nil, &ResourceError{
			Stage:        StagePlan,
			ReducedShape: reducedShape,
			Err:          fmt.Errorf("%d voxels exceed the limit of %d", reducedShape.Voxels(), p.opts.MaxReducedVoxels),
		}
	}

	runID := uuid.New().String()
	log := p.logger.With(zap.String("run", runID))
	log.Info("detecting nuclei",
		zap.Stringer("shape", shape),
		zap.Int("zStride", plan.ZStride),
		zap.Float64("xyScale", plan.XYScale),
		zap.Stringer("reducedShape", reducedShape))

	start := time.Now()
	sub, err := volume.Subsample(vol, plan.ZStride)
	if err != nil {
		return nil, &InvariantError{Stage: StageSubsample, Err: err}
	}
	reduced, err := volume.Downsample(sub, plan.XYScale)
	if err != nil {
		return nil, &InvariantError{Stage: StageDownsample, Err: err}
	}
	if reduced.Shape() != reducedShape {
		return nil, &InvariantError{
			Stage: StageDownsample,
			Err:   fmt.Errorf("reduced volume has shape %s, want %s", reduced.Shape(), reducedShape),
		}
	}
	log.Debug("reduced volume", zap.Duration("elapsed", time.Since(start)))

	start = time.Now()
	lm, err := p.evaluate(ctx, reduced)
	if err != nil {
		return nil, p.classify(err, reducedShape)
	}
	if err := lm.Validate(); err != nil || lm.Shape() != reducedShape {
		if err == nil {
			err = fmt.Errorf("label map has shape %s, want %s", lm.Shape(), reducedShape)
		}
		return nil, &InvariantError{Stage: StageInference, Err: err}
	}
	log.Debug("segmented volume",
		zap.String("backend", p.segmenter.Name()),
		zap.Duration("elapsed", time.Since(start)))

	regions, err := labels.RegionProps(lm)
	if err != nil {
		return nil, &InvariantError{Stage: StageRegionProps, Err: err}
	}
	if distinct := len(lm.Distinct()); distinct != len(regions) {
		return nil, &InvariantError{
			Stage: StageRegionProps,
			Err:   fmt.Errorf("%d regions measured for %d distinct labels", len(regions), distinct),
		}
	}

	result := &Result{
		ID:           runID,
		Backend:      p.segmenter.Name(),
		Plan:         plan,
		Shape:        shape,
		ReducedShape: reducedShape,
		Centroids:    make([]Centroid, 0, len(regions)),
		Labels:       make([]uint32, 0, len(regions)),
		LabelMap:     lm,
	}
	for _, r := range regions {
		c := plan.ToOriginal(Centroid{Z: r.Centroid.Z, Y: r.Centroid.Y, X: r.Centroid.X})
		if err := checkBounds(c, shape); err != nil {
			return nil, &InvariantError{Stage: StageRescale, Err: fmt.Errorf("label %d: %w", r.Label, err)}
		}
		result.Centroids = append(result.Centroids, c)
		result.Labels = append(result.Labels, r.Label)
	}

	log.Info("detection finished", zap.Int("nuclei", len(result.Centroids)))
	return result, nil
}

func (p *Pipeline) evaluate(ctx context.Context, reduced *models.Volume) (*labels.Map, error) {
	if !segmentation.IsReentrant(p.segmenter) {
		p.mu.Lock()
		defer p.mu.Unlock()
	}
	return p.segmenter.Evaluate(ctx, reduced, p.EvalOptions())
}

// classify maps a segmenter failure onto the error taxonomy
func (p *Pipeline) classify(err error, reducedShape models.Shape) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", StageInference, err)
	case errors.Is(err, segmentation.ErrResourceExhausted):
		return &ResourceError{Stage: StageInference, ReducedShape: reducedShape, Err: err}
	default:
		return &InferenceError{Backend: p.segmenter.Name(), ReducedShape: reducedShape, Err: err}
	}
}

func checkBounds(c Centroid, shape models.Shape) error {
	coords := [3]float64{c.Z, c.Y, c.X}
	for d, v := range coords {
		if v < -boundsTolerance || v >= float64(shape[d])+boundsTolerance {
			return fmt.Errorf("centroid %+v outside volume %s", c, shape)
		}
	}
	return nil
}
