package segmentation

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"zfisher/internal/models"
	"zfisher/pkg/labels"
)

// otsuBins is the histogram resolution used to pick a threshold
const otsuBins = 256

// ThresholdSegmenter is the CPU backend: a global Otsu threshold followed by
// connected-component labelling, either in 3D or per plane with stitching.
// It holds no mutable state and is safe for concurrent use.
type ThresholdSegmenter struct {
	// Threshold overrides the Otsu threshold when positive
	Threshold float64

	logger *zap.Logger
}

// NewThresholdSegmenter creates a CPU segmenter
func NewThresholdSegmenter(logger *zap.Logger) *ThresholdSegmenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThresholdSegmenter{logger: logger}
}

// Name implements Segmenter
func (s *ThresholdSegmenter) Name() string { return "threshold" }

// Reentrant implements Reentrant
func (s *ThresholdSegmenter) Reentrant() bool { return true }

// Evaluate implements Segmenter
func (s *ThresholdSegmenter) Evaluate(ctx context.Context, vol *models.Volume, opts EvalOptions) (*labels.Map, error) {
	if err := vol.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Rescale != 1 || opts.Resample {
		return nil, fmt.Errorf("threshold backend does not resample (rescale %g, resample %t)", opts.Rescale, opts.Resample)
	}

	threshold := s.Threshold
	if threshold <= 0 {
		threshold = Otsu(vol.Data)
	}

	mask := make([]bool, len(vol.Data))
	for i, v := range vol.Data {
		mask[i] = float64(v) > threshold
	}

	s.logger.Debug("thresholded volume",
		zap.Stringer("shape", vol.Shape()),
		zap.Float64("threshold", threshold),
		zap.Bool("do3D", opts.Do3D))

	if opts.Do3D || vol.Depth == 1 {
		m, err := labels.Components(mask, vol.Depth, vol.Height, vol.Width)
		if err != nil {
			return nil, err
		}
		minSize := minObjectSize(opts.Diameter, vol.Depth > 1)
		n := labels.RemoveSmall(m, minSize)
		s.logger.Debug("labelled 3D components", zap.Int("objects", n), zap.Int("minSize", minSize))
		return m, nil
	}

	planes, err := s.labelPlanes(ctx, mask, vol, opts)
	if err != nil {
		return nil, err
	}

	return Stitch(planes, vol.Height, vol.Width, opts.StitchThreshold)
}

// labelPlanes labels each plane independently, BatchSize planes at a time
func (s *ThresholdSegmenter) labelPlanes(ctx context.Context, mask []bool, vol *models.Volume, opts EvalOptions) ([][]uint32, error) {
	size := vol.Height * vol.Width
	minSize := minObjectSize(opts.Diameter, false)
	planes := make([][]uint32, vol.Depth)
	errs := make([]error, vol.Depth)

	for start := 0; start < vol.Depth; start += opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + opts.BatchSize
		if end > vol.Depth {
			end = vol.Depth
		}

		var wg sync.WaitGroup
		for z := start; z < end; z++ {
			wg.Add(1)
			go func(z int) {
				defer wg.Done()
				plane, _, err := labels.PlaneComponents(mask[z*size:(z+1)*size], vol.Height, vol.Width)
				if err != nil {
					errs[z] = err
					return
				}
				m := &labels.Map{Data: plane, Depth: 1, Height: vol.Height, Width: vol.Width}
				labels.RemoveSmall(m, minSize)
				planes[z] = plane
			}(z)
		}
		wg.Wait()

		for z := start; z < end; z++ {
			if errs[z] != nil {
				return nil, fmt.Errorf("plane %d: %w", z, errs[z])
			}
		}
		s.logger.Debug("labelled plane batch", zap.Int("start", start), zap.Int("end", end))
	}

	return planes, nil
}

// minObjectSize turns a diameter hint into a minimum voxel count: an eighth
// of a sphere's volume in 3D, a quarter of a disk's area per plane.
func minObjectSize(diameter float64, volumetric bool) int {
	if diameter <= 0 {
		return 1
	}
	var size float64
	if volumetric {
		size = math.Pi * diameter * diameter * diameter / 6 / 8
	} else {
		size = math.Pi * diameter * diameter / 4 / 4
	}
	if size < 1 {
		return 1
	}
	return int(size)
}

// Otsu returns the threshold maximising the between-class variance of the
// intensity histogram. A constant input returns its value, which leaves no
// voxel above threshold.
func Otsu(data []float32) float64 {
	if len(data) == 0 {
		return 0
	}

	lo, hi := float64(data[0]), float64(data[0])
	for _, v := range data {
		f := float64(v)
		if f < lo {
			lo = f
		}
		if f > hi {
			hi = f
		}
	}
	if hi == lo {
		return hi
	}

	width := (hi - lo) / otsuBins
	counts := make([]float64, otsuBins)
	for _, v := range data {
		b := int((float64(v) - lo) / width)
		if b >= otsuBins {
			b = otsuBins - 1
		}
		counts[b]++
	}

	centers := make([]float64, otsuBins)
	for i := range centers {
		centers[i] = lo + (float64(i)+0.5)*width
	}

	total := float64(len(data))
	mean := stat.Mean(centers, counts)

	var (
		best      = -1.0
		bestIndex = 0
		w0, sum0  float64
	)
	for i := 0; i < otsuBins-1; i++ {
		w0 += counts[i]
		sum0 += counts[i] * centers[i]
		if w0 == 0 || w0 == total {
			continue
		}
		w1 := total - w0
		m0 := sum0 / w0
		m1 := (mean*total - sum0) / w1
		between := w0 * w1 * (m0 - m1) * (m0 - m1)
		if between > best {
			best = between
			bestIndex = i
		}
	}

	// Upper edge of the last background bin
	return lo + float64(bestIndex+1)*width
}
