package segmentation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"zfisher/pkg/config"
)

// healthTimeout bounds the probe made while choosing a backend
const healthTimeout = 5 * time.Second

// Selection is the execution mode chosen before inference
type Selection struct {
	Segmenter Segmenter

	// UseGPU is the accelerated-execution flag to pass in EvalOptions
	UseGPU bool
}

// Select resolves the configured backend into a Segmenter.
//
// "remote" requires a healthy model server. "threshold" always uses the CPU
// backend. "auto" prefers a configured, healthy model server and otherwise
// falls back to the CPU backend. A GPU request is dropped when the server
// reports none, and always for the CPU backend.
func Select(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Selection, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	seg := cfg.Segmentation

	switch seg.Backend {
	case config.BackendThreshold:
		return cpuSelection(logger), nil

	case config.BackendRemote, config.BackendAuto:
		if seg.Endpoint == "" {
			if seg.Backend == config.BackendRemote {
				return nil, fmt.Errorf("remote backend needs segmentation.endpoint")
			}
			logger.Info("no model server configured, using threshold backend")
			return cpuSelection(logger), nil
		}

		remote := NewRemoteSegmenter(RemoteOptions{
			Endpoint:  seg.Endpoint,
			Model:     seg.Model,
			Timeout:   time.Duration(seg.TimeoutSeconds) * time.Second,
			Reentrant: seg.Reentrant,
		}, logger)

		probeCtx, cancel := context.WithTimeout(ctx, healthTimeout)
		defer cancel()
		health, err := remote.Health(probeCtx)
		if err == nil && health.Status != "ok" {
			err = fmt.Errorf("model server status %q", health.Status)
		}
		if err != nil {
			if seg.Backend == config.BackendRemote {
				return nil, fmt.Errorf("model server at %s unavailable: %w", seg.Endpoint, err)
			}
			logger.Warn("model server unavailable, falling back to threshold backend",
				zap.String("endpoint", seg.Endpoint), zap.Error(err))
			return cpuSelection(logger), nil
		}

		useGPU := seg.UseGPU && health.GPU
		if seg.UseGPU && !health.GPU {
			logger.Info("model server has no GPU, running on CPU", zap.String("endpoint", seg.Endpoint))
		}
		return &Selection{Segmenter: remote, UseGPU: useGPU}, nil

	default:
		return nil, fmt.Errorf("unknown segmentation backend %q", seg.Backend)
	}
}

func cpuSelection(logger *zap.Logger) *Selection {
	return &Selection{Segmenter: NewThresholdSegmenter(logger), UseGPU: false}
}
