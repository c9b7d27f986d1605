package segmentation

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"zfisher/internal/models"
	"zfisher/pkg/labels"
)

const (
	segmentPath = "/v1/segment"
	healthPath  = "/v1/health"

	defaultTimeout = 10 * time.Minute
	maxRetryCount  = 3
	retryDelay     = 500 * time.Millisecond
)

// ErrResourceExhausted is returned when the model ran out of memory or
// compute. Retrying with the same input will not succeed.
var ErrResourceExhausted = errors.New("model resources exhausted")

// RemoteOptions configures a RemoteSegmenter
type RemoteOptions struct {
	// Endpoint is the base URL of the model server
	Endpoint string

	// Model is the pretrained model name, e.g. "nuclei"
	Model string

	// Timeout bounds a single request, 0 uses the default
	Timeout time.Duration

	// Reentrant declares that the server accepts concurrent requests
	Reentrant bool
}

// RemoteSegmenter evaluates a pretrained model hosted behind an HTTP API
type RemoteSegmenter struct {
	*resty.Client

	// probe carries the retry policy of Health
	probe *resty.Client

	model     string
	reentrant bool
	logger    *zap.Logger
}

// Health is the model server status
type Health struct {
	Status string   `json:"status"`
	GPU    bool     `json:"gpu"`
	Models []string `json:"models"`
}

type segmentRequest struct {
	Model   string      `json:"model"`
	Shape   [3]int      `json:"shape"`
	DType   string      `json:"dtype"`
	Data    []byte      `json:"data"`
	Options EvalOptions `json:"options"`
}

type segmentResponse struct {
	Shape   [3]int `json:"shape"`
	Labels  []byte `json:"labels"`
	Objects int    `json:"objects"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRemoteSegmenter returns an initialized model server client
func NewRemoteSegmenter(opts RemoteOptions, logger *zap.Logger) *RemoteSegmenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	model := opts.Model
	if model == "" {
		model = "nuclei"
	}

	// Inference is never retried; only the health probe is
	r := resty.New().
		SetLogger(logger.Sugar()).
		SetBaseURL(opts.Endpoint).
		SetTimeout(timeout).
		SetRetryCount(0)

	probe := resty.New().
		SetLogger(logger.Sugar()).
		SetBaseURL(opts.Endpoint).
		SetTimeout(healthTimeout).
		SetRetryCount(maxRetryCount).
		SetRetryWaitTime(retryDelay)

	return &RemoteSegmenter{
		Client:    r,
		probe:     probe,
		model:     model,
		reentrant: opts.Reentrant,
		logger:    logger,
	}
}

// Name implements Segmenter
func (c *RemoteSegmenter) Name() string { return "remote:" + c.model }

// Reentrant implements Reentrant
func (c *RemoteSegmenter) Reentrant() bool { return c.reentrant }

// Health calls the GET /v1/health endpoint
func (c *RemoteSegmenter) Health(ctx context.Context) (*Health, error) {
	var h Health
	resp, err := c.probe.R().SetContext(ctx).SetResult(&h).Get(healthPath)
	if err != nil {
		return nil, fmt.Errorf("couldn't connect with model server: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("model server health check returned %s", resp.Status())
	}
	return &h, nil
}

// Evaluate implements Segmenter by calling the POST /v1/segment endpoint
func (c *RemoteSegmenter) Evaluate(ctx context.Context, vol *models.Volume, opts EvalOptions) (*labels.Map, error) {
	if err := vol.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	shape := [3]int(vol.Shape())
	body := segmentRequest{
		Model:   c.model,
		Shape:   shape,
		DType:   "float32",
		Data:    encodeFloat32(vol.Data),
		Options: opts,
	}

	var (
		out    segmentResponse
		apiErr errorResponse
	)
	start := time.Now()
	resp, err := c.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post(segmentPath)
	if err != nil {
		return nil, fmt.Errorf("couldn't connect with model server: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusRequestEntityTooLarge,
		resp.StatusCode() == http.StatusInsufficientStorage:
		return nil, fmt.Errorf("%w: %s %s", ErrResourceExhausted, resp.Status(), apiErr.Error)
	case resp.IsError():
		return nil, fmt.Errorf("model server returned %s: %s", resp.Status(), apiErr.Error)
	}

	if out.Shape != shape {
		return nil, fmt.Errorf("model returned labels of shape %v for input %v", out.Shape, shape)
	}
	data, err := decodeUint32(out.Labels, vol.Depth*vol.Height*vol.Width)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("remote segmentation finished",
		zap.String("model", c.model),
		zap.Int("objects", out.Objects),
		zap.Duration("elapsed", time.Since(start)))

	return &labels.Map{Data: data, Depth: vol.Depth, Height: vol.Height, Width: vol.Width}, nil
}

func encodeFloat32(data []float32) []byte {
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeUint32(buf []byte, n int) ([]uint32, error) {
	if len(buf) != 4*n {
		return nil, fmt.Errorf("got %d bytes of label data, want %d", len(buf), 4*n)
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(buf[4*i:])
	}
	return out, nil
}
