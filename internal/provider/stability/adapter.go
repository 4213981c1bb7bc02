// Package stability adapts the Stability AI HTTP API to the Adapter
// interface. Unlike Replicate, the edit endpoints answer synchronously within
// a single request.
package stability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pixelmint/pixelmint/internal/config"
	"github.com/pixelmint/pixelmint/pkg/models"
)

// Sentinel errors for Stability failures.
var (
	ErrUnreachable     = errors.New("stability unreachable")
	ErrTimeout         = errors.New("stability request timeout")
	ErrInvalidResponse = errors.New("stability returned invalid response")
	ErrRejected        = errors.New("stability rejected the job")
)

var endpoints = map[string]string{
	"upscale":            "/v2beta/stable-image/upscale/fast",
	"enhance":            "/v2beta/stable-image/edit/enhance",
	"background_removal": "/v2beta/stable-image/edit/remove-background",
	"colorize":           "/v2beta/stable-image/edit/colorize",
	"style_transfer":     "/v2beta/stable-image/control/style",
}

// Adapter implements provider.Adapter using Stability AI.
type Adapter struct {
	cfg    config.StabilityConfig
	client *http.Client
}

func NewAdapter(cfg config.StabilityConfig, timeout time.Duration) *Adapter {
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (a *Adapter) Name() string { return "stability" }

func (a *Adapter) Run(ctx context.Context, job *models.Job) (string, error) {
	endpoint, ok := endpoints[job.Type]
	if !ok {
		return "", fmt.Errorf("no stability endpoint configured for job type %q", job.Type)
	}

	body := map[string]any{
		"image":  job.InputRef,
		"params": json.RawMessage(job.Params),
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding edit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+endpoint, bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	default:
		return "", fmt.Errorf("%w: status %d", ErrInvalidResponse, resp.StatusCode)
	}

	var out struct {
		ResultURL string `json:"result_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding edit response: %w", err)
	}
	if out.ResultURL == "" {
		return "", fmt.Errorf("%w: missing result_url", ErrInvalidResponse)
	}
	return out.ResultURL, nil
}

func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
