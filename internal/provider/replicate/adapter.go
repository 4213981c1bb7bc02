// Package replicate adapts Replicate's prediction HTTP API to the Adapter
// interface. A prediction is created, then polled until it reaches a terminal
// state or the caller's context expires.
package replicate

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

// Sentinel errors for Replicate failures.
var (
	ErrUnreachable     = errors.New("replicate unreachable")
	ErrTimeout         = errors.New("replicate request timeout")
	ErrInvalidResponse = errors.New("replicate returned invalid response")
	ErrPredictionFail  = errors.New("replicate prediction failed")
)

// modelVersions maps job types to pinned model versions.
var modelVersions = map[string]string{
	"upscale":            "nightmareai/real-esrgan",
	"enhance":            "tencentarc/gfpgan",
	"background_removal": "cjwbw/rembg",
	"colorize":           "cjwbw/bigcolor",
	"style_transfer":     "rossjillian/controlnet",
}

const pollInterval = 2 * time.Second

// Adapter implements provider.Adapter using Replicate.
type Adapter struct {
	cfg    config.ReplicateConfig
	client *http.Client
}

func NewAdapter(cfg config.ReplicateConfig, timeout time.Duration) *Adapter {
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (a *Adapter) Name() string { return "replicate" }

func (a *Adapter) Run(ctx context.Context, job *models.Job) (string, error) {
	model, ok := modelVersions[job.Type]
	if !ok {
		return "", fmt.Errorf("no replicate model configured for job type %q", job.Type)
	}

	id, err := a.createPrediction(ctx, model, job)
	if err != nil {
		return "", err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		case <-ticker.C:
		}

		p, err := a.getPrediction(ctx, id)
		if err != nil {
			return "", err
		}
		switch p.Status {
		case "succeeded":
			if p.Output == "" {
				return "", fmt.Errorf("%w: succeeded prediction has no output", ErrInvalidResponse)
			}
			return p.Output, nil
		case "failed", "canceled":
			return "", fmt.Errorf("%w: %s", ErrPredictionFail, p.Error)
		}
		// starting / processing: keep polling
	}
}

type prediction struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output string `json:"output"`
	Error  string `json:"error"`
}

func (a *Adapter) createPrediction(ctx context.Context, model string, job *models.Job) (string, error) {
	body := map[string]any{
		"version": model,
		"input": map[string]any{
			"image":  job.InputRef,
			"params": json.RawMessage(job.Params),
		},
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding prediction request: %w", err)
	}

	u := a.cfg.BaseURL + "/v1/predictions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	a.setHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrInvalidResponse, resp.StatusCode)
	}

	var p prediction
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return "", fmt.Errorf("decoding prediction response: %w", err)
	}
	if p.ID == "" {
		return "", fmt.Errorf("%w: missing prediction id", ErrInvalidResponse)
	}
	return p.ID, nil
}

func (a *Adapter) getPrediction(ctx context.Context, id string) (*prediction, error) {
	u := fmt.Sprintf("%s/v1/predictions/%s", a.cfg.BaseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	a.setHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrInvalidResponse, resp.StatusCode)
	}

	var p prediction
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding prediction response: %w", err)
	}
	return &p, nil
}

func (a *Adapter) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")
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
