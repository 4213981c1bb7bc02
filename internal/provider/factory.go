package provider

import (
	"fmt"

	"github.com/pixelmint/pixelmint/internal/config"
	"github.com/pixelmint/pixelmint/internal/provider/mock"
	"github.com/pixelmint/pixelmint/internal/provider/replicate"
	"github.com/pixelmint/pixelmint/internal/provider/stability"
)

// New constructs the configured image-processing adapter. Called once at
// server startup.
func New(cfg config.ProviderConfig) (Adapter, error) {
	switch cfg.Name {
	case "replicate":
		return replicate.NewAdapter(cfg.Replicate, cfg.Timeout), nil
	case "stability":
		return stability.NewAdapter(cfg.Stability, cfg.Timeout), nil
	case "mock":
		return mock.NewAdapter(), nil
	default:
		return nil, fmt.Errorf("unknown image provider %q: must be one of replicate, stability, mock", cfg.Name)
	}
}
