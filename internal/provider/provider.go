// Package provider is the boundary to the external image-processing service.
// The orchestrator calls Run after the debit has committed, outside any lock,
// and translates the outcome into its success or failure callback. Adapter
// implementations live in sub-packages and each define their own failure
// sentinels; the orchestrator treats any Run error as a job failure.
package provider

import (
	"context"

	"github.com/pixelmint/pixelmint/pkg/models"
)

// Adapter runs one image-processing job and returns a reference to the
// produced result. Implementations must honor ctx cancellation; the
// orchestrator bounds every call with a timeout.
type Adapter interface {
	Name() string
	Run(ctx context.Context, job *models.Job) (resultRef string, err error)
}
