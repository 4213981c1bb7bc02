// Package mock provides a configurable Adapter for tests and local
// development.
package mock

import (
	"context"
	"fmt"

	"github.com/pixelmint/pixelmint/pkg/models"
)

// Adapter satisfies provider.Adapter with injectable behavior.
type Adapter struct {
	Name_   string
	RunFunc func(ctx context.Context, job *models.Job) (string, error)
}

func (m *Adapter) Name() string { return m.Name_ }

func (m *Adapter) Run(ctx context.Context, job *models.Job) (string, error) {
	if m.RunFunc != nil {
		return m.RunFunc(ctx, job)
	}
	return "", nil
}

// NewAdapter returns an Adapter that immediately succeeds with a synthetic
// result reference.
func NewAdapter() *Adapter {
	return &Adapter{
		Name_: "mock",
		RunFunc: func(_ context.Context, job *models.Job) (string, error) {
			return fmt.Sprintf("results/%s/%s.png", job.Type, job.ID), nil
		},
	}
}

// NewFailingAdapter returns an Adapter that always returns the given error.
func NewFailingAdapter(err error) *Adapter {
	return &Adapter{
		Name_: "mock-failing",
		RunFunc: func(_ context.Context, _ *models.Job) (string, error) {
			return "", err
		},
	}
}

// NewBlockingAdapter returns an Adapter that blocks until the context is
// cancelled, for exercising the timeout path.
func NewBlockingAdapter() *Adapter {
	return &Adapter{
		Name_: "mock-blocking",
		RunFunc: func(ctx context.Context, _ *models.Job) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
}
