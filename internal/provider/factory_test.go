package provider_test

import (
	"testing"
	"time"

	"github.com/pixelmint/pixelmint/internal/config"
	"github.com/pixelmint/pixelmint/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_KnownProviders(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.ProviderConfig
	}{
		{"mock", config.ProviderConfig{Name: "mock"}},
		{"replicate", config.ProviderConfig{
			Name:      "replicate",
			Timeout:   time.Minute,
			Replicate: config.ReplicateConfig{BaseURL: "https://api.replicate.com", APIToken: "r8_x"},
		}},
		{"stability", config.ProviderConfig{
			Name:      "stability",
			Timeout:   time.Minute,
			Stability: config.StabilityConfig{BaseURL: "https://api.stability.ai", APIKey: "sk-x"},
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			adapter, err := provider.New(c.cfg)
			require.NoError(t, err)
			assert.Equal(t, c.name, adapter.Name())
		})
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := provider.New(config.ProviderConfig{Name: "dalle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dalle")
}
