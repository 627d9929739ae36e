package observability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/datakeep/pkg/observability"
)

func TestNew_Disabled(t *testing.T) {
	p, err := observability.New(context.Background(), &observability.Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()), "shutdown of a disabled provider is a no-op")
}

func TestNew_NilConfigUsesDefaults(t *testing.T) {
	p, err := observability.New(context.Background(), nil)
	require.NoError(t, err, "defaults keep export disabled")
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestDefaultConfig(t *testing.T) {
	cfg := observability.DefaultConfig()
	assert.Equal(t, "datakeep", cfg.ServiceName)
	assert.False(t, cfg.Enabled)
}
