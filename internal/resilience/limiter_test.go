package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceLimiters_UnknownServiceUnlimited(t *testing.T) {
	t.Parallel()

	sl := NewServiceLimiters(map[string]float64{"firecrawl": 1})
	for i := 0; i < 50; i++ {
		require.NoError(t, sl.Wait(context.Background(), "jina"))
	}
}

func TestServiceLimiters_NilSafe(t *testing.T) {
	t.Parallel()

	var sl *ServiceLimiters
	assert.NoError(t, sl.Wait(context.Background(), "anything"))
}

func TestServiceLimiters_HonorsContext(t *testing.T) {
	t.Parallel()

	sl := NewServiceLimiters(map[string]float64{"anthropic": 0.001})
	require.NoError(t, sl.Wait(context.Background(), "anthropic"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, sl.Wait(ctx, "anthropic"))
}
