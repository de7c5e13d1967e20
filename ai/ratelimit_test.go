package ai_test

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/sluice/ai"
	"github.com/poiesic/sluice/ai/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRateLimitedEmbedder_Disabled(t *testing.T) {
	inner := mock.NewMockEmbedder()
	got := ai.NewRateLimitedEmbedder(inner, 0, 1)
	assert.Same(t, inner, got, "zero rate should return the wrapped embedder")
}

func TestRateLimitedEmbedder_Delegates(t *testing.T) {
	inner := mock.NewMockEmbedder()
	inner.Dimension = 8
	limited := ai.NewRateLimitedEmbedder(inner, 1000, 1)

	vec, err := limited.EmbedText(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 8)

	vecs, err := limited.EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 2, inner.CallCount())
	assert.Equal(t, 3, inner.TextCount())
}

func TestRateLimitedEmbedder_Throttles(t *testing.T) {
	inner := mock.NewMockEmbedder()
	limited := ai.NewRateLimitedEmbedder(inner, 20, 1)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := limited.EmbedText(context.Background(), "x")
		require.NoError(t, err)
	}
	// First call uses the burst token, the next two wait ~50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestRateLimitedEmbedder_ContextCanceled(t *testing.T) {
	inner := mock.NewMockEmbedder()
	limited := ai.NewRateLimitedEmbedder(inner, 1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := limited.EmbedTexts(ctx, []string{"x"})
	require.Error(t, err)
	assert.Equal(t, 0, inner.CallCount())
}
