// Package mock provides a test double for ai.Embedder.
//
// MockEmbedder returns deterministic vectors derived from the text hash, so
// identical chunks always embed identically. Tests inject failures through
// the function fields and assert on CallCount and TextCount.
//
//	embedder := mock.NewMockEmbedder()
//	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
//	    return nil, fmt.Errorf("%w: 429", ai.ErrRateLimited)
//	}
package mock
