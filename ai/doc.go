// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ai defines the embedding provider boundary used by Sluice.
//
// The provider is a black box mapping text to vectors. It can fail in ways
// that matter to the ingestion pipeline:
//
//   - transient failures (rate limits, timeouts, unavailable service) are retried
//   - malformed input is never retried and never split
//   - oversized input is not retried but the unit may be split and retried in pieces
//
// Classify turns raw client errors into these categories and IsRetryable
// answers the retry question for the backoff loop.
//
// # Implementation Packages
//
//   - ai/openai: OpenAI-compatible client built on langchaingo
//   - ai/mock: deterministic test double with failure injection
//
// Public constructors (openai.NewEmbedder) return the ai.Embedder interface.
// Test constructors (mock.NewMockEmbedder) return concrete types so tests can
// inspect call counts and swap behaviour.
//
// # Usage Example
//
//	config := ai.NewConfig(ai.WithEmbeddingModel("text-embedding-3-small"))
//	embedder, err := openai.NewEmbedder(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	embedder = ai.NewRateLimitedEmbedder(embedder, config.RequestsPerSecond, config.Burst)
//	vectors, err := embedder.EmbedTexts(ctx, []string{"first chunk", "second chunk"})
package ai
