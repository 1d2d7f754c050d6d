package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/speakerid/pkg/provider/embeddings"
)

// EmbeddingsFallback implements [embeddings.Provider] with automatic failover
// across embedding backends.
//
// Unlike chat backends, embedding backends are not freely interchangeable: a
// style vector persisted under one model never compares meaningfully against
// a query from another. Every fallback must therefore serve the same model as
// the primary — [EmbeddingsFallback.AddFallback] rejects a backend whose
// model or dimensionality differs. The intended use is the same model behind
// different routes (a second API region, a mirrored deployment), not a
// different model.
type EmbeddingsFallback struct {
	group   *FallbackGroup[embeddings.Provider]
	modelID string
	dims    int
}

// Compile-time interface check.
var _ embeddings.Provider = (*EmbeddingsFallback)(nil)

// NewEmbeddingsFallback creates a chain with primary as the preferred
// backend. The primary fixes the model and dimensionality every fallback
// must match.
func NewEmbeddingsFallback(primary embeddings.Provider, primaryName string, cfg FallbackConfig) *EmbeddingsFallback {
	return &EmbeddingsFallback{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		modelID: primary.ModelID(),
		dims:    primary.Dimensions(),
	}
}

// AddFallback registers an additional embedding backend. Returns an error
// when the backend's model or vector dimensionality differs from the
// primary's — mixing embedding spaces would silently corrupt every
// similarity the matcher computes.
func (f *EmbeddingsFallback) AddFallback(name string, provider embeddings.Provider) error {
	if got := provider.ModelID(); got != f.modelID {
		return fmt.Errorf("resilience: embeddings fallback %q serves model %q, primary serves %q", name, got, f.modelID)
	}
	if got := provider.Dimensions(); got != f.dims {
		return fmt.Errorf("resilience: embeddings fallback %q produces %d-dimensional vectors, primary produces %d", name, got, f.dims)
	}
	f.group.AddFallback(name, provider)
	return nil
}

// Backends returns the backend names in try order, primary first.
func (f *EmbeddingsFallback) Backends() []string {
	return f.group.Names()
}

// Embed computes the embedding via the first healthy backend.
func (f *EmbeddingsFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatch computes the embeddings via the first healthy backend.
func (f *EmbeddingsFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions returns the vector length shared by every backend in the chain.
func (f *EmbeddingsFallback) Dimensions() int {
	return f.dims
}

// ModelID returns the model identifier shared by every backend in the chain.
func (f *EmbeddingsFallback) ModelID() string {
	return f.modelID
}
