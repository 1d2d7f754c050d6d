// Package embeddings defines the Provider interface for text-embedding backends.
//
// The resolution engine uses text embeddings as the writing-style channel of
// profile matching: a speaker's joined utterances are embedded and compared
// against the stored style vector of each profile. The confirmation step uses
// the same boundary to compute the style vector persisted into new profiles.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider instance share the dimensionality
// reported by Dimensions. Vectors from different instances must not be mixed
// in one similarity computation unless model and space are known to match —
// a style vector persisted under one model never compares meaningfully against
// a query from another.
type Provider interface {
	// Embed computes the embedding vector for a single text. Returns a float32
	// slice of length Dimensions(), or an error when the request fails or ctx
	// is cancelled. Text is passed through verbatim; any model-specific prompt
	// prefix is the caller's concern.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embeddings for several texts in one provider call.
	// The result has the same length and order as texts. Partial results are
	// never returned: on error the whole slice is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length produced by this provider,
	// determined by the underlying model. The profile store bakes this value
	// into its schema.
	Dimensions() int

	// ModelID returns the backend's model identifier (e.g.
	// "text-embedding-3-small"), for logging and configuration checks.
	ModelID() string
}
