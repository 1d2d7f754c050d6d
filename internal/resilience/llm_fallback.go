package resilience

import (
	"context"

	"github.com/MrWong99/speakerid/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across chat
// backends. Each backend has its own circuit breaker; when the primary fails
// or its breaker is open, the next healthy fallback answers instead. The
// mention reasoner only records a zero-confidence judgment once the whole
// chain is exhausted.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface check.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates a chain with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional chat backend, tried after all earlier
// entries.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Backends returns the backend names in try order, primary first.
func (f *LLMFallback) Backends() []string {
	return f.group.Names()
}

// Complete sends req to the first healthy backend and returns its response.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// ModelID returns the primary backend's model identifier. Static metadata
// does not participate in failover; fallback models may differ, and logs of
// individual calls carry the provider name through the attempt hook.
func (f *LLMFallback) ModelID() string {
	return f.group.entries[0].value.ModelID()
}
