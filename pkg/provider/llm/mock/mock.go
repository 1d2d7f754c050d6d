// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the reasoner sends correct
// CompletionRequests and to feed controlled responses without a live LLM
// backend. All fields are safe to set before calling any method; mutating
// them during a concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    Script: []mock.Completion{
//	        {Response: &llm.CompletionResponse{Content: `{"speaker":"SPEAKER_00",...}`}},
//	        {Err: errors.New("rate limited")},
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/speakerid/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Completion is one scripted Complete result.
type Completion struct {
	// Response is returned when Err is nil.
	Response *llm.CompletionResponse
	// Err, if non-nil, is returned instead of Response.
	Err error
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause methods to return zero values and nil
// errors. Set Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Script, when non-empty, supplies one result per Complete call in order.
	// Calls beyond the end of the script fall back to CompleteResponse and
	// CompleteErr.
	Script []Completion

	// CompleteResponse is returned by Complete when the script is exhausted
	// or empty. May be nil (returns nil, nil).
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete when
	// the script is exhausted or empty.
	CompleteErr error

	// ModelIDValue is returned by ModelID. Empty defaults to "mock-llm".
	ModelIDValue string

	// --- Call records (read after test) ---

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall

	scriptPos int
}

// Complete records the call and returns the next scripted result, falling
// back to CompleteResponse, CompleteErr once the script runs out.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	if p.scriptPos < len(p.Script) {
		entry := p.Script[p.scriptPos]
		p.scriptPos++
		if entry.Err != nil {
			return nil, entry.Err
		}
		return entry.Response, nil
	}
	return p.CompleteResponse, p.CompleteErr
}

// ModelID returns ModelIDValue, or "mock-llm" when unset.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ModelIDValue == "" {
		return "mock-llm"
	}
	return p.ModelIDValue
}

// Reset clears all recorded calls and rewinds the script. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
	p.scriptPos = 0
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
