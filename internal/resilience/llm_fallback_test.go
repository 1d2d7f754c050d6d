package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/speakerid/pkg/provider/llm"
	llmmock "github.com/MrWong99/speakerid/pkg/provider/llm/mock"
)

func TestLLMFallback_PrimarySuccess(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "from primary"},
	}
	secondary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "from secondary"},
	}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != "from primary" {
		t.Fatalf("content = %q, want from primary", resp.Content)
	}
	if len(primary.CompleteCalls) != 1 || len(secondary.CompleteCalls) != 0 {
		t.Fatalf("calls primary=%d secondary=%d, want 1/0",
			len(primary.CompleteCalls), len(secondary.CompleteCalls))
	}
}

func TestLLMFallback_FailoverCarriesRequest(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "from secondary"},
	}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	req := llm.CompletionRequest{
		SystemPrompt: "identify speakers",
		Temperature:  0.3,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "who is Kim?"}},
	}
	resp, err := fb.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != "from secondary" {
		t.Fatalf("content = %q, want from secondary", resp.Content)
	}
	if len(secondary.CompleteCalls) != 1 {
		t.Fatalf("secondary called %d times, want 1", len(secondary.CompleteCalls))
	}
	got := secondary.CompleteCalls[0].Req
	if got.SystemPrompt != req.SystemPrompt || got.Temperature != req.Temperature {
		t.Errorf("fallback received request %+v, want the original %+v", got, req)
	}
}

func TestLLMFallback_AllFail(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := &llmmock.Provider{CompleteErr: errors.New("secondary down")}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("Complete() error = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_ModelIDIsPrimary(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{ModelIDValue: "gpt-4o-mini"}
	secondary := &llmmock.Provider{ModelIDValue: "llama3"}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	if got := fb.ModelID(); got != "gpt-4o-mini" {
		t.Errorf("ModelID() = %q, want the primary's gpt-4o-mini", got)
	}
}

func TestLLMFallback_Backends(t *testing.T) {
	t.Parallel()

	fb := NewLLMFallback(&llmmock.Provider{}, "openai", FallbackConfig{})
	fb.AddFallback("ollama", &llmmock.Provider{})

	got := fb.Backends()
	if len(got) != 2 || got[0] != "openai" || got[1] != "ollama" {
		t.Errorf("Backends() = %v, want [openai ollama]", got)
	}
}
