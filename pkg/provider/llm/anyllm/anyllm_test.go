package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/speakerid/pkg/provider/llm"
)

// ── New ───────────────────────────────────────────────────────────────────────

// TestNew_EmptyProviderName checks that an empty provider name is rejected.
func TestNew_EmptyProviderName(t *testing.T) {
	_, err := New("", "gpt-4o")
	if err == nil {
		t.Fatal("expected error for empty provider name")
	}
}

// TestNew_EmptyModel checks that an empty model is rejected.
func TestNew_EmptyModel(t *testing.T) {
	_, err := New("openai", "")
	if err == nil {
		t.Fatal("expected error for empty model")
	}
}

// TestNew_UnsupportedProvider checks the error for an unknown backend name.
func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New("carrier-pigeon", "rfc1149")
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

// TestNew_SupportedProviders verifies that every documented backend name
// constructs without error.
func TestNew_SupportedProviders(t *testing.T) {
	names := []string{
		"openai", "anthropic", "gemini", "ollama",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			p, err := New(name, "some-model", anyllmlib.WithAPIKey("test-key"))
			if err != nil {
				t.Fatalf("New(%q): %v", name, err)
			}
			if got := p.ModelID(); got != "some-model" {
				t.Errorf("ModelID(): got %q, want %q", got, "some-model")
			}
		})
	}
}

// ── buildParams ───────────────────────────────────────────────────────────────

// TestBuildParams_SystemPromptPrepended checks that SystemPrompt becomes the
// first message with the system role.
func TestBuildParams_SystemPromptPrepended(t *testing.T) {
	p := &Provider{model: "gpt-4o"}
	req := llm.CompletionRequest{
		SystemPrompt: "You identify meeting speakers.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "Who said this?"},
		},
	}

	params := p.buildParams(req)
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first message role: got %q, want system", params.Messages[0].Role)
	}
	if params.Messages[0].Content != "You identify meeting speakers." {
		t.Errorf("system content: got %q", params.Messages[0].Content)
	}
	if params.Messages[1].Role != "user" {
		t.Errorf("second message role: got %q, want user", params.Messages[1].Role)
	}
}

// TestBuildParams_NoSystemPrompt checks that no system message is injected
// when SystemPrompt is empty.
func TestBuildParams_NoSystemPrompt(t *testing.T) {
	p := &Provider{model: "gpt-4o"}
	req := llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}

	params := p.buildParams(req)
	if len(params.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != "user" {
		t.Errorf("message role: got %q, want user", params.Messages[0].Role)
	}
}

// TestBuildParams_Model checks that the provider's model is set on the params.
func TestBuildParams_Model(t *testing.T) {
	p := &Provider{model: "claude-3-5-sonnet-latest"}
	params := p.buildParams(llm.CompletionRequest{})
	if params.Model != "claude-3-5-sonnet-latest" {
		t.Errorf("model: got %q", params.Model)
	}
}

// TestBuildParams_Temperature checks that a non-zero temperature is passed as
// a pointer and zero is omitted.
func TestBuildParams_Temperature(t *testing.T) {
	p := &Provider{model: "gpt-4o"}

	params := p.buildParams(llm.CompletionRequest{Temperature: 0.3})
	if params.Temperature == nil {
		t.Fatal("expected temperature to be set")
	}
	if *params.Temperature != 0.3 {
		t.Errorf("temperature: got %v, want 0.3", *params.Temperature)
	}

	params = p.buildParams(llm.CompletionRequest{})
	if params.Temperature != nil {
		t.Errorf("expected nil temperature for zero value, got %v", *params.Temperature)
	}
}

// TestBuildParams_MaxTokens checks that MaxTokens is passed as a pointer and
// zero is omitted.
func TestBuildParams_MaxTokens(t *testing.T) {
	p := &Provider{model: "gpt-4o"}

	params := p.buildParams(llm.CompletionRequest{MaxTokens: 500})
	if params.MaxTokens == nil {
		t.Fatal("expected max tokens to be set")
	}
	if *params.MaxTokens != 500 {
		t.Errorf("max tokens: got %d, want 500", *params.MaxTokens)
	}

	params = p.buildParams(llm.CompletionRequest{})
	if params.MaxTokens != nil {
		t.Errorf("expected nil max tokens for zero value, got %d", *params.MaxTokens)
	}
}

// TestBuildParams_MessageOrder checks that multi-message histories keep their
// order and roles.
func TestBuildParams_MessageOrder(t *testing.T) {
	p := &Provider{model: "gpt-4o"}
	req := llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "first"},
			{Role: llm.RoleAssistant, Content: "second"},
			{Role: llm.RoleUser, Content: "third"},
		},
	}

	params := p.buildParams(req)
	if len(params.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(params.Messages))
	}
	wantRoles := []string{"user", "assistant", "user"}
	wantContent := []string{"first", "second", "third"}
	for i := range params.Messages {
		if params.Messages[i].Role != wantRoles[i] {
			t.Errorf("message %d role: got %q, want %q", i, params.Messages[i].Role, wantRoles[i])
		}
		if params.Messages[i].Content != wantContent[i] {
			t.Errorf("message %d content: got %q, want %q", i, params.Messages[i].Content, wantContent[i])
		}
	}
}
