package anyllm

import (
	"testing"

	"github.com/cojovi/cmac-chat-module-win86/pkg/provider/llm"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "model"); err == nil {
		t.Error("expected error for empty providerName")
	}
	if _, err := New("ollama", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("not-a-backend", "model"); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestNew_KnownBackends(t *testing.T) {
	// Backends that construct without credentials or network access.
	for _, name := range []string{"ollama", "llamacpp"} {
		if _, err := New(name, "some-model"); err != nil {
			t.Errorf("New(%q): %v", name, err)
		}
	}
}

func TestBuildParams(t *testing.T) {
	p := &Provider{model: "llama3.2"}
	req := llm.CompletionRequest{
		SystemPrompt: "be brief",
		Messages: []llm.Message{
			{Role: "user", Content: "what time is it"},
			{Role: "assistant", Content: "about noon"},
			{Role: "user", Content: "thanks"},
		},
		Temperature: 0.7,
		MaxTokens:   256,
	}

	params := p.buildParams(req)

	if params.Model != "llama3.2" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 4 {
		t.Fatalf("messages = %d, want 4 (system + 3 turns)", len(params.Messages))
	}
	if params.Messages[0].Role != "system" || params.Messages[0].Content != "be brief" {
		t.Errorf("system message = %+v", params.Messages[0])
	}
	if params.Messages[3].Content != "thanks" {
		t.Errorf("last message = %+v", params.Messages[3])
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}
}

func TestBuildParams_Defaults(t *testing.T) {
	p := &Provider{model: "m"}
	params := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if params.Temperature != nil {
		t.Error("zero temperature must stay unset")
	}
	if params.MaxTokens != nil {
		t.Error("zero max tokens must stay unset")
	}
}
