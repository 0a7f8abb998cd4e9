package openwebui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cojovi/cmac-chat-module-win86/internal/fault"
	"github.com/cojovi/cmac-chat-module-win86/pkg/provider/llm"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "key", "model"); err == nil {
		t.Error("expected error for empty baseURL")
	}
	if _, err := New("http://x", "key", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestComplete_Success(t *testing.T) {
	var gotBody struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"model": "llama3.2",
			"choices": [{"message": {"role": "assistant", "content": "The lights are on."}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
		}`))
	}))
	defer srv.Close()

	p, err := New(srv.URL, "key", "llama3.2")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "you are a voice assistant",
		Messages: []llm.Message{
			{Role: "user", Content: "turn on the lights"},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "The lights are on." {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 17 {
		t.Errorf("total tokens = %d, want 17", resp.Usage.TotalTokens)
	}

	if gotBody.Model != "llama3.2" {
		t.Errorf("request model = %q", gotBody.Model)
	}
	if len(gotBody.Messages) != 2 {
		t.Fatalf("request messages = %d, want 2", len(gotBody.Messages))
	}
	if gotBody.Messages[0].Role != "system" || gotBody.Messages[1].Role != "user" {
		t.Errorf("roles = %q, %q", gotBody.Messages[0].Role, gotBody.Messages[1].Role)
	}
}

func TestComplete_EmptyMessages(t *testing.T) {
	p, _ := New("http://unused", "key", "m")
	_, err := p.Complete(context.Background(), llm.CompletionRequest{})
	if fault.KindOf(err) != fault.KindService {
		t.Errorf("kind = %v, want service", fault.KindOf(err))
	}
}

func TestComplete_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "overloaded"}}`, http.StatusBadGateway)
	}))
	defer srv.Close()

	p, _ := New(srv.URL, "key", "m")
	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if !fault.Retryable(err) {
		t.Errorf("HTTP 502 should be retryable, got %v", err)
	}
}

func TestComplete_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "no such model"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	p, _ := New(srv.URL, "key", "m")
	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if fault.KindOf(err) != fault.KindService {
		t.Errorf("kind = %v, want service", fault.KindOf(err))
	}
	if fault.Retryable(err) {
		t.Error("HTTP 404 must not be retryable")
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	p, _ := New(srv.URL, "key", "m")
	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if fault.KindOf(err) != fault.KindService {
		t.Errorf("kind = %v, want service", fault.KindOf(err))
	}
}

func TestCheckConnectivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %q, want /models", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object": "list", "data": []}`))
	}))
	defer srv.Close()

	p, _ := New(srv.URL, "key", "m")
	if err := p.CheckConnectivity(context.Background()); err != nil {
		t.Errorf("CheckConnectivity = %v, want nil", err)
	}
}
