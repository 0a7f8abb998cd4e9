// Package openwebui provides an LLM provider for Open WebUI and other
// OpenAI-compatible chat-completion endpoints, built on the official OpenAI
// Go SDK pointed at a custom base URL.
//
// Usage:
//
//	p, err := openwebui.New("http://localhost:3000/api", "sk-...", "llama3.2",
//	    openwebui.WithTimeout(60*time.Second),
//	)
//	resp, err := p.Complete(ctx, req)
package openwebui

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/cojovi/cmac-chat-module-win86/internal/fault"
	"github.com/cojovi/cmac-chat-module-win86/pkg/provider/llm"
)

// Compile-time assertions for the llm interfaces.
var (
	_ llm.Provider            = (*Provider)(nil)
	_ llm.ConnectivityChecker = (*Provider)(nil)
)

// config holds optional configuration for the provider.
type config struct {
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout. Defaults to 60 s, generous
// enough for slow local models.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Provider implements llm.Provider against an OpenAI-compatible endpoint.
type Provider struct {
	client oai.Client
	model  string
}

// New constructs a Provider for the endpoint at baseURL (e.g.
// "http://localhost:3000/api" for Open WebUI). apiKey may be empty for
// endpoints that do not authenticate.
func New(baseURL, apiKey, model string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("openwebui: baseURL must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openwebui: model must not be empty")
	}

	cfg := &config{timeout: 60 * time.Second}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}),
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	const op = "llm.complete"

	if len(req.Messages) == 0 {
		return nil, fault.New(fault.KindService, op, "there is no message to answer")
	}

	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, classify(op, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fault.New(fault.KindService, op, "the model returned an empty response")
	}

	choice := resp.Choices[0]
	return &llm.CompletionResponse{
		Content: choice.Message.Content,
		Model:   resp.Model,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// CheckConnectivity lists the endpoint's models as a lightweight reachability
// probe.
func (p *Provider) CheckConnectivity(ctx context.Context) error {
	if _, err := p.client.Models.List(ctx); err != nil {
		return classify("llm.connectivity", err)
	}
	return nil
}

// buildParams converts a CompletionRequest into OpenAI SDK params.
func (p *Provider) buildParams(req llm.CompletionRequest) oai.ChatCompletionNewParams {
	var messages []oai.ChatCompletionMessageParamUnion

	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, oai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, oai.AssistantMessage(m.Content))
		default:
			messages = append(messages, oai.UserMessage(m.Content))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params
}

// classify maps an SDK error to a fault kind. HTTP 429 and 5xx are treated as
// transient; other HTTP statuses mean the request itself was rejected.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.WrapMsg(fault.KindTimeout, op, "language model timed out", err)
	}

	var apierr *oai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusTooManyRequests || apierr.StatusCode >= http.StatusInternalServerError:
			return fault.WrapMsg(fault.KindNetwork, op,
				fmt.Sprintf("language model is temporarily unavailable (HTTP %d)", apierr.StatusCode), err)
		default:
			return fault.WrapMsg(fault.KindService, op,
				fmt.Sprintf("language model rejected the request (HTTP %d)", apierr.StatusCode), err)
		}
	}

	return fault.WrapMsg(fault.KindNetwork, op, "language model is unreachable", err)
}
