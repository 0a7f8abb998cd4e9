// Package mock provides test doubles for the llm package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/cojovi/cmac-chat-module-win86/pkg/provider/llm"
)

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Content is returned by Complete when Err and Script are unset.
	Content string

	// Err, if non-nil, is returned by every Complete call.
	Err error

	// Script, if non-empty, supplies per-call results consumed in order.
	// After the script runs out, Content/Err apply again.
	Script []func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// ConnectivityErr is returned by CheckConnectivity.
	ConnectivityErr error

	// Calls records every request passed to Complete.
	Calls []llm.CompletionRequest
}

var (
	_ llm.Provider            = (*Provider)(nil)
	_ llm.ConnectivityChecker = (*Provider)(nil)
)

// Complete records the call and returns the scripted or fixed result.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	var fn func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	if len(p.Script) > 0 {
		fn = p.Script[0]
		p.Script = p.Script[1:]
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if p.Err != nil {
		return nil, p.Err
	}
	return &llm.CompletionResponse{Content: p.Content}, nil
}

// CheckConnectivity returns ConnectivityErr.
func (p *Provider) CheckConnectivity(ctx context.Context) error {
	return p.ConnectivityErr
}

// LastRequest returns the most recent request, or a zero value when Complete
// has not been called. Thread-safe.
func (p *Provider) LastRequest() llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return llm.CompletionRequest{}
	}
	return p.Calls[len(p.Calls)-1]
}

// CallCount returns the number of recorded Complete calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
