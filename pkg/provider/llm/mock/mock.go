// Package mock provides an in-memory implementation of [llm.Provider] for
// use in unit tests. Set the exported Result fields before use; inspect the
// Call* fields after.
package mock

import (
	"context"
	"sync"

	"github.com/paperwave/paperwave/pkg/provider/llm"
)

// Provider is a mock implementation of [llm.Provider].
type Provider struct {
	mu sync.Mutex

	// StreamChunks is emitted, in order, by each StreamCompletion call.
	StreamChunks []llm.Chunk

	// StreamError is returned by StreamCompletion when non-nil.
	StreamError error

	// CompleteResult is returned by Complete when CompleteError is nil.
	CompleteResult *llm.CompletionResponse

	// CompleteError is returned by Complete when non-nil.
	CompleteError error

	// CapabilitiesResult is returned by Capabilities.
	CapabilitiesResult llm.ModelCapabilities

	// CallCountStream records how many times StreamCompletion was called.
	CallCountStream int

	// CallCountComplete records how many times Complete was called.
	CallCountComplete int

	// LastRequest records the request passed to the most recent
	// StreamCompletion or Complete call.
	LastRequest llm.CompletionRequest
}

// StreamCompletion implements [llm.Provider].
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.CallCountStream++
	p.LastRequest = req
	chunks := make([]llm.Chunk, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	err := p.StreamError
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountComplete++
	p.LastRequest = req
	if p.CompleteError != nil {
		return nil, p.CompleteError
	}
	if p.CompleteResult != nil {
		return p.CompleteResult, nil
	}
	return &llm.CompletionResponse{}, nil
}

// CountTokens implements [llm.Provider] with a 4-chars-per-token estimate.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total, nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CapabilitiesResult
}
