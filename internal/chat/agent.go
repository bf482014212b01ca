// Package chat implements the grounded chat agent: it streams incremental
// text chunks from an LLM whose answers are constrained to the supplied
// paper summaries via prompt injection.
package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paperwave/paperwave/internal/library"
	"github.com/paperwave/paperwave/pkg/provider/llm"
)

// basePrompt is prepended to the grounding context on every request.
const basePrompt = "You are a helpful research assistant. Answer concisely and cite the paper titles you draw on. If the supplied papers do not cover the question, say so rather than inventing sources."

// Agent streams grounded chat completions.
type Agent struct {
	provider llm.Provider
}

// NewAgent creates an Agent over the given LLM provider.
func NewAgent(provider llm.Provider) *Agent {
	return &Agent{provider: provider}
}

// Stream sends the conversation to the model and returns a lazy, finite
// stream of reply chunks. The grounding string is truncated to
// [library.MaxGroundingChars] before injection; history order is preserved
// and message drives the response.
//
// The channel is closed when the reply is complete or the context is
// cancelled. Mid-stream failures arrive as a final chunk with FinishReason
// "error" (the provider contract); the error return covers only failures
// that prevent the stream from starting.
func (a *Agent) Stream(ctx context.Context, history []llm.Message, message, grounding string) (<-chan llm.Chunk, error) {
	if a.provider == nil {
		return nil, fmt.Errorf("chat: no llm provider configured")
	}
	if message == "" {
		return nil, fmt.Errorf("chat: empty message")
	}

	system := basePrompt
	if grounding != "" {
		system += "\n\n" + library.Truncate(grounding, library.MaxGroundingChars)
	}

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: message})

	// Guard the context budget before sending.
	if est, err := a.provider.CountTokens(messages); err == nil {
		if window := a.provider.Capabilities().ContextWindow; window > 0 && est > window {
			return nil, fmt.Errorf("chat: conversation of ~%d tokens exceeds the %d-token context window", est, window)
		}
	}

	ch, err := a.provider.StreamCompletion(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     messages,
	})
	if err != nil {
		return nil, fmt.Errorf("chat: start stream: %w", err)
	}

	slog.Debug("chat: stream started", "history", len(history), "grounding_chars", len(grounding))
	return ch, nil
}
