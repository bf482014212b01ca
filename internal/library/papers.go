// Package library fetches topic-based paper summaries from a language model
// and builds the grounding context injected into chat and voice sessions.
//
// The fetcher boundary never fails: any upstream error (request failure,
// malformed response, cancelled context) is logged and surfaced to callers
// as an empty paper list, so the hosting application always has something
// renderable.
package library

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/paperwave/paperwave/pkg/provider/llm"
)

// Paper is a single research-paper record returned by the summarisation
// service.
type Paper struct {
	Title      string   `json:"title"`
	Authors    []string `json:"authors"`
	Year       int      `json:"year"`
	Summary    string   `json:"summary"`
	Highlights []string `json:"highlights"`
	Link       string   `json:"link"`
}

// fetchPrompt instructs the model to answer with a bare JSON array so the
// response parses without markdown stripping heuristics beyond fence removal.
const fetchPrompt = `You are a research-paper librarian. Given a topic, return the %d most relevant papers as a JSON array. Each element must have exactly these fields: "title" (string), "authors" (array of strings), "year" (integer), "summary" (2-4 sentence string), "highlights" (array of 2-5 short strings), "link" (string URL, prefer arXiv or DOI). Respond with the JSON array only, no prose and no code fences.`

// Fetcher asks an LLM for paper records on a topic.
type Fetcher struct {
	provider llm.Provider
	timeout  time.Duration
}

// FetcherOption is a functional option for configuring a Fetcher.
type FetcherOption func(*Fetcher)

// WithTimeout bounds a single Search call. Default: 60s.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) { f.timeout = d }
}

// NewFetcher creates a Fetcher over the given LLM provider.
func NewFetcher(provider llm.Provider, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		provider: provider,
		timeout:  60 * time.Second,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Search returns up to count paper records for topic. It never returns an
// error: every failure mode yields an empty slice, logged at warn level.
func (f *Fetcher) Search(ctx context.Context, topic string, count int) []Paper {
	if f.provider == nil {
		slog.Warn("library: no llm provider configured")
		return nil
	}
	topic = strings.TrimSpace(topic)
	if topic == "" || count < 1 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	resp, err := f.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(fetchPrompt, count),
		Messages: []llm.Message{
			{Role: "user", Content: topic},
		},
		Temperature: 0.2,
	})
	if err != nil {
		slog.Warn("library: paper fetch failed", "topic", topic, "err", err)
		return nil
	}

	papers, err := parsePapers(resp.Content)
	if err != nil {
		slog.Warn("library: unparseable paper response", "topic", topic, "err", err)
		return nil
	}
	if len(papers) > count {
		papers = papers[:count]
	}

	slog.Info("library: papers fetched",
		"topic", topic,
		"count", len(papers),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return papers
}

// parsePapers extracts a paper array from the model's reply, tolerating a
// wrapping code fence.
func parsePapers(content string) ([]Paper, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var papers []Paper
	if err := json.Unmarshal([]byte(content), &papers); err != nil {
		return nil, fmt.Errorf("library: decode paper list: %w", err)
	}
	return papers, nil
}
