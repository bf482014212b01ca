package server_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/paperwave/paperwave/internal/chat"
	"github.com/paperwave/paperwave/internal/library"
	"github.com/paperwave/paperwave/internal/server"
	"github.com/paperwave/paperwave/internal/voice"
	"github.com/paperwave/paperwave/pkg/audio"
	audiomock "github.com/paperwave/paperwave/pkg/audio/mock"
	"github.com/paperwave/paperwave/pkg/provider/live"
	"github.com/paperwave/paperwave/pkg/provider/llm"
	llmmock "github.com/paperwave/paperwave/pkg/provider/llm/mock"
	livemock "github.com/paperwave/paperwave/pkg/provider/live/mock"
)

const paperJSON = `[
  {"title": "Attention Is All You Need", "authors": ["Vaswani"], "year": 2017,
   "summary": "Introduces the transformer.", "highlights": ["self-attention"],
   "link": "https://arxiv.org/abs/1706.03762"},
  {"title": "Deep Residual Learning", "authors": ["He"], "year": 2015,
   "summary": "Residual connections.", "highlights": ["skip connections"],
   "link": "https://arxiv.org/abs/1512.03385"}
]`

// newTestServer builds a Server over a mocked LLM provider and returns it
// behind httptest.
func newTestServer(t *testing.T, provider llm.Provider, opts ...server.Option) *httptest.Server {
	t.Helper()
	srv := server.New(library.NewFetcher(provider), chat.NewAgent(provider), opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

// ── Papers ──────────────────────────────────────────────────────────────

func TestPaperSearch_ReturnsRecords(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &llmmock.Provider{
		CompleteResult: &llm.CompletionResponse{Content: paperJSON},
	})

	resp := postJSON(t, ts.URL+"/v1/papers/search", `{"topic": "transformers"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d; want 200", resp.StatusCode)
	}

	var body struct {
		Papers []library.Paper `json:"papers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Papers) != 2 {
		t.Fatalf("got %d papers; want 2", len(body.Papers))
	}
	if body.Papers[0].Title != "Attention Is All You Need" {
		t.Errorf("title = %q", body.Papers[0].Title)
	}
}

func TestPaperSearch_TopicRequired(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &llmmock.Provider{})
	resp := postJSON(t, ts.URL+"/v1/papers/search", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d; want 400", resp.StatusCode)
	}
}

func TestPaperSearch_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &llmmock.Provider{})
	resp := postJSON(t, ts.URL+"/v1/papers/search", `{"topic": "x", "topik": "y"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d; want 400", resp.StatusCode)
	}
}

func TestPaperSearch_EmptyResultIsArray(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &llmmock.Provider{
		CompleteResult: &llm.CompletionResponse{Content: "not json at all"},
	})

	resp := postJSON(t, ts.URL+"/v1/papers/search", `{"topic": "quantum"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d; want 200", resp.StatusCode)
	}
	if body := readBody(t, resp); !strings.Contains(body, `"papers":[]`) {
		t.Errorf("empty result should serialise as [], got %s", body)
	}
}

func TestPaperSearch_CountClamped(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		CompleteResult: &llm.CompletionResponse{Content: paperJSON},
	}
	ts := newTestServer(t, provider, server.WithPaperCounts(5, 8))

	postJSON(t, ts.URL+"/v1/papers/search", `{"topic": "x", "count": 999}`)
	if prompt := provider.LastRequest.SystemPrompt; !strings.Contains(prompt, "8") {
		t.Errorf("count not clamped to maximum; prompt = %q", prompt)
	}

	postJSON(t, ts.URL+"/v1/papers/search", `{"topic": "x"}`)
	if prompt := provider.LastRequest.SystemPrompt; !strings.Contains(prompt, "5") {
		t.Errorf("default count not applied; prompt = %q", prompt)
	}
}

// ── Chat ────────────────────────────────────────────────────────────────

func TestChat_StreamsPlainText(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{Text: "Transformers "},
			{Text: "use self-attention."},
			{FinishReason: "stop"},
		},
	})

	resp := postJSON(t, ts.URL+"/v1/chat", `{"message": "What is a transformer?"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d; want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q; want text/plain", ct)
	}
	if got, want := readBody(t, resp), "Transformers use self-attention."; got != want {
		t.Errorf("body = %q; want %q", got, want)
	}
}

func TestChat_ForwardsHistoryAndGrounding(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{}
	ts := newTestServer(t, provider)

	postJSON(t, ts.URL+"/v1/chat", `{
		"message": "And the year?",
		"history": [
			{"role": "user", "content": "Who wrote it?"},
			{"role": "assistant", "content": "Vaswani et al."}
		],
		"grounding": "Paper 1: Attention Is All You Need (2017)"
	}`)

	if got := len(provider.LastRequest.Messages); got != 3 {
		t.Fatalf("got %d messages; want 3", got)
	}
	if !strings.Contains(provider.LastRequest.SystemPrompt, "Attention Is All You Need") {
		t.Error("grounding missing from system prompt")
	}
}

func TestChat_MessageRequired(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &llmmock.Provider{})
	resp := postJSON(t, ts.URL+"/v1/chat", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d; want 400", resp.StatusCode)
	}
}

func TestChat_StreamStartFailure_Returns502(t *testing.T) {
	t.Parallel()

	// An agent with no provider refuses to stream before any headers go out.
	ts := newTestServer(t, nil)
	resp := postJSON(t, ts.URL+"/v1/chat", `{"message": "hi"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d; want 502", resp.StatusCode)
	}
}

// ── Voice ───────────────────────────────────────────────────────────────

// newVoiceServer wires a Manager over mocked audio devices and a mocked
// live provider into the test server.
func newVoiceServer(t *testing.T) *httptest.Server {
	t.Helper()

	dev := audiomock.NewInputDevice()
	out := &audiomock.OutputDevice{}
	clock := audiomock.NewClock(0)
	provider := &livemock.Provider{ConnectResult: livemock.NewSession()}

	manager := voice.NewManager(
		audio.NewCapture(dev),
		audio.NewScheduler(out, clock),
		provider,
	)
	return newTestServer(t, &llmmock.Provider{}, server.WithVoiceManager(manager))
}

func decodeVoiceStatus(t *testing.T, resp *http.Response) (state string, muted bool) {
	t.Helper()
	var body struct {
		State string `json:"state"`
		Muted bool   `json:"muted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return body.State, body.Muted
}

func TestVoice_ActivateDeactivateRoundTrip(t *testing.T) {
	t.Parallel()

	ts := newVoiceServer(t)

	resp := postJSON(t, ts.URL+"/v1/voice/activate", `{"grounding": "papers"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("activate status = %d; want 200", resp.StatusCode)
	}
	if state, _ := decodeVoiceStatus(t, resp); state != "open" {
		t.Errorf("state after activate = %q; want open", state)
	}

	resp = postJSON(t, ts.URL+"/v1/voice/deactivate", `{}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deactivate status = %d; want 200", resp.StatusCode)
	}
	if state, _ := decodeVoiceStatus(t, resp); state != "closed" {
		t.Errorf("state after deactivate = %q; want closed", state)
	}
}

func TestVoice_ActivateWhileOpen_Returns409(t *testing.T) {
	t.Parallel()

	ts := newVoiceServer(t)

	postJSON(t, ts.URL+"/v1/voice/activate", `{}`)
	resp := postJSON(t, ts.URL+"/v1/voice/activate", `{}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d; want 409", resp.StatusCode)
	}

	postJSON(t, ts.URL+"/v1/voice/deactivate", `{}`)
}

func TestVoice_DeactivateIdempotent(t *testing.T) {
	t.Parallel()

	ts := newVoiceServer(t)

	for range 2 {
		resp := postJSON(t, ts.URL+"/v1/voice/deactivate", `{}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("deactivate status = %d; want 200", resp.StatusCode)
		}
	}
}

func TestVoice_MuteTogglesState(t *testing.T) {
	t.Parallel()

	ts := newVoiceServer(t)
	postJSON(t, ts.URL+"/v1/voice/activate", `{}`)
	defer postJSON(t, ts.URL+"/v1/voice/deactivate", `{}`)

	resp := postJSON(t, ts.URL+"/v1/voice/mute", `{"muted": true}`)
	if _, muted := decodeVoiceStatus(t, resp); !muted {
		t.Error("muted = false after mute request")
	}

	resp = postJSON(t, ts.URL+"/v1/voice/mute", `{"muted": false}`)
	if _, muted := decodeVoiceStatus(t, resp); muted {
		t.Error("muted = true after unmute request")
	}
}

func TestVoice_StatusEndpoint(t *testing.T) {
	t.Parallel()

	ts := newVoiceServer(t)
	resp, err := http.Get(ts.URL + "/v1/voice/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()

	if state, muted := decodeVoiceStatus(t, resp); state != "closed" || muted {
		t.Errorf("initial status = (%q, %v); want (closed, false)", state, muted)
	}
}

func TestVoice_StatusReportsSessionFailure(t *testing.T) {
	t.Parallel()

	session := livemock.NewSession()
	session.ErrResult = live.ErrConnectionFailed
	dev := audiomock.NewInputDevice()
	manager := voice.NewManager(
		audio.NewCapture(dev),
		audio.NewScheduler(&audiomock.OutputDevice{}, audiomock.NewClock(0)),
		&livemock.Provider{ConnectResult: session},
	)
	ts := newTestServer(t, &llmmock.Provider{}, server.WithVoiceManager(manager))

	postJSON(t, ts.URL+"/v1/voice/activate", `{}`)
	session.Close()

	var body struct {
		State string `json:"state"`
		Error string `json:"error"`
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && body.State != "failed" {
		resp, err := http.Get(ts.URL + "/v1/voice/status")
		if err != nil {
			t.Fatalf("GET status: %v", err)
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		resp.Body.Close()
		time.Sleep(5 * time.Millisecond)
	}

	if body.State != "failed" {
		t.Fatalf("state = %q; want failed after the session died", body.State)
	}
	if !strings.Contains(body.Error, live.ErrConnectionFailed.Error()) {
		t.Errorf("error = %q; want the session failure cause", body.Error)
	}
}

func TestVoice_RoutesAbsentWithoutManager(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &llmmock.Provider{})
	resp, err := http.Get(ts.URL + "/v1/voice/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d; want 404 when voice is not configured", resp.StatusCode)
	}
}

// ── Operational routes ──────────────────────────────────────────────────

func TestHealthRoutesMounted(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &llmmock.Provider{})
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d; want 200", path, resp.StatusCode)
		}
	}
}

func TestMetricsRouteMounted(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &llmmock.Provider{})
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d; want 200", resp.StatusCode)
	}
}
