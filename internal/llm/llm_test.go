package llm

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseModelSplitsOnFirstSlash(t *testing.T) {
	valid := map[string][2]string{
		"openrouter/qwen/qwen3-8b":          {"openrouter", "qwen/qwen3-8b"},
		"anthropic/claude-3-5-haiku-latest": {"anthropic", "claude-3-5-haiku-latest"},
		"gemini/gemini-2.0-flash":           {"gemini", "gemini-2.0-flash"},
	}
	for input, want := range valid {
		provider, name, err := ParseModel(input)
		if err != nil {
			t.Fatalf("ParseModel(%q) failed: %v", input, err)
		}
		if provider != want[0] || name != want[1] {
			t.Fatalf("ParseModel(%q) = %q, %q", input, provider, name)
		}
	}

	for _, input := range []string{"", "qwen3-8b", "/qwen3-8b", "openrouter/"} {
		if _, _, err := ParseModel(input); err == nil || !strings.Contains(err.Error(), "provider/model_name") {
			t.Fatalf("ParseModel(%q) expected format error, got %v", input, err)
		}
	}
}

func TestNewClientPicksProvider(t *testing.T) {
	for _, provider := range []string{"openai", "openrouter"} {
		client, err := NewClient(provider, "key", "model")
		if err != nil {
			t.Fatalf("NewClient(%s) failed: %v", provider, err)
		}
		if _, ok := client.(*openaiClient); !ok {
			t.Fatalf("expected %s to use the OpenAI-compatible client, got %T", provider, client)
		}
	}

	client, err := NewClient("anthropic", "key", "model", WithMaxTokens(300), WithTemperature(0.2))
	if err != nil {
		t.Fatalf("NewClient(anthropic) failed: %v", err)
	}
	ac, ok := client.(*anthropicClient)
	if !ok || ac.maxTokens != 300 || ac.temperature == nil || *ac.temperature != 0.2 {
		t.Fatalf("expected anthropic client with sampling options, got %#v", client)
	}

	if _, err := NewClient("mistral", "key", "model"); err == nil || !strings.Contains(err.Error(), "openrouter") {
		t.Fatalf("expected unknown provider error listing openrouter, got %v", err)
	}
}

func TestOptionsAccumulate(t *testing.T) {
	o := &clientOptions{}
	for _, opt := range []Option{
		WithHeader("X-Title", "pollcast"),
		WithHeader("HTTP-Referer", "https://example.test"),
		WithHeader("X-Title", "pollcast-dev"),
		WithMaxTokens(120),
	} {
		opt(o)
	}
	if len(o.headers) != 2 || o.headers["X-Title"] != "pollcast-dev" {
		t.Fatalf("expected later header to win, got %v", o.headers)
	}
	if o.temperature != nil {
		t.Fatalf("expected temperature unset, got %v", *o.temperature)
	}
	if o.maxTokens != 120 {
		t.Fatalf("expected max tokens 120, got %d", o.maxTokens)
	}
}

func TestHeaderTransportDoesNotMutateRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Title"); got != "pollcast" {
			t.Errorf("expected X-Title pollcast, got %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := &http.Client{Transport: headerTransport{
		headers: map[string]string{"X-Title": "pollcast"},
		next:    http.DefaultTransport,
	}}
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	_ = resp.Body.Close()

	if req.Header.Get("X-Title") != "" {
		t.Fatal("expected the caller's request to stay unchanged")
	}
}
