package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/voice-agent/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func deltaEvent(content string) string {
	return fmt.Sprintf(`data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":%q}}]}`, content)
}

func newSSEServer(t *testing.T, lines []string, check func(*http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func openAIConfig(endpoint string) config.LLMConfig {
	return config.LLMConfig{Mode: "openai", Endpoint: endpoint, APIKey: "sk-test", Model: "gpt-4o", Temperature: 0.7, TimeoutMS: 5000}
}

func TestOpenAIStreamSkipsMalformedChunks(t *testing.T) {
	srv := newSSEServer(t, []string{
		": keep-alive",
		deltaEvent("X is"),
		"data: {not json",
		deltaEvent(" a letter"),
		`data: {"choices":[]}`,
		"data: [DONE]",
		deltaEvent(" after done"),
	}, nil)

	gen := NewOpenAIGenerator(openAIConfig(srv.URL), testLogger())
	var deltas []string
	answer, err := Accumulate(context.Background(), gen, Request{Prompt: "What is X?", Model: "gpt-4o"}, func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "X is a letter" {
		t.Fatalf("unexpected answer %q", answer)
	}
	if len(deltas) != 2 || deltas[0] != "X is" || deltas[1] != " a letter" {
		t.Fatalf("unexpected delta order %q", deltas)
	}
}

func TestOpenAIRequestShape(t *testing.T) {
	var got struct {
		Model       string  `json:"model"`
		Stream      bool    `json:"stream"`
		Temperature float64 `json:"temperature"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	var auth, path string
	srv := newSSEServer(t, []string{deltaEvent("ok"), "data: [DONE]"}, func(r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
	})

	gen := NewOpenAIGenerator(openAIConfig(srv.URL+"/"), testLogger())
	if _, err := Accumulate(context.Background(), gen, Request{Prompt: "hello", Model: "gpt-4o", Temperature: 0.7}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "/chat/completions" {
		t.Fatalf("unexpected path %q", path)
	}
	if auth != "Bearer sk-test" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	if got.Model != "gpt-4o" || !got.Stream {
		t.Fatalf("unexpected request %+v", got)
	}
	if got.Temperature < 0.69 || got.Temperature > 0.71 {
		t.Fatalf("unexpected temperature %v", got.Temperature)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "hello" {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
}

func TestOpenAIConnectionCloseEndsStream(t *testing.T) {
	srv := newSSEServer(t, []string{deltaEvent("partial"), deltaEvent(" answer")}, nil)
	gen := NewOpenAIGenerator(openAIConfig(srv.URL), testLogger())
	answer, err := Accumulate(context.Background(), gen, Request{Prompt: "q"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "partial answer" {
		t.Fatalf("unexpected answer %q", answer)
	}
}

func TestOpenAIStatusFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	}))
	t.Cleanup(srv.Close)

	gen := NewOpenAIGenerator(openAIConfig(srv.URL), testLogger())
	_, err := Accumulate(context.Background(), gen, Request{Prompt: "q"}, nil)
	if err == nil {
		t.Fatal("expected error for 401")
	}
	if !strings.Contains(err.Error(), "Incorrect API key") {
		t.Fatalf("expected provider message, got %v", err)
	}
}

func TestOpenAIUnreachable(t *testing.T) {
	gen := NewOpenAIGenerator(openAIConfig("http://127.0.0.1:1"), testLogger())
	if _, err := Accumulate(context.Background(), gen, Request{Prompt: "q"}, nil); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestOpenAIEmptyStream(t *testing.T) {
	srv := newSSEServer(t, []string{"data: [DONE]"}, nil)
	gen := NewOpenAIGenerator(openAIConfig(srv.URL), testLogger())
	_, err := Accumulate(context.Background(), gen, Request{Prompt: "q"}, nil)
	if !errors.Is(err, ErrEmptyAnswer) {
		t.Fatalf("expected ErrEmptyAnswer, got %v", err)
	}
}

func TestOpenAIStreamHonoursCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "%s\n\n", deltaEvent("first"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	gen := NewOpenAIGenerator(openAIConfig(srv.URL), testLogger())
	done := make(chan error, 1)
	go func() {
		_, err := Accumulate(ctx, gen, Request{Prompt: "q"}, func(string) { cancel() })
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not stop after cancellation")
	}
}

func TestOpenAICompleter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c2","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"- a\n- b"},"finish_reason":"stop"}]}`))
	}))
	t.Cleanup(srv.Close)

	completer, err := NewCompleter(openAIConfig(srv.URL), testLogger())
	if err != nil {
		t.Fatalf("NewCompleter: %v", err)
	}
	text, err := completer.Complete(context.Background(), Request{Prompt: "extract", Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "- a\n- b" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestOpenAIStreamOutlivesHeaderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, word := range []string{"slow", " but", " complete"} {
			fmt.Fprintf(w, "%s\n\n", deltaEvent(word))
			flusher.Flush()
			time.Sleep(60 * time.Millisecond)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)

	cfg := openAIConfig(srv.URL)
	cfg.TimeoutMS = 100
	answer, err := Accumulate(context.Background(), NewOpenAIGenerator(cfg, testLogger()), Request{Model: "gpt-4o", Prompt: "hi"}, nil)
	if err != nil {
		t.Fatalf("stream longer than the header timeout must not fail: %v", err)
	}
	if answer != "slow but complete" {
		t.Fatalf("unexpected answer %q", answer)
	}
}
