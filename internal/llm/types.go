package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/voice-agent/internal/config"
)

// ErrEmptyAnswer is returned when a completion stream ends without any text.
var ErrEmptyAnswer = errors.New("completion produced no text")

// Request describes a single-message completion.
type Request struct {
	RequestID   string
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Chunk represents streamed model output. The final chunk has Partial=false
// and may carry no content.
type Chunk struct {
	RequestID string
	Content   string
	Partial   bool
	Latency   time.Duration
}

// Generator defines a pluggable streaming completion backend. Chunks are
// delivered to consumer in stream order; a consumer error aborts the stream.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// OptionsFromConfig builds request defaults from config.
func OptionsFromConfig(cfg config.LLMConfig) Request {
	return Request{Model: cfg.Model, MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}
}

// Accumulate drains a stream into the final answer text. onDelta, when set,
// observes every non-empty fragment before it is appended.
func Accumulate(ctx context.Context, g Generator, req Request, onDelta func(string)) (string, error) {
	var answer strings.Builder
	err := g.Generate(ctx, req, func(chunk Chunk) error {
		if chunk.Content == "" {
			return nil
		}
		if onDelta != nil {
			onDelta(chunk.Content)
		}
		answer.WriteString(chunk.Content)
		return nil
	})
	if err != nil {
		return answer.String(), err
	}
	if strings.TrimSpace(answer.String()) == "" {
		return "", ErrEmptyAnswer
	}
	return answer.String(), nil
}

// New returns the streaming backend selected by cfg.Mode.
func New(cfg config.LLMConfig, logger *slog.Logger) (Generator, error) {
	switch cfg.Mode {
	case "openai":
		return NewOpenAIGenerator(cfg, logger), nil
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model, timeoutFromConfig(cfg), logger), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	case "mock":
		return NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}

func timeoutFromConfig(cfg config.LLMConfig) time.Duration {
	if cfg.TimeoutMS <= 0 {
		return 0
	}
	return time.Duration(cfg.TimeoutMS) * time.Millisecond
}

// streamingClient applies timeout to connection setup and response headers
// only, so a long answer is never cut off mid-stream.
func streamingClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: transport}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
