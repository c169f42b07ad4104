package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/loqalabs/voice-agent/internal/config"
	openai "github.com/sashabaranov/go-openai"
)

// Completer issues one non-streaming completion and returns the full text.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type openAICompleter struct {
	client *openai.Client
}

// NewOpenAICompleter uses the go-openai client against cfg.Endpoint.
func NewOpenAICompleter(cfg config.LLMConfig) Completer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeoutFromConfig(cfg)}
	return &openAICompleter{client: openai.NewClientWithConfig(clientCfg)}
}

func (c *openAICompleter) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyAnswer
	}
	return resp.Choices[0].Message.Content, nil
}

// GeneratorCompleter adapts a streaming backend to Completer by draining it.
type GeneratorCompleter struct {
	Generator Generator
}

func (c GeneratorCompleter) Complete(ctx context.Context, req Request) (string, error) {
	return Accumulate(ctx, c.Generator, req, nil)
}

// NewCompleter returns the non-streaming backend selected by cfg.Mode. Modes
// without a native non-streaming call reuse their streaming backend.
func NewCompleter(cfg config.LLMConfig, logger *slog.Logger) (Completer, error) {
	if cfg.Mode == "openai" {
		return NewOpenAICompleter(cfg), nil
	}
	gen, err := New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return GeneratorCompleter{Generator: gen}, nil
}
