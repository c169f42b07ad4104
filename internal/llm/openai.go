package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/voice-agent/internal/config"
	openai "github.com/sashabaranov/go-openai"
)

const (
	sseDataPrefix = "data:"
	sseDone       = "[DONE]"
	// maxLineBytes bounds a single stream line.
	maxLineBytes = 1 << 20
)

// openAIGenerator consumes an OpenAI-compatible chat completion stream.
// Decoding is done line by line so a malformed event is skipped instead of
// ending the stream.
type openAIGenerator struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

func NewOpenAIGenerator(cfg config.LLMConfig, logger *slog.Logger) Generator {
	return &openAIGenerator{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		client:   streamingClient(timeoutFromConfig(cfg)),
		logger:   logger.With(slog.String("component", "llm-openai")),
	}
}

func (g *openAIGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	payload := openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	return g.consume(ctx, resp.Body, req, consumer)
}

func (g *openAIGenerator) consume(ctx context.Context, body io.Reader, req Request, consumer func(Chunk) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	start := time.Now()
	skipped := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, sseDataPrefix))
		if data == sseDone {
			break
		}
		var event openai.ChatCompletionStreamResponse
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			skipped++
			g.logger.Warn("skipping malformed completion chunk", slog.String("request_id", req.RequestID), slogError(err))
			continue
		}
		if len(event.Choices) == 0 || event.Choices[0].Delta.Content == "" {
			continue
		}
		if err := consumer(Chunk{
			RequestID: req.RequestID,
			Content:   event.Choices[0].Delta.Content,
			Partial:   true,
			Latency:   time.Since(start),
		}); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("read completion stream: %w", err)
	}
	if skipped > 0 {
		g.logger.Info("completion stream finished with skipped chunks", slog.String("request_id", req.RequestID), slog.Int("skipped", skipped))
	}
	return consumer(Chunk{RequestID: req.RequestID, Partial: false, Latency: time.Since(start)})
}

// statusError turns a non-2xx response into an error, preferring the
// provider's own error message when the body carries one.
func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var apiErr openai.ErrorResponse
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error != nil && apiErr.Error.Message != "" {
		return fmt.Errorf("completion backend returned %s: %s", resp.Status, apiErr.Error.Message)
	}
	return fmt.Errorf("completion backend returned %s", resp.Status)
}
