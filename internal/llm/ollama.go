package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ollamaGenerator streams from a local Ollama server's /api/generate, which
// emits one JSON object per line rather than server-sent events.
type ollamaGenerator struct {
	endpoint string
	model    string
	client   *http.Client
	logger   *slog.Logger
}

// NewOllamaGenerator bounds only the wait for response headers; the body
// streams for as long as ctx allows.
func NewOllamaGenerator(endpoint, model string, timeout time.Duration, logger *slog.Logger) Generator {
	return &ollamaGenerator{
		endpoint: endpoint,
		model:    model,
		client:   streamingClient(timeout),
		logger:   logger.With(slog.String("component", "llm-ollama")),
	}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaStreamResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (g *ollamaGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	model := req.Model
	if model == "" {
		model = g.model
	}
	payload := ollamaRequest{
		Model:  model,
		Prompt: req.Prompt,
		Stream: true,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ollama returned status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	start := time.Now()
	skipped := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk ollamaStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			skipped++
			g.logger.Warn("skipping malformed completion chunk", slog.String("request_id", req.RequestID), slogError(err))
			continue
		}
		if err := consumer(Chunk{
			RequestID: req.RequestID,
			Content:   chunk.Response,
			Partial:   !chunk.Done,
			Latency:   time.Since(start),
		}); err != nil {
			return err
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("read ollama stream: %w", err)
	}
	if skipped > 0 {
		g.logger.Info("completion stream finished with skipped chunks", slog.String("request_id", req.RequestID), slog.Int("skipped", skipped))
	}
	return nil
}
