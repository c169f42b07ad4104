package llm

import (
	"context"
	"strings"
	"time"
)

type mockGenerator struct {
	chunks []string
}

// NewMockGenerator streams chunks in order. Without chunks it echoes the
// prompt back as a single fragment.
func NewMockGenerator(chunks ...string) Generator {
	return &mockGenerator{chunks: chunks}
}

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	start := time.Now()
	chunks := m.chunks
	if len(chunks) == 0 {
		chunks = []string{"[mock completion for " + strings.TrimSpace(req.Prompt) + "]"}
	}
	for _, content := range chunks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := consumer(Chunk{RequestID: req.RequestID, Content: content, Partial: true, Latency: time.Since(start)}); err != nil {
			return err
		}
	}
	return consumer(Chunk{RequestID: req.RequestID, Partial: false, Latency: time.Since(start)})
}
