// Package keypoints asks the completion backend for a short bullet list that
// summarizes a source document.
package keypoints

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loqalabs/voice-agent/internal/llm"
)

// Instruction is prepended to the source text.
const Instruction = "Extract the 5–7 most important key points from this content. Respond only as a bullet list."

const bulletCutset = "-•* \t"

// Extractor issues the key-point completion.
type Extractor struct {
	completer llm.Completer
	model     string
	logger    *slog.Logger
}

func NewExtractor(completer llm.Completer, model string, logger *slog.Logger) *Extractor {
	return &Extractor{
		completer: completer,
		model:     model,
		logger:    logger.With(slog.String("component", "keypoints")),
	}
}

// Extract returns the key points of sourceText. Blank input yields no points
// and no backend call.
func (e *Extractor) Extract(ctx context.Context, requestID, sourceText string) ([]string, error) {
	if strings.TrimSpace(sourceText) == "" {
		return nil, nil
	}
	raw, err := e.completer.Complete(ctx, llm.Request{
		RequestID: requestID,
		Model:     e.model,
		Prompt:    Instruction + "\n\n" + sourceText,
	})
	if err != nil {
		return nil, fmt.Errorf("key point completion: %w", err)
	}
	points := Parse(raw)
	e.logger.Debug("key points extracted", slog.String("request_id", requestID), slog.Int("count", len(points)))
	return points, nil
}

// Parse splits a bullet list into trimmed entries, dropping blank lines. When
// nothing survives, the trimmed input becomes the only entry; an all-blank
// input yields nil.
func Parse(raw string) []string {
	var points []string
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		point := strings.TrimSpace(strings.Trim(line, bulletCutset+"\r"))
		if point == "" {
			continue
		}
		points = append(points, point)
	}
	if len(points) == 0 {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			return []string{trimmed}
		}
	}
	return points
}
