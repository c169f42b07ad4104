// Package prompt assembles the single user message sent to the completion
// backend.
package prompt

import (
	"fmt"
	"strings"

	"github.com/loqalabs/voice-agent/internal/source"
)

// DefaultInstruction closes the prompt when the caller asked no question.
const DefaultInstruction = "Summarize the content above in bullet points."

// Input carries everything one request contributes to the prompt.
type Input struct {
	// File is extracted document text. Placeholders from failed extraction
	// are included as-is.
	File source.Ingested
	// Page is the URL fetch result, if a URL was supplied.
	Page *source.Ingested
	Tone string
	// Query is the caller's question; empty text selects DefaultInstruction.
	Query source.Ingested
}

// Assemble builds the prompt in a fixed order: document text, URL-derived
// instruction, tone guidance, then the question or DefaultInstruction.
// Identical inputs always produce identical output.
func Assemble(in Input) string {
	var b strings.Builder

	if strings.TrimSpace(in.File.Text) != "" {
		b.WriteString(in.File.Text)
		b.WriteString("\n\n")
	}

	if in.Page != nil {
		b.WriteString(pageInstruction(*in.Page))
	}

	tone := strings.TrimSpace(in.Tone)
	if tone == "" {
		tone = "neutral"
	}
	fmt.Fprintf(&b, "You are a voice assistant with the following tone:\n%s\n\n", tone)

	if q := strings.TrimSpace(in.Query.Text); q != "" {
		fmt.Fprintf(&b, "Now answer this in bullet points:\n%s", q)
	} else {
		b.WriteString(DefaultInstruction)
	}
	return b.String()
}

func pageInstruction(page source.Ingested) string {
	if !page.OK() {
		return fmt.Sprintf("The page at %s could not be retrieved (%s). Answer using your general knowledge.\n\n", page.Origin, page.Text)
	}
	if strings.TrimSpace(page.Text) == "" {
		return fmt.Sprintf("Summarize this page: %s\n\n", page.Origin)
	}
	return fmt.Sprintf("Content from %s:\n%s\n\n", page.Origin, page.Text)
}
