package tts

import (
	"bytes"
	"context"
	"io"
	"strings"
)

// mockAudioBytes is the payload size used by mode=mock.
const mockAudioBytes = 16 * 1024

// mockFrame is an MPEG-1 Layer III frame header, repeated to fill the payload.
var mockFrame = []byte{0xFF, 0xFB, 0x90, 0x64}

type mockSynth struct {
	size int
}

// NewMockSynth streams size bytes of placeholder audio.
func NewMockSynth(size int) Synthesizer {
	return &mockSynth{size: size}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if strings.TrimSpace(req.Text) == "" {
			errs <- ErrEmptyText
			return
		}
		payload := bytes.Repeat(mockFrame, m.size/len(mockFrame)+1)[:m.size]
		streamReader(ctx, "mock", req, io.NopCloser(bytes.NewReader(payload)), chunks, errs)
	}()
	return chunks, errs
}
