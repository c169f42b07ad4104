package tts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/voice-agent/internal/config"
)

// readChunkSize is the size of each audio chunk read from a backend stream.
const readChunkSize = 4096

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	RequestID string
	Text      string
	Voice     string
	Model     string
}

// SynthChunk carries a slice of encoded (MP3) audio in stream order.
type SynthChunk struct {
	RequestID string
	Sequence  int
	Audio     []byte
	Final     bool
}

// Synthesizer is the contract for producing audio. The chunk channel is
// closed when the stream ends; at most one error is sent on the error channel
// before it is closed.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// New returns the backend selected by cfg.Mode.
func New(cfg config.TTSConfig, logger *slog.Logger) (Synthesizer, error) {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	switch cfg.Mode {
	case "elevenlabs":
		return NewElevenLabs(cfg.APIKey,
			WithElevenLabsBaseURL(cfg.Endpoint),
			WithElevenLabsModel(cfg.Model),
			WithElevenLabsTimeout(timeout),
		), nil
	case "polly":
		return NewPolly(PollyConfig{Region: cfg.Region, Engine: cfg.Engine, Timeout: timeout}, nil), nil
	case "exec":
		return NewExecSynth(cfg.Command, logger)
	case "mock":
		return NewMockSynth(mockAudioBytes), nil
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}

// Drain delivers every chunk of a synthesis stream to fn in order and
// returns the first stream, callback or context error.
func Drain(ctx context.Context, s Synthesizer, req SynthRequest, fn func(SynthChunk) error) error {
	if strings.TrimSpace(req.Text) == "" {
		return ErrEmptyText
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks, errs := s.Synthesize(ctx, req)
	var firstErr error
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if firstErr != nil {
				continue
			}
			if err := fn(chunk); err != nil {
				firstErr = err
				cancel()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr == nil {
		firstErr = ctx.Err()
	}
	return firstErr
}

// streamReader pumps rc into the chunk channel in readChunkSize pieces.
func streamReader(ctx context.Context, provider string, req SynthRequest, rc io.ReadCloser, chunks chan<- SynthChunk, errs chan<- error) {
	defer rc.Close()
	sequence := 0
	buf := make([]byte, readChunkSize)
	for {
		n, err := rc.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case chunks <- SynthChunk{RequestID: req.RequestID, Sequence: sequence, Audio: data}:
				sequence++
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if err == io.EOF {
			select {
			case chunks <- SynthChunk{RequestID: req.RequestID, Sequence: sequence, Final: true}:
			case <-ctx.Done():
			}
			return
		}
		if err != nil {
			errs <- NewSynthesisError(provider, "", "audio stream interrupted", err, true)
			return
		}
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
