package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/loqalabs/voice-agent/internal/tts"
)

// ErrTooSmall is returned when the written artifact is below the minimum size.
var ErrTooSmall = errors.New("synthesized audio below minimum size")

// Outcome is the result of one dispatch. Key is empty unless the artifact
// exists and passed size validation.
type Outcome struct {
	Key      string
	Path     string
	Size     int64
	Duration time.Duration
	Err      error
}

// OK reports whether a usable artifact was produced.
func (o Outcome) OK() bool { return o.Err == nil && o.Key != "" }

// Dispatcher synthesizes text with a Synthesizer and persists the stream.
type Dispatcher struct {
	synth    tts.Synthesizer
	store    *Store
	model    string
	minBytes int64
	logger   *slog.Logger
}

func NewDispatcher(synth tts.Synthesizer, store *Store, model string, minBytes int64, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		synth:    synth,
		store:    store,
		model:    model,
		minBytes: minBytes,
		logger:   logger.With(slog.String("component", "audio-dispatcher")),
	}
}

// Dispatch never returns an error directly: every failure is logged and
// reported through Outcome.Err with an empty key.
func (d *Dispatcher) Dispatch(ctx context.Context, requestID, text, voiceID string) Outcome {
	start := time.Now()
	key := NewKey()
	outcome := d.dispatch(ctx, requestID, key, text, voiceID)
	outcome.Duration = time.Since(start)

	attrs := []any{
		slog.String("request_id", requestID),
		slog.String("voice", voiceID),
		slog.Int64("bytes", outcome.Size),
		slog.Duration("latency", outcome.Duration),
	}
	if outcome.Err != nil {
		d.logger.Warn("audio synthesis failed", append(attrs, slogError(outcome.Err))...)
		outcome.Key = ""
		return outcome
	}
	d.logger.Info("audio ready", append(attrs, slog.String("audio_key", outcome.Key))...)
	return outcome
}

func (d *Dispatcher) dispatch(ctx context.Context, requestID, key, text, voiceID string) Outcome {
	f, path, err := d.store.create(key)
	if err != nil {
		return Outcome{Err: err}
	}

	var written int64
	streamErr := tts.Drain(ctx, d.synth, tts.SynthRequest{RequestID: requestID, Text: text, Voice: voiceID, Model: d.model}, func(chunk tts.SynthChunk) error {
		n, err := f.Write(chunk.Audio)
		written += int64(n)
		if err != nil {
			return fmt.Errorf("write audio: %w", err)
		}
		return nil
	})
	closeErr := f.Close()

	outcome := Outcome{Key: key, Path: path, Size: written}
	switch {
	case streamErr != nil:
		outcome.Err = streamErr
	case closeErr != nil:
		outcome.Err = fmt.Errorf("close audio file: %w", closeErr)
	default:
		outcome.Err = d.validate(path, &outcome)
	}
	return outcome
}

// validate re-reads the file size from disk, the same check readers apply.
func (d *Dispatcher) validate(path string, outcome *Outcome) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat audio file: %w", err)
	}
	outcome.Size = info.Size()
	if info.Size() < d.minBytes {
		return fmt.Errorf("%w: %d < %d bytes", ErrTooSmall, info.Size(), d.minBytes)
	}
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
