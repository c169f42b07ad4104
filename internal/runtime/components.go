package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loqalabs/voice-agent/internal/audio"
	"github.com/loqalabs/voice-agent/internal/config"
	"github.com/loqalabs/voice-agent/internal/eventstore"
	"github.com/loqalabs/voice-agent/internal/keypoints"
	"github.com/loqalabs/voice-agent/internal/llm"
	"github.com/loqalabs/voice-agent/internal/persona"
	"github.com/loqalabs/voice-agent/internal/pipeline"
	"github.com/loqalabs/voice-agent/internal/source"
	"github.com/loqalabs/voice-agent/internal/tts"
)

// Components are the building blocks shared by the daemon and the CLI.
type Components struct {
	Pipeline *pipeline.Pipeline
	Personas *persona.Registry
	Store    *audio.Store
	Synth    tts.Synthesizer
	Journal  *eventstore.Store
}

// Close releases the journal.
func (c *Components) Close() error {
	if c == nil || c.Journal == nil {
		return nil
	}
	return c.Journal.Close()
}

// Build wires backends selected by cfg into a pipeline. notifier may be nil.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, notifier pipeline.Notifier) (*Components, error) {
	personas, err := persona.FromConfig(cfg.Personas)
	if err != nil {
		return nil, fmt.Errorf("personas: %w", err)
	}
	generator, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("completion backend: %w", err)
	}
	completer, err := llm.NewCompleter(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("key point backend: %w", err)
	}
	synth, err := tts.New(cfg.TTS, logger)
	if err != nil {
		return nil, fmt.Errorf("speech backend: %w", err)
	}
	journal, err := eventstore.Open(ctx, cfg.Journal, logger)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}

	store := audio.NewStore(cfg.Audio.Dir)
	deps := pipeline.Deps{
		Personas:  personas,
		Fetcher:   source.NewFetcher(cfg.Source, logger),
		Generator: generator,
		KeyPoints: keypoints.NewExtractor(completer, cfg.LLM.KeyPointModel, logger),
		Audio:     audio.NewDispatcher(synth, store, cfg.TTS.Model, cfg.Audio.MinBytes, logger),
		Notifier:  notifier,
		Defaults:  llm.OptionsFromConfig(cfg.LLM),
	}
	if journal.Enabled() {
		deps.Journal = journal
	}
	p, err := pipeline.New(deps, logger)
	if err != nil {
		_ = journal.Close()
		return nil, err
	}
	return &Components{
		Pipeline: p,
		Personas: personas,
		Store:    store,
		Synth:    synth,
		Journal:  journal,
	}, nil
}
