// Package pipeline runs one request through ingestion, prompt assembly,
// streamed completion, key-point extraction and audio synthesis.
//
// Only a failed completion fails the request. Extraction failures become
// placeholder text, and key-point or audio failures leave their fields empty.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/voice-agent/internal/audio"
	"github.com/loqalabs/voice-agent/internal/eventstore"
	"github.com/loqalabs/voice-agent/internal/keypoints"
	"github.com/loqalabs/voice-agent/internal/llm"
	"github.com/loqalabs/voice-agent/internal/persona"
	"github.com/loqalabs/voice-agent/internal/prompt"
	"github.com/loqalabs/voice-agent/internal/source"
)

const instrumentationName = "github.com/loqalabs/voice-agent/internal/pipeline"

// ErrCompletion marks the one failure that is fatal to a request.
var ErrCompletion = errors.New("completion failed")

// Request is one unit of work. At most one of FileText and FileData is
// expected; FileData is decoded according to FileName's extension.
type Request struct {
	Query    string
	URL      string
	Voice    string
	FileText string
	FileName string
	FileData []byte
}

// Journal records request stages. *eventstore.Store satisfies it.
type Journal interface {
	AppendRequest(ctx context.Context, requestID, voice string) error
	AppendEvent(ctx context.Context, evt eventstore.Event) error
}

// Notifier is told about finished answers and audio. Implementations must
// not block for long.
type Notifier interface {
	AnswerCompleted(ctx context.Context, requestID, voice string, resp Response)
	AudioReady(ctx context.Context, requestID string, outcome audio.Outcome)
}

// Deps are the collaborators of a Pipeline. Journal and Notifier are optional.
type Deps struct {
	Personas  *persona.Registry
	Fetcher   *source.Fetcher
	Generator llm.Generator
	KeyPoints *keypoints.Extractor
	Audio     *audio.Dispatcher
	Journal   Journal
	Notifier  Notifier
	Defaults  llm.Request
}

type Pipeline struct {
	deps    Deps
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics
}

func New(deps Deps, logger *slog.Logger) (*Pipeline, error) {
	switch {
	case deps.Personas == nil:
		return nil, errors.New("pipeline: persona registry is required")
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline: fetcher is required")
	case deps.Generator == nil:
		return nil, errors.New("pipeline: generator is required")
	case deps.KeyPoints == nil:
		return nil, errors.New("pipeline: key point extractor is required")
	case deps.Audio == nil:
		return nil, errors.New("pipeline: audio dispatcher is required")
	}
	m, err := newMetrics(otel.Meter(instrumentationName))
	if err != nil {
		return nil, fmt.Errorf("pipeline metrics: %w", err)
	}
	return &Pipeline{
		deps:    deps,
		logger:  logger.With(slog.String("component", "pipeline")),
		tracer:  otel.Tracer(instrumentationName),
		metrics: m,
	}, nil
}

// Personas exposes the registry the pipeline resolves voices against.
func (p *Pipeline) Personas() *persona.Registry { return p.deps.Personas }

// Process runs req to completion. onDelta, when set, receives answer
// fragments in stream order from a single goroutine. The returned error wraps
// ErrCompletion; every other stage failure is absorbed into the Response.
func (p *Pipeline) Process(ctx context.Context, req Request, onDelta func(string)) (Response, error) {
	requestID := uuid.NewString()
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.process", trace.WithAttributes(
		attribute.String("request.id", requestID),
		attribute.String("voice", req.Voice),
	))
	defer span.End()

	log := p.logger.With(slog.String("request_id", requestID))
	if req.Voice != "" {
		log = log.With(slog.String("voice", req.Voice))
	}
	log.Info("processing request",
		slog.Int("query_chars", len(req.Query)),
		slog.String("url", req.URL),
		slog.Bool("file", req.FileText != "" || len(req.FileData) > 0))

	p.journalRequest(ctx, log, requestID, req.Voice)
	p.journal(ctx, log, requestID, eventstore.TypeRequestReceived, map[string]any{
		"query": req.Query, "url": req.URL, "voice": req.Voice,
	})

	file, page := p.ingest(ctx, log, req)

	profile, voiceErr := p.deps.Personas.Lookup(req.Voice)
	if voiceErr != nil && strings.TrimSpace(req.Voice) != "" {
		log.Warn("unknown voice, using neutral tone", slog.String("error", voiceErr.Error()))
	}
	tone := p.deps.Personas.Tone(req.Voice)

	text := prompt.Assemble(prompt.Input{File: file, Page: page, Tone: tone, Query: source.Query(req.Query)})

	completion := p.deps.Defaults
	completion.RequestID = requestID
	completion.Prompt = text

	var (
		answer string
		points []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		answer, err = p.complete(gctx, log, completion, onDelta)
		return err
	})
	if summary := keyPointSource(file, page); summary != "" {
		g.Go(func() error {
			points = p.extractKeyPoints(gctx, log, requestID, summary)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		p.metrics.request(ctx, "failed")
		p.journal(ctx, log, requestID, eventstore.TypeRequestFailed, map[string]any{"error": err.Error()})
		log.Error("request failed", slog.String("error", err.Error()), slog.Duration("latency", time.Since(start)))
		return Response{}, err
	}

	outcome := audio.Outcome{}
	if voiceErr == nil {
		outcome = p.synthesize(ctx, requestID, answer, profile.VoiceID)
	} else {
		log.Warn("no valid voice selected, skipping audio")
	}

	resp := Assemble(requestID, answer, points, outcome)
	if p.deps.Notifier != nil {
		p.deps.Notifier.AnswerCompleted(ctx, requestID, req.Voice, resp)
		if outcome.OK() {
			p.deps.Notifier.AudioReady(ctx, requestID, outcome)
		}
	}

	result := "ok"
	if resp.AudioKey == "" {
		result = "no_audio"
	}
	p.metrics.request(ctx, result)
	log.Info("request complete",
		slog.String("audio_key", resp.AudioKey),
		slog.Int("key_points", len(resp.KeyPoints)),
		slog.Duration("latency", time.Since(start)))
	return resp, nil
}

func (p *Pipeline) ingest(ctx context.Context, log *slog.Logger, req Request) (source.Ingested, *source.Ingested) {
	_, span := p.tracer.Start(ctx, "pipeline.ingest")
	defer span.End()
	start := time.Now()
	defer func() { p.metrics.stage(ctx, "ingest", time.Since(start)) }()

	var file source.Ingested
	switch {
	case len(req.FileData) > 0:
		file = source.ExtractFile(req.FileName, req.FileData, log)
	case req.FileText != "":
		file = source.Text("file_text", req.FileText)
	}

	var page *source.Ingested
	if strings.TrimSpace(req.URL) != "" {
		fetched := p.deps.Fetcher.Fetch(ctx, req.URL)
		page = &fetched
	}
	return file, page
}

func (p *Pipeline) complete(ctx context.Context, log *slog.Logger, req llm.Request, onDelta func(string)) (string, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.completion", trace.WithAttributes(attribute.String("model", req.Model)))
	defer span.End()
	start := time.Now()

	answer, err := llm.Accumulate(ctx, p.deps.Generator, req, onDelta)
	p.metrics.stage(ctx, "completion", time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%w: %w", ErrCompletion, err)
	}
	p.journal(ctx, log, req.RequestID, eventstore.TypeCompletionFinished, map[string]any{
		"chars": len(answer), "latency_ms": time.Since(start).Milliseconds(),
	})
	log.Info("completion finished", slog.Int("chars", len(answer)), slog.Duration("latency", time.Since(start)))
	return answer, nil
}

func (p *Pipeline) extractKeyPoints(ctx context.Context, log *slog.Logger, requestID, text string) []string {
	ctx, span := p.tracer.Start(ctx, "pipeline.keypoints")
	defer span.End()
	start := time.Now()

	points, err := p.deps.KeyPoints.Extract(ctx, requestID, text)
	p.metrics.stage(ctx, "keypoints", time.Since(start))
	if err != nil {
		span.RecordError(err)
		log.Warn("key point extraction failed", slog.String("error", err.Error()))
		p.journal(ctx, log, requestID, eventstore.TypeKeyPointsFinished, map[string]any{"error": err.Error()})
		return nil
	}
	p.journal(ctx, log, requestID, eventstore.TypeKeyPointsFinished, map[string]any{"count": len(points)})
	return points
}

func (p *Pipeline) synthesize(ctx context.Context, requestID, answer, voiceID string) audio.Outcome {
	ctx, span := p.tracer.Start(ctx, "pipeline.audio", trace.WithAttributes(attribute.String("voice.id", voiceID)))
	defer span.End()

	outcome := p.deps.Audio.Dispatch(ctx, requestID, answer, voiceID)
	p.metrics.stage(ctx, "audio", outcome.Duration)
	payload := map[string]any{"bytes": outcome.Size}
	if outcome.OK() {
		p.metrics.audioBytes(ctx, outcome.Size)
		payload["audio_key"] = outcome.Key
	} else if outcome.Err != nil {
		span.RecordError(outcome.Err)
		payload["error"] = outcome.Err.Error()
	}
	p.journal(ctx, p.logger, requestID, eventstore.TypeAudioFinished, payload)
	return outcome
}

// keyPointSource returns the text worth summarizing: uploaded text and a
// successfully fetched page, in that order.
func keyPointSource(file source.Ingested, page *source.Ingested) string {
	var parts []string
	if file.Substantive() {
		parts = append(parts, file.Text)
	}
	if page != nil && page.Substantive() {
		parts = append(parts, page.Text)
	}
	return strings.Join(parts, "\n\n")
}

func (p *Pipeline) journalRequest(ctx context.Context, log *slog.Logger, requestID, voice string) {
	if p.deps.Journal == nil {
		return
	}
	if err := p.deps.Journal.AppendRequest(ctx, requestID, voice); err != nil {
		log.Warn("journal append request failed", slog.String("error", err.Error()))
	}
}

func (p *Pipeline) journal(ctx context.Context, log *slog.Logger, requestID, eventType string, payload map[string]any) {
	if p.deps.Journal == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Warn("journal payload encode failed", slog.String("error", err.Error()))
		return
	}
	evt := eventstore.Event{RequestID: requestID, Type: eventType, Payload: data}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		evt.TraceID = sc.TraceID().String()
	}
	if err := p.deps.Journal.AppendEvent(context.WithoutCancel(ctx), evt); err != nil {
		log.Warn("journal append failed", slog.String("event", eventType), slog.String("error", err.Error()))
	}
}
