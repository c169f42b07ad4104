// Package router serves pipeline requests arriving on the message bus and
// publishes pipeline notifications back to it.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/voice-agent/internal/bus"
	"github.com/loqalabs/voice-agent/internal/pipeline"
	"github.com/loqalabs/voice-agent/internal/protocol"
)

// QueueGroup lets several processes share the process subject.
const QueueGroup = "voiceagent-workers"

// Processor runs one pipeline request. *pipeline.Pipeline satisfies it.
type Processor interface {
	Process(ctx context.Context, req pipeline.Request, onDelta func(string)) (pipeline.Response, error)
}

type Service struct {
	bus       *bus.Client
	processor Processor
	logger    *slog.Logger
	sub       *nats.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	closed    bool
}

func NewService(parent context.Context, busClient *bus.Client, processor Processor, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:       busClient,
		processor: processor,
		logger:    logger.With(slog.String("component", "router")),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Service) Start() error {
	subject := s.bus.Subject(protocol.SubjectProcess)
	sub, err := s.bus.Conn().QueueSubscribe(subject, QueueGroup, s.handleProcess)
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("router listening", slog.String("subject", subject))
	return nil
}

func (s *Service) Close() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
	s.cancel()
}

func (s *Service) Healthy() bool {
	return s.sub != nil && s.sub.IsValid()
}

// handleProcess runs the request off the subscription goroutine so one slow
// request does not hold up the next.
func (s *Service) handleProcess(msg *nats.Msg) {
	var req protocol.ProcessRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("router failed to decode process request", slogError(err))
		s.reply(msg, protocol.ErrorResponse{Detail: "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Query) == "" && strings.TrimSpace(req.FileText) == "" && strings.TrimSpace(req.URL) == "" {
		s.reply(msg, protocol.ErrorResponse{Detail: "query, url or file_text is required"})
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.reply(msg, protocol.ErrorResponse{Detail: "service shutting down"})
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		resp, err := s.processor.Process(s.ctx, pipeline.FromWire(req), nil)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Warn("bus process request failed", slogError(err))
			}
			s.reply(msg, protocol.ErrorResponse{Detail: err.Error()})
			return
		}
		s.reply(msg, resp.Wire())
	}()
}

func (s *Service) reply(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("router failed to encode reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("router failed to reply", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
