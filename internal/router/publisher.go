package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/loqalabs/voice-agent/internal/audio"
	"github.com/loqalabs/voice-agent/internal/bus"
	"github.com/loqalabs/voice-agent/internal/pipeline"
	"github.com/loqalabs/voice-agent/internal/protocol"
)

// Publisher announces finished answers and audio on the bus. Publish errors
// are logged and never reach the request.
type Publisher struct {
	bus    *bus.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewPublisher(busClient *bus.Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		bus:    busClient,
		logger: logger.With(slog.String("component", "bus-publisher")),
		now:    time.Now,
	}
}

func (p *Publisher) AnswerCompleted(_ context.Context, requestID, voice string, resp pipeline.Response) {
	p.publish(protocol.SubjectAnswerCompleted, requestID, protocol.AnswerCompleted{
		RequestID: requestID,
		Voice:     voice,
		Answer:    resp.Answer,
		KeyPoints: resp.KeyPoints,
		Timestamp: p.now().UTC(),
	})
}

func (p *Publisher) AudioReady(_ context.Context, requestID string, outcome audio.Outcome) {
	p.publish(protocol.SubjectAudioReady, requestID, protocol.AudioReady{
		RequestID: requestID,
		AudioKey:  outcome.Key,
		Bytes:     outcome.Size,
		Timestamp: p.now().UTC(),
	})
}

func (p *Publisher) publish(suffix, requestID string, v any) {
	if err := p.bus.PublishJSON(suffix, v); err != nil {
		p.logger.Warn("publish failed",
			slog.String("subject", p.bus.Subject(suffix)),
			slog.String("request_id", requestID),
			slogError(err))
	}
}
