package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/voice-agent/internal/audio"
	"github.com/loqalabs/voice-agent/internal/bus"
	"github.com/loqalabs/voice-agent/internal/config"
	"github.com/loqalabs/voice-agent/internal/natsserver"
	"github.com/loqalabs/voice-agent/internal/pipeline"
	"github.com/loqalabs/voice-agent/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	logger := testLogger()
	cfg := config.BusConfig{Enabled: true, Embedded: true, Port: -1, ConnectTimeout: 2000, SubjectPrefix: "test"}
	srv, err := natsserver.Start(cfg, logger)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	cfg.Servers = []string{srv.ClientURL()}
	client, err := bus.Connect(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

type fakeProcessor struct {
	resp pipeline.Response
	err  error
	got  chan pipeline.Request
}

func (f *fakeProcessor) Process(_ context.Context, req pipeline.Request, _ func(string)) (pipeline.Response, error) {
	if f.got != nil {
		f.got <- req
	}
	return f.resp, f.err
}

func request(t *testing.T, client *bus.Client, body string) []byte {
	t.Helper()
	msg, err := client.Conn().Request(client.Subject(protocol.SubjectProcess), []byte(body), 2*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return msg.Data
}

func TestServiceRepliesWithProcessResponse(t *testing.T) {
	client := startBus(t)
	proc := &fakeProcessor{
		resp: pipeline.Response{Answer: "X is...", AudioKey: "abc", KeyPoints: []string{"a"}},
		got:  make(chan pipeline.Request, 1),
	}
	svc := NewService(context.Background(), client, proc, testLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Close()
	if !svc.Healthy() {
		t.Fatal("expected healthy service")
	}

	data := request(t, client, `{"query":"What is X?","voice":"grandma GG"}`)
	var resp protocol.ProcessResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != "X is..." || resp.AudioKey == nil || *resp.AudioKey != "abc" {
		t.Fatalf("unexpected reply %s", data)
	}
	got := <-proc.got
	if got.Query != "What is X?" || got.Voice != "grandma GG" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestServiceRepliesWithErrors(t *testing.T) {
	client := startBus(t)
	proc := &fakeProcessor{err: errors.New("completion failed: backend down")}
	svc := NewService(context.Background(), client, proc, testLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Close()

	for body, want := range map[string]string{
		`{"query":"q"}`: "completion failed: backend down",
		`not json`:      "",
		`{"voice":"x"}`: "query, url or file_text is required",
	} {
		var errResp protocol.ErrorResponse
		if err := json.Unmarshal(request(t, client, body), &errResp); err != nil {
			t.Fatalf("%s: decode: %v", body, err)
		}
		if errResp.Detail == "" || (want != "" && errResp.Detail != want) {
			t.Fatalf("%s: unexpected detail %q", body, errResp.Detail)
		}
	}
}

func TestPublisherAnnouncesAnswerAndAudio(t *testing.T) {
	client := startBus(t)
	answers := make(chan *nats.Msg, 1)
	audios := make(chan *nats.Msg, 1)
	if _, err := client.Conn().ChanSubscribe("test.answer.completed", answers); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := client.Conn().ChanSubscribe("test.audio.ready", audios); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	pub := NewPublisher(client, testLogger())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	pub.now = func() time.Time { return fixed }
	pub.AnswerCompleted(context.Background(), "req-1", "grandma GG", pipeline.Response{Answer: "hi", KeyPoints: []string{}})
	pub.AudioReady(context.Background(), "req-1", audio.Outcome{Key: "key-1", Size: 2048})

	select {
	case msg := <-answers:
		var evt protocol.AnswerCompleted
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if evt.RequestID != "req-1" || evt.Answer != "hi" || evt.Voice != "grandma GG" || !evt.Timestamp.Equal(fixed) {
			t.Fatalf("unexpected answer event %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("answer.completed not received")
	}
	select {
	case msg := <-audios:
		var evt protocol.AudioReady
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if evt.AudioKey != "key-1" || evt.Bytes != 2048 {
			t.Fatalf("unexpected audio event %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("audio.ready not received")
	}
}
