package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/voice-agent/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.JournalConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if es.Enabled() {
		t.Fatal("ephemeral journal must not be enabled")
	}
	if err := es.AppendEvent(ctx, Event{RequestID: "r", Type: TypeRequestReceived}); err != nil {
		t.Fatalf("append on ephemeral store: %v", err)
	}
	events, err := es.ListRequestEvents(ctx, "r", 10)
	if err != nil || events != nil {
		t.Fatalf("expected no events, got %v %v", events, err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.JournalConfig{Path: filepath.Join(tmp, "journal.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	requestID := "request-123"
	if err := es.AppendRequest(context.Background(), requestID, "grandma GG"); err != nil {
		t.Fatalf("append request: %v", err)
	}
	for _, typ := range []string{TypeRequestReceived, TypeCompletionFinished, TypeAudioFinished} {
		if err := es.AppendEvent(context.Background(), Event{RequestID: requestID, Type: typ, Payload: []byte(typ)}); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}
	events, err := es.ListRequestEvents(context.Background(), requestID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != TypeRequestReceived || events[2].Type != TypeAudioFinished {
		t.Fatalf("unexpected order: %s .. %s", events[0].Type, events[2].Type)
	}
	if string(events[1].Payload) != TypeCompletionFinished {
		t.Fatalf("unexpected payload: %s", events[1].Payload)
	}
	if events[0].CreatedAt.IsZero() {
		t.Fatal("expected created_at to round-trip")
	}
}

func TestPruneByDaysAndRequests(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.JournalConfig{Path: filepath.Join(tmp, "journal.db"), RetentionMode: "persistent", RetentionDays: 1, MaxRequests: 1}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendRequest(context.Background(), "old-request", "tech wizard"); err != nil {
		t.Fatalf("append request: %v", err)
	}
	if err := es.AppendEvent(context.Background(), Event{RequestID: "old-request", Type: TypeRequestReceived}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendRequest(context.Background(), "new-request", "tech wizard"); err != nil {
		t.Fatalf("append request: %v", err)
	}
	if err := es.AppendEvent(context.Background(), Event{RequestID: "new-request", Type: TypeRequestReceived}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := es.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListRequestEvents(context.Background(), "old-request", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old request pruned")
	}
	events, err = es.ListRequestEvents(context.Background(), "new-request", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected new request kept, got %d events", len(events))
	}
}

func TestSessionModeClearsOnShutdown(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.JournalConfig{Path: filepath.Join(tmp, "journal.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	if err := es.AppendRequest(context.Background(), "r1", ""); err != nil {
		t.Fatal(err)
	}
	if err := es.AppendEvent(context.Background(), Event{RequestID: "r1", Type: TypeRequestReceived}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		es.RunPruner(ctx, time.Hour)
		close(done)
	}()
	cancel()
	<-done

	events, err := es.ListRequestEvents(context.Background(), "r1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected session journal cleared, got %d events", len(events))
	}
}
