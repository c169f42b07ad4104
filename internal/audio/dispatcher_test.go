package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/loqalabs/voice-agent/internal/tts"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failingSynth struct{ err error }

func (f failingSynth) Synthesize(context.Context, tts.SynthRequest) (<-chan tts.SynthChunk, <-chan error) {
	chunks := make(chan tts.SynthChunk)
	errs := make(chan error, 1)
	errs <- f.err
	close(chunks)
	close(errs)
	return chunks, errs
}

func TestDispatchWritesArtifact(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "audio")
	d := NewDispatcher(tts.NewMockSynth(4096), NewStore(dir), "", 1000, testLogger())

	out := d.Dispatch(context.Background(), "r1", "hello there", "voice")
	if !out.OK() {
		t.Fatalf("expected success, got %+v", out)
	}
	if out.Path != filepath.Join(dir, out.Key+".mp3") {
		t.Fatalf("unexpected path %q", out.Path)
	}
	info, err := os.Stat(out.Path)
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if info.Size() != 4096 || out.Size != 4096 {
		t.Fatalf("size mismatch: file=%d outcome=%d", info.Size(), out.Size)
	}
}

func TestDispatchEmptyStreamHasNoKey(t *testing.T) {
	d := NewDispatcher(tts.NewMockSynth(0), NewStore(t.TempDir()), "", 1000, testLogger())
	out := d.Dispatch(context.Background(), "r1", "hello", "voice")
	if out.Key != "" {
		t.Fatalf("expected no key, got %q", out.Key)
	}
	if !errors.Is(out.Err, ErrTooSmall) {
		t.Fatalf("expected ErrTooSmall, got %v", out.Err)
	}
}

func TestDispatchUndersizedHasNoKey(t *testing.T) {
	d := NewDispatcher(tts.NewMockSynth(999), NewStore(t.TempDir()), "", 1000, testLogger())
	if out := d.Dispatch(context.Background(), "r1", "hello", "voice"); out.OK() {
		t.Fatalf("expected failure for 999 bytes, got %+v", out)
	}
}

func TestDispatchIsolatesSynthesisFailure(t *testing.T) {
	boom := errors.New("stream reset")
	d := NewDispatcher(failingSynth{err: boom}, NewStore(t.TempDir()), "", 1000, testLogger())
	out := d.Dispatch(context.Background(), "r1", "hello", "voice")
	if out.Key != "" || !errors.Is(out.Err, boom) {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestDispatchUnwritableDirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	d := NewDispatcher(tts.NewMockSynth(4096), NewStore(filepath.Join(blocker, "audio")), "", 1000, testLogger())
	out := d.Dispatch(context.Background(), "r1", "hello", "voice")
	if out.OK() || out.Err == nil {
		t.Fatalf("expected write failure, got %+v", out)
	}
}

func TestConcurrentDispatchUsesDistinctKeys(t *testing.T) {
	store := NewStore(t.TempDir())
	good := NewDispatcher(tts.NewMockSynth(2048), store, "", 1000, testLogger())
	bad := NewDispatcher(failingSynth{err: errors.New("boom")}, store, "", 1000, testLogger())

	const n = 16
	outcomes := make([]Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := good
			if i%2 == 1 {
				d = bad
			}
			outcomes[i] = d.Dispatch(context.Background(), "r", "text", "voice")
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i, out := range outcomes {
		if i%2 == 1 {
			if out.OK() {
				t.Fatalf("request %d: expected failure", i)
			}
			continue
		}
		if !out.OK() {
			t.Fatalf("request %d: failure leaked from another request: %v", i, out.Err)
		}
		if seen[out.Key] {
			t.Fatalf("duplicate key %s", out.Key)
		}
		seen[out.Key] = true
	}
}

func TestStoreLookup(t *testing.T) {
	store := NewStore(t.TempDir())
	d := NewDispatcher(tts.NewMockSynth(1500), store, "", 1000, testLogger())
	out := d.Dispatch(context.Background(), "r", "text", "voice")
	if !out.OK() {
		t.Fatalf("dispatch failed: %v", out.Err)
	}

	f, info, err := store.Open(out.Key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f.Close()
	if info.Size() != 1500 {
		t.Fatalf("unexpected size %d", info.Size())
	}

	if _, err := store.Stat(NewKey()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	for _, key := range []string{"../etc/passwd", "", "not-a-uuid"} {
		if _, err := store.Path(key); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
		if _, err := store.Stat(key); !errors.Is(err, ErrNotFound) {
			t.Fatalf("key %q: expected ErrNotFound, got %v", key, err)
		}
	}
}
