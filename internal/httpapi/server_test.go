package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/loqalabs/voice-agent/internal/audio"
	"github.com/loqalabs/voice-agent/internal/config"
	"github.com/loqalabs/voice-agent/internal/keypoints"
	"github.com/loqalabs/voice-agent/internal/llm"
	"github.com/loqalabs/voice-agent/internal/persona"
	"github.com/loqalabs/voice-agent/internal/pipeline"
	"github.com/loqalabs/voice-agent/internal/protocol"
	"github.com/loqalabs/voice-agent/internal/source"
	"github.com/loqalabs/voice-agent/internal/tts"
)

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, llm.Request, func(llm.Chunk) error) error {
	return errors.New("backend down")
}

type staticCompleter string

func (c staticCompleter) Complete(context.Context, llm.Request) (string, error) {
	return string(c), nil
}

func newTestServer(t *testing.T, gen llm.Generator, synth tts.Synthesizer) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry, err := persona.NewRegistry(persona.DefaultProfiles())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	store := audio.NewStore(filepath.Join(t.TempDir(), "audio_outputs"))
	p, err := pipeline.New(pipeline.Deps{
		Personas:  registry,
		Fetcher:   source.NewFetcher(config.SourceConfig{FetchTimeoutMS: 1000}, logger),
		Generator: gen,
		KeyPoints: keypoints.NewExtractor(staticCompleter("- one\n- two"), "gpt-4o", logger),
		Audio:     audio.NewDispatcher(synth, store, "", 1000, logger),
	}, logger)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	srv, err := New(p, store, synth, "", logger)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	mux := http.NewServeMux()
	srv.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func postProcess(t *testing.T, ts *httptest.Server, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/process", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func TestProcessAndFetchAudio(t *testing.T) {
	ts := newTestServer(t, llm.NewMockGenerator("X ", "is..."), tts.NewMockSynth(4096))

	resp, data := postProcess(t, ts, `{"query":"What is X?","voice":"grandma GG"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, data)
	}
	var out protocol.ProcessResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Answer != "X is..." || out.AudioKey == nil {
		t.Fatalf("unexpected response %s", data)
	}
	if out.Sources == nil || out.KeyPoints == nil || len(out.KeyPoints) != 0 {
		t.Fatalf("expected empty sources and key points, got %s", data)
	}

	audioResp, err := http.Get(ts.URL + "/get-audio/" + *out.AudioKey)
	if err != nil {
		t.Fatalf("get audio: %v", err)
	}
	body, _ := io.ReadAll(audioResp.Body)
	audioResp.Body.Close()
	if audioResp.StatusCode != http.StatusOK || audioResp.Header.Get("Content-Type") != "audio/mpeg" {
		t.Fatalf("unexpected audio response %d %q", audioResp.StatusCode, audioResp.Header.Get("Content-Type"))
	}
	if len(body) != 4096 {
		t.Fatalf("expected 4096 bytes, got %d", len(body))
	}

	headResp, err := http.Head(ts.URL + "/get-audio/" + *out.AudioKey)
	if err != nil {
		t.Fatalf("head audio: %v", err)
	}
	headBody, _ := io.ReadAll(headResp.Body)
	headResp.Body.Close()
	if headResp.StatusCode != http.StatusOK || len(headBody) != 0 {
		t.Fatalf("unexpected HEAD response %d with %d bytes", headResp.StatusCode, len(headBody))
	}
}

func TestProcessWithoutUsableAudioReturnsNullKey(t *testing.T) {
	ts := newTestServer(t, llm.NewMockGenerator("answer"), tts.NewMockSynth(0))

	resp, data := postProcess(t, ts, `{"query":"q","voice":"grandma GG","url":null}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, data)
	}
	if !bytes.Contains(data, []byte(`"audio_key":null`)) {
		t.Fatalf("expected null audio_key, got %s", data)
	}
}

func TestProcessWithFileTextReturnsKeyPoints(t *testing.T) {
	ts := newTestServer(t, llm.NewMockGenerator("answer"), tts.NewMockSynth(4096))

	_, data := postProcess(t, ts, `{"query":"","file_text":"some document"}`)
	var out protocol.ProcessResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.KeyPoints) != 2 || out.KeyPoints[0] != "one" {
		t.Fatalf("unexpected key points %q", out.KeyPoints)
	}
}

func TestProcessRejectsInvalidBodies(t *testing.T) {
	ts := newTestServer(t, llm.NewMockGenerator("answer"), tts.NewMockSynth(4096))

	for _, body := range []string{`{"voice":"grandma GG"}`, `{"query":42}`, `not json`} {
		resp, data := postProcess(t, ts, body)
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Fatalf("%s: expected 422, got %d", body, resp.StatusCode)
		}
		var errResp protocol.ErrorResponse
		if err := json.Unmarshal(data, &errResp); err != nil || errResp.Detail == "" {
			t.Fatalf("%s: expected detail, got %s", body, data)
		}
	}
}

func TestProcessCompletionFailureReturns500(t *testing.T) {
	ts := newTestServer(t, failingGenerator{}, tts.NewMockSynth(4096))

	resp, data := postProcess(t, ts, `{"query":"q"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	var errResp protocol.ErrorResponse
	if err := json.Unmarshal(data, &errResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(errResp.Detail, "backend down") {
		t.Fatalf("unexpected detail %q", errResp.Detail)
	}
}

func TestGetAudioMissing(t *testing.T) {
	ts := newTestServer(t, llm.NewMockGenerator("answer"), tts.NewMockSynth(4096))

	for _, key := range []string{"00000000-0000-0000-0000-000000000000", "not-a-key"} {
		resp, err := http.Get(ts.URL + "/get-audio/" + key)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", key, resp.StatusCode)
		}
		if !strings.Contains(string(data), "Audio not found") {
			t.Fatalf("%s: unexpected body %s", key, data)
		}
	}
}

func TestVoicesAndPreview(t *testing.T) {
	ts := newTestServer(t, llm.NewMockGenerator("answer"), tts.NewMockSynth(2048))

	resp, err := http.Get(ts.URL + "/voices")
	if err != nil {
		t.Fatalf("voices: %v", err)
	}
	var profiles []persona.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profiles); err != nil {
		t.Fatalf("decode voices: %v", err)
	}
	resp.Body.Close()
	if len(profiles) != len(persona.DefaultProfiles()) || profiles[0].Label != "grandma GG" {
		t.Fatalf("unexpected voices %+v", profiles)
	}

	preview, err := http.Get(ts.URL + "/voices/grandma%20GG/preview")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	body, _ := io.ReadAll(preview.Body)
	preview.Body.Close()
	if preview.StatusCode != http.StatusOK || preview.Header.Get("Content-Type") != "audio/mpeg" || len(body) != 2048 {
		t.Fatalf("unexpected preview %d %q %d bytes", preview.StatusCode, preview.Header.Get("Content-Type"), len(body))
	}

	missing, err := http.Get(ts.URL + "/voices/nobody/preview")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.StatusCode)
	}
}

func dialStream(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/process"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStreamDeltasThenResult(t *testing.T) {
	ts := newTestServer(t, llm.NewMockGenerator("X ", "is..."), tts.NewMockSynth(4096))
	conn := dialStream(t, ts)

	if err := conn.WriteJSON(protocol.ProcessRequest{Query: "What is X?", Voice: "tech wizard"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var deltas []string
	for {
		var evt protocol.StreamEvent
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("read: %v", err)
		}
		if evt.Type == protocol.StreamDelta {
			deltas = append(deltas, evt.Content)
			continue
		}
		if evt.Type != protocol.StreamResult || evt.Result == nil {
			t.Fatalf("unexpected event %+v", evt)
		}
		if evt.Result.Answer != "X is..." || evt.Result.AudioKey == nil {
			t.Fatalf("unexpected result %+v", evt.Result)
		}
		break
	}
	if strings.Join(deltas, "") != "X is..." || len(deltas) != 2 {
		t.Fatalf("unexpected deltas %q", deltas)
	}
}

func TestStreamReportsErrors(t *testing.T) {
	ts := newTestServer(t, failingGenerator{}, tts.NewMockSynth(4096))

	conn := dialStream(t, ts)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"query":"q"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var evt protocol.StreamEvent
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read: %v", err)
	}
	if evt.Type != protocol.StreamError || !strings.Contains(evt.Detail, "backend down") {
		t.Fatalf("unexpected event %+v", evt)
	}

	invalid := dialStream(t, ts)
	if err := invalid.WriteMessage(websocket.TextMessage, []byte(`{"voice":"x"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := invalid.ReadJSON(&evt); err != nil {
		t.Fatalf("read: %v", err)
	}
	if evt.Type != protocol.StreamError || evt.Detail == "" {
		t.Fatalf("unexpected event %+v", evt)
	}
}
