// Package httpapi exposes the pipeline over HTTP and WebSocket.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"

	"github.com/gorilla/websocket"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/loqalabs/voice-agent/internal/audio"
	"github.com/loqalabs/voice-agent/internal/persona"
	"github.com/loqalabs/voice-agent/internal/pipeline"
	"github.com/loqalabs/voice-agent/internal/protocol"
	"github.com/loqalabs/voice-agent/internal/tts"
)

// maxBodyBytes bounds request bodies, which may carry whole documents.
const maxBodyBytes = 32 << 20

const defaultPreview = "Hello! This is how I sound."

// Server holds the HTTP handlers. Register mounts them on a mux.
type Server struct {
	pipeline *pipeline.Pipeline
	store    *audio.Store
	synth    tts.Synthesizer
	ttsModel string
	schema   *jsonschema.Schema
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func New(p *pipeline.Pipeline, store *audio.Store, synth tts.Synthesizer, ttsModel string, logger *slog.Logger) (*Server, error) {
	schema, err := compileProcessSchema()
	if err != nil {
		return nil, err
	}
	return &Server{
		pipeline: p,
		store:    store,
		synth:    synth,
		ttsModel: ttsModel,
		schema:   schema,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With(slog.String("component", "httpapi")),
	}, nil
}

// Register mounts every route on mux. GET patterns also answer HEAD.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /process", s.handleProcess)
	mux.HandleFunc("GET /get-audio/{key}", s.handleGetAudio)
	mux.HandleFunc("GET /voices", s.handleVoices)
	mux.HandleFunc("GET /voices/{label}/preview", s.handlePreview)
	mux.HandleFunc("GET /ws/process", s.handleStream)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	req, err := decodeProcessRequest(s.schema, raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	resp, err := s.pipeline.Process(r.Context(), pipeline.FromWire(req), nil)
	if err != nil {
		s.logger.Error("process request failed", slogError(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp.Wire())
}

func (s *Server) handleGetAudio(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	f, info, err := s.store.Open(key)
	if err != nil {
		if errors.Is(err, audio.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Audio not found")
			return
		}
		s.logger.Error("open audio failed", slog.String("audio_key", key), slogError(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "audio/mpeg")
	http.ServeContent(w, r, path.Base(f.Name()), info.ModTime(), f)
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Personas().List())
}

// handlePreview streams the persona's preview line without writing a file.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	label := r.PathValue("label")
	profile, err := s.pipeline.Personas().Lookup(label)
	if err != nil {
		if errors.Is(err, persona.ErrUnknown) {
			writeError(w, http.StatusNotFound, "Voice not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	text := profile.Preview
	if text == "" {
		text = defaultPreview
	}

	flusher, _ := w.(http.Flusher)
	started := false
	err = tts.Drain(r.Context(), s.synth, tts.SynthRequest{Text: text, Voice: profile.VoiceID, Model: s.ttsModel}, func(chunk tts.SynthChunk) error {
		if len(chunk.Audio) == 0 {
			return nil
		}
		if !started {
			w.Header().Set("Content-Type", "audio/mpeg")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := w.Write(chunk.Audio); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	switch {
	case err != nil && !started:
		s.logger.Warn("voice preview failed", slog.String("voice", profile.Label), slogError(err))
		writeError(w, http.StatusBadGateway, err.Error())
	case err != nil:
		s.logger.Warn("voice preview interrupted", slog.String("voice", profile.Label), slogError(err))
	case !started:
		writeError(w, http.StatusBadGateway, "speech backend returned no audio")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, protocol.ErrorResponse{Detail: detail})
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
