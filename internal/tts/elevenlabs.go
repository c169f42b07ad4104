package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	elevenLabsProvider = "elevenlabs"
	elevenLabsBaseURL  = "https://api.elevenlabs.io/v1"

	// ElevenLabsModelMultilingual is the multilingual v2 model.
	ElevenLabsModelMultilingual = "eleven_multilingual_v2"

	elevenLabsFormatMP3      = "mp3_44100_128"
	defaultElevenLabsTimeout = 60 * time.Second
)

// ElevenLabs streams MP3 audio from the ElevenLabs text-to-speech API.
type ElevenLabs struct {
	apiKey  string
	baseURL string
	client  *http.Client
	model   string
}

// ElevenLabsOption configures the ElevenLabs backend.
type ElevenLabsOption func(*ElevenLabs)

// WithElevenLabsBaseURL sets a custom base URL. An empty value is ignored.
func WithElevenLabsBaseURL(base string) ElevenLabsOption {
	return func(s *ElevenLabs) {
		if base != "" {
			s.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithElevenLabsClient sets a custom HTTP client.
func WithElevenLabsClient(client *http.Client) ElevenLabsOption {
	return func(s *ElevenLabs) { s.client = client }
}

// WithElevenLabsModel sets the default model. An empty value is ignored.
func WithElevenLabsModel(model string) ElevenLabsOption {
	return func(s *ElevenLabs) {
		if model != "" {
			s.model = model
		}
	}
}

// WithElevenLabsTimeout bounds each synthesis request, stream included.
func WithElevenLabsTimeout(timeout time.Duration) ElevenLabsOption {
	return func(s *ElevenLabs) {
		if timeout > 0 {
			s.client = &http.Client{Timeout: timeout}
		}
	}
}

func NewElevenLabs(apiKey string, opts ...ElevenLabsOption) *ElevenLabs {
	s := &ElevenLabs{
		apiKey:  apiKey,
		baseURL: elevenLabsBaseURL,
		client:  &http.Client{Timeout: defaultElevenLabsTimeout},
		model:   ElevenLabsModelMultilingual,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type elevenLabsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

type elevenLabsErrorResponse struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

func (s *ElevenLabs) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		body, err := s.open(ctx, req)
		if err != nil {
			errs <- err
			return
		}
		streamReader(ctx, elevenLabsProvider, req, body, chunks, errs)
	}()
	return chunks, errs
}

func (s *ElevenLabs) open(ctx context.Context, req SynthRequest) (io.ReadCloser, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	if req.Voice == "" {
		return nil, ErrInvalidVoice
	}
	model := req.Model
	if model == "" {
		model = s.model
	}
	payload, err := json.Marshal(elevenLabsRequest{Text: req.Text, ModelID: model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=%s", s.baseURL, url.PathEscape(req.Voice), elevenLabsFormatMP3)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, NewSynthesisError(elevenLabsProvider, "", "request failed", err, true)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, elevenLabsError(resp)
	}
	return resp.Body, nil
}

func elevenLabsError(resp *http.Response) error {
	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError

	var cause error
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		cause = ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized:
		cause = ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		cause = ErrInvalidVoice
	case resp.StatusCode >= http.StatusInternalServerError:
		cause = ErrServiceUnavailable
	}

	var errResp elevenLabsErrorResponse
	message := resp.Status
	code := fmt.Sprintf("%d", resp.StatusCode)
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&errResp); err == nil {
		if errResp.Detail.Message != "" {
			message = errResp.Detail.Message
		}
		if errResp.Detail.Status != "" {
			code = errResp.Detail.Status
		}
	}
	return NewSynthesisError(elevenLabsProvider, code, message, cause, retryable)
}
