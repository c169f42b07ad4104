package pipeline

import (
	"github.com/loqalabs/voice-agent/internal/audio"
	"github.com/loqalabs/voice-agent/internal/protocol"
)

// Response is the per-request result. AudioKey is empty when no usable audio
// was produced; KeyPoints is never nil.
type Response struct {
	RequestID string
	Answer    string
	AudioKey  string
	AudioSize int64
	KeyPoints []string
}

// Assemble combines stage outputs. It never fails.
func Assemble(requestID, answer string, keyPoints []string, outcome audio.Outcome) Response {
	resp := Response{
		RequestID: requestID,
		Answer:    answer,
		KeyPoints: keyPoints,
	}
	if resp.KeyPoints == nil {
		resp.KeyPoints = []string{}
	}
	if outcome.OK() {
		resp.AudioKey = outcome.Key
		resp.AudioSize = outcome.Size
	}
	return resp
}

// Wire converts the response to its JSON form.
func (r Response) Wire() protocol.ProcessResponse {
	out := protocol.ProcessResponse{
		Answer:    r.Answer,
		Sources:   []any{},
		KeyPoints: r.KeyPoints,
	}
	if out.KeyPoints == nil {
		out.KeyPoints = []string{}
	}
	if r.AudioKey != "" {
		key := r.AudioKey
		out.AudioKey = &key
	}
	return out
}

// FromWire converts a JSON process request.
func FromWire(req protocol.ProcessRequest) Request {
	return Request{
		Query:    req.Query,
		URL:      req.URL,
		Voice:    req.Voice,
		FileText: req.FileText,
	}
}
