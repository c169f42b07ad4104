package protocol

import "time"

// ProcessRequest is the body of POST /process, the first WebSocket message on
// /ws/process and the payload of a bus process request.
type ProcessRequest struct {
	Query    string `json:"query"`
	URL      string `json:"url,omitempty"`
	Voice    string `json:"voice,omitempty"`
	FileText string `json:"file_text,omitempty"`
}

// ProcessResponse is the result of one pipeline run. AudioKey is null when no
// usable audio was produced. Sources is always present and currently empty.
type ProcessResponse struct {
	Answer    string   `json:"answer"`
	AudioKey  *string  `json:"audio_key"`
	Sources   []any    `json:"sources"`
	KeyPoints []string `json:"key_points"`
}

// ErrorResponse is returned with non-2xx HTTP statuses and on bus failures.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// Stream event types sent over /ws/process.
const (
	StreamDelta  = "delta"
	StreamResult = "result"
	StreamError  = "error"
)

// StreamEvent is one server-to-client WebSocket frame.
type StreamEvent struct {
	Type    string           `json:"type"`
	Content string           `json:"content,omitempty"`
	Result  *ProcessResponse `json:"result,omitempty"`
	Detail  string           `json:"detail,omitempty"`
}

// AnswerCompleted is published once the text answer is final.
type AnswerCompleted struct {
	RequestID string    `json:"request_id"`
	Voice     string    `json:"voice,omitempty"`
	Answer    string    `json:"answer"`
	KeyPoints []string  `json:"key_points"`
	Timestamp time.Time `json:"timestamp"`
}

// AudioReady is published when an audio artifact passed validation.
type AudioReady struct {
	RequestID string    `json:"request_id"`
	AudioKey  string    `json:"audio_key"`
	Bytes     int64     `json:"bytes"`
	Timestamp time.Time `json:"timestamp"`
}

// Subject suffixes, appended to the configured bus prefix.
const (
	SubjectProcess         = "process"
	SubjectAnswerCompleted = "answer.completed"
	SubjectAudioReady      = "audio.ready"
)

// Subject joins a prefix and suffix into a NATS subject.
func Subject(prefix, suffix string) string {
	if prefix == "" {
		return suffix
	}
	return prefix + "." + suffix
}
