package tts

import "errors"

// Common synthesis errors.
var (
	// ErrEmptyText is returned when attempting to synthesize blank text.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrInvalidVoice is returned when the backend does not know the voice.
	ErrInvalidVoice = errors.New("invalid or unsupported voice")

	// ErrRateLimited is returned when API rate limits are exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrUnauthorized is returned when the backend rejects the credential.
	ErrUnauthorized = errors.New("speech credential rejected")

	// ErrServiceUnavailable is returned when the backend reports a server fault.
	ErrServiceUnavailable = errors.New("speech service unavailable")
)

// SynthesisError carries provider detail for a failed synthesis.
type SynthesisError struct {
	Provider  string
	Code      string
	Message   string
	Cause     error
	Retryable bool
}

func (e *SynthesisError) Error() string {
	if e.Cause != nil {
		return e.Provider + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Provider + ": " + e.Message
}

func (e *SynthesisError) Unwrap() error {
	return e.Cause
}

func NewSynthesisError(provider, code, message string, cause error, retryable bool) *SynthesisError {
	return &SynthesisError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: retryable,
	}
}
