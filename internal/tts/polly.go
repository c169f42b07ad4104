package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
)

const pollyProvider = "polly"

// pollyClient is the subset of the Polly API used here.
type pollyClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// PollyConfig configures the Amazon Polly backend. Voice ids come from the
// persona table, so personas must name Polly voices (for example "Joanna").
type PollyConfig struct {
	Region  string
	Engine  string
	Timeout time.Duration
}

// Polly synthesizes MP3 audio with Amazon Polly. Credentials are resolved by
// the AWS default chain on first use.
type Polly struct {
	mu     sync.Mutex
	client pollyClient
	cfg    PollyConfig
}

// NewPolly builds the backend. A nil client is created lazily from the AWS
// default configuration.
func NewPolly(cfg PollyConfig, client pollyClient) *Polly {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "neural"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Polly{client: client, cfg: cfg}
}

func (p *Polly) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		if strings.TrimSpace(req.Text) == "" {
			errs <- ErrEmptyText
			return
		}
		client, err := p.resolveClient(ctx)
		if err != nil {
			errs <- NewSynthesisError(pollyProvider, "", "load aws config", err, false)
			return
		}

		ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()

		engine := pollytypes.EngineStandard
		if strings.EqualFold(p.cfg.Engine, "neural") {
			engine = pollytypes.EngineNeural
		}
		text := req.Text
		output, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
			Engine:       engine,
			OutputFormat: pollytypes.OutputFormatMp3,
			Text:         aws.String(text),
			TextType:     pollytypes.TextTypeText,
			VoiceId:      pollytypes.VoiceId(req.Voice),
		})
		if err != nil {
			errs <- pollyError(err)
			return
		}
		if output == nil || output.AudioStream == nil {
			errs <- NewSynthesisError(pollyProvider, "", "empty audio stream", nil, true)
			return
		}
		streamReader(ctx, pollyProvider, req, output.AudioStream, chunks, errs)
	}()
	return chunks, errs
}

func pollyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return NewSynthesisError(pollyProvider, apiErr.ErrorCode(), apiErr.ErrorMessage(), ErrRateLimited, true)
		case "InvalidParameterValue", "ValidationException":
			return NewSynthesisError(pollyProvider, apiErr.ErrorCode(), apiErr.ErrorMessage(), ErrInvalidVoice, false)
		case "TextLengthExceededException", "InvalidSsmlException":
			return NewSynthesisError(pollyProvider, apiErr.ErrorCode(), apiErr.ErrorMessage(), nil, false)
		default:
			return NewSynthesisError(pollyProvider, apiErr.ErrorCode(), apiErr.ErrorMessage(), ErrServiceUnavailable, apiErr.ErrorFault() == smithy.FaultServer)
		}
	}
	return NewSynthesisError(pollyProvider, "", "request failed", err, true)
}

func (p *Polly) resolveClient(ctx context.Context) (pollyClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	p.client = polly.NewFromConfig(awsCfg)
	return p.client, nil
}
