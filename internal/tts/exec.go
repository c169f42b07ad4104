package tts

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

const execProvider = "exec"

// execSynth runs a local command per request. The command reads
// {"text","voice","model"} on stdin and writes one JSON object per line,
// each carrying base64 MP3 bytes in "audio_base64".
type execSynth struct {
	cmd    []string
	mu     sync.Mutex
	logger *slog.Logger
}

type execRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
	Model string `json:"model,omitempty"`
}

type execResponse struct {
	AudioBase64 string `json:"audio_base64"`
	Final       bool   `json:"final"`
}

func NewExecSynth(command string, logger *slog.Logger) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{cmd: args, logger: logger.With(slog.String("component", "tts-exec"))}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	e.mu.Lock()
	schunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(schunks)
		defer close(errs)
		defer e.mu.Unlock()

		data, err := json.Marshal(execRequest{Text: req.Text, Voice: req.Voice, Model: req.Model})
		if err != nil {
			errs <- err
			return
		}

		base := e.cmd[0]
		args := append([]string{}, e.cmd[1:]...)
		cmd := exec.CommandContext(ctx, base, args...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			errs <- err
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			errs <- err
			return
		}
		if err := cmd.Start(); err != nil {
			errs <- NewSynthesisError(execProvider, "", "start command", err, false)
			return
		}

		if _, err := stdin.Write(data); err != nil {
			errs <- err
			_ = cmd.Wait()
			return
		}
		stdin.Close()

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)
		sequence := 0
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var resp execResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				errs <- NewSynthesisError(execProvider, "", "decode command output", err, false)
				_ = cmd.Wait()
				return
			}
			audio, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
			if err != nil {
				errs <- NewSynthesisError(execProvider, "", "decode audio", err, false)
				_ = cmd.Wait()
				return
			}
			select {
			case schunks <- SynthChunk{RequestID: req.RequestID, Sequence: sequence, Audio: audio, Final: resp.Final}:
			case <-ctx.Done():
				errs <- ctx.Err()
				_ = cmd.Wait()
				return
			}
			sequence++
		}
		if err := cmd.Wait(); err != nil {
			e.logger.Warn("tts command exited with error", slogError(err))
			errs <- NewSynthesisError(execProvider, "", "command failed", err, false)
			return
		}
		if scanErr := scanner.Err(); scanErr != nil {
			errs <- scanErr
		}
	}()
	return schunks, errs
}
