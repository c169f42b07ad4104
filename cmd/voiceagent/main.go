package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/loqalabs/voice-agent/internal/config"
	"github.com/loqalabs/voice-agent/internal/persona"
	"github.com/loqalabs/voice-agent/internal/pipeline"
	"github.com/loqalabs/voice-agent/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'ask', 'voices' or 'version'")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "ask":
		err = runAsk(ctx, os.Args[2:], os.Stdout, os.Stderr)
	case "voices":
		err = runVoices(os.Args[2:], os.Stdout)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAsk(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		configPath string
		query      string
		url        string
		file       string
		voice      string
		asJSON     bool
	)
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	fs.StringVar(&query, "query", "", "Question to answer")
	fs.StringVar(&url, "url", "", "Web page to use as context")
	fs.StringVar(&file, "file", "", "PDF, TXT or DOCX document to use as context")
	fs.StringVar(&voice, "voice", "", "Persona label for tone and audio")
	fs.BoolVar(&asJSON, "json", false, "Print the response as JSON instead of streaming text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(query) == "" && url == "" && file == "" {
		return errors.New("one of -query, -url or -file is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.Telemetry.SlogLevel()}))

	components, err := runtime.Build(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer components.Close()

	req := pipeline.Request{Query: query, URL: url, Voice: voice}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		req.FileName = filepath.Base(file)
		req.FileData = data
	}

	var onDelta func(string)
	if !asJSON {
		onDelta = func(delta string) { fmt.Fprint(stdout, delta) }
	}
	resp, err := components.Pipeline.Process(ctx, req, onDelta)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp.Wire())
	}
	fmt.Fprintln(stdout)
	if len(resp.KeyPoints) > 0 {
		fmt.Fprintln(stdout, "\nKey points:")
		for _, point := range resp.KeyPoints {
			fmt.Fprintf(stdout, "  - %s\n", point)
		}
	}
	if resp.AudioKey != "" {
		path, _ := components.Store.Path(resp.AudioKey)
		fmt.Fprintf(stdout, "\nAudio: %s\n", path)
	}
	return nil
}

func runVoices(args []string, stdout io.Writer) error {
	var configPath string
	fs := flag.NewFlagSet("voices", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Read(configPath)
	if err != nil {
		return err
	}
	personas, err := persona.FromConfig(cfg.Personas)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tVOICE ID\tTONE")
	for _, p := range personas.List() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Label, p.VoiceID, p.Tone)
	}
	return tw.Flush()
}
