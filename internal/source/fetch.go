package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/voice-agent/internal/config"
	"golang.org/x/net/html"
)

// Fetcher retrieves the raw content behind a URL. Each call is a single
// attempt bounded by the configured timeout.
type Fetcher struct {
	client    *http.Client
	timeout   time.Duration
	stripHTML bool
	maxBytes  int64
	logger    *slog.Logger
}

// FetchOption configures a Fetcher.
type FetchOption func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) FetchOption {
	return func(f *Fetcher) { f.client = client }
}

func NewFetcher(cfg config.SourceConfig, logger *slog.Logger, opts ...FetchOption) *Fetcher {
	timeout := time.Duration(cfg.FetchTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	f := &Fetcher{
		client:    &http.Client{},
		timeout:   timeout,
		stripHTML: cfg.StripHTML,
		maxBytes:  cfg.MaxBytes,
		logger:    logger.With(slog.String("component", "source-fetcher")),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SanitizeURL prefixes https:// when the URL has no http(s) scheme.
func SanitizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return "https://" + raw
}

// Fetch returns the page body. On any network or status failure the result
// carries an error description as Text instead of content.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) Ingested {
	target := SanitizeURL(rawURL)
	text, err := f.fetch(ctx, target)
	if err != nil {
		f.logger.Warn("url fetch failed", slog.String("url", target), slog.String("error", err.Error()))
		return Ingested{Kind: KindURL, Origin: target, Text: fmt.Sprintf("Error fetching page: %v", err), Err: err}
	}
	return Ingested{Kind: KindURL, Origin: target, Text: text}
}

func (f *Fetcher) fetch(ctx context.Context, target string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes)
	}
	if f.stripHTML && strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "html") {
		return visibleText(body)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return strings.ToValidUTF8(string(data), ""), nil
}

var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"svg":      true,
}

// visibleText walks an HTML document and returns its human-visible text, one
// text run per line.
func visibleText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var lines []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if s := strings.Join(strings.Fields(n.Data), " "); s != "" {
				lines = append(lines, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(lines, "\n"), nil
}
