package disclosure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"bsewatch/internal/observability/metrics"
	kit "bsewatch/internal/transport"
	logx "bsewatch/pkg/logx"
)

// maxAttachmentSize bounds a single download; Telegram rejects bot uploads
// above 50 MB anyway.
const maxAttachmentSize = 50 << 20

// Attachments downloads filing documents.
type Attachments interface {
	Fetch(ctx context.Context, name string) (kit.Document, error)
}

// AttachmentClient fetches "<base><name>" with the feed's browser headers.
// Attempts > 1 retries transport errors and 5xx answers with exponential
// backoff; 4xx and empty bodies are final.
type AttachmentClient struct {
	base     string
	http     *http.Client
	attempts uint
	initial  time.Duration
	log      logx.Logger
	metrics  *metrics.Metrics
}

type AttachmentConfig struct {
	BaseURL  string
	Timeout  time.Duration
	Attempts int
	// RetryInitial is the first backoff interval (default 2s).
	RetryInitial time.Duration
}

func NewAttachmentClient(cfg AttachmentConfig, log logx.Logger, m *metrics.Metrics) *AttachmentClient {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultAttachmentURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	initial := cfg.RetryInitial
	if initial <= 0 {
		initial = 2 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &AttachmentClient{
		base:     base,
		http:     &http.Client{Timeout: timeout},
		attempts: uint(attempts),
		initial:  initial,
		log:      log,
		metrics:  m,
	}
}

func (c *AttachmentClient) Fetch(ctx context.Context, name string) (kit.Document, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return kit.Document{}, errors.New("attachment: empty name")
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initial
	eb.MaxInterval = 30 * time.Second

	data, err := backoff.Retry(ctx, func() ([]byte, error) {
		return c.get(ctx, name)
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(c.attempts))
	if err != nil {
		c.metrics.FetchError("attachment")
		return kit.Document{}, fmt.Errorf("attachment %s: %w", name, err)
	}
	return kit.Document{Name: name, MIME: mimeFor(name), Data: data}, nil
}

func (c *AttachmentClient) get(ctx context.Context, name string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+name, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	setFeedHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, backoff.Permanent(fmt.Errorf("http %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, backoff.Permanent(errors.New("empty body"))
	}
	if len(data) > maxAttachmentSize {
		return nil, backoff.Permanent(errors.New("attachment too large"))
	}
	return data, nil
}

func mimeFor(name string) string {
	switch {
	case strings.HasSuffix(strings.ToLower(name), ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(strings.ToLower(name), ".zip"):
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
