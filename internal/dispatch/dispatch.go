// Package dispatch fans rendered digests and attachments out to a
// subscriber's recipients.
//
// Delivery is best-effort per recipient: a failure (or panic) for one address
// is recorded and the loop moves on. Nothing escapes the call boundary.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"bsewatch/internal/model"
	"bsewatch/internal/observability/metrics"
	kit "bsewatch/internal/transport"
	logx "bsewatch/pkg/logx"
	"bsewatch/pkg/tgui"
)

var ErrNoSender = errors.New("dispatch: no sender configured")

type Config struct {
	RatePerSec      float64
	Burst           int
	TextTimeout     time.Duration
	DocumentTimeout time.Duration
}

// Outcome is the result of one send to one recipient.
type Outcome struct {
	Address string
	Err     error
}

func (o Outcome) OK() bool { return o.Err == nil }

// Dispatcher is safe for concurrent use; the limiter is shared by all
// batch workers so the provider sees one paced stream.
type Dispatcher struct {
	sender  kit.Sender
	log     logx.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config, sender kit.Sender, log logx.Logger, m *metrics.Metrics) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{sender: sender, log: log, metrics: m}
	d.Apply(cfg)
	return d
}

// Apply swaps pacing and timeouts. In-flight sends keep the old limiter.
func (d *Dispatcher) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(1, int(cfg.RatePerSec))
	}
	if cfg.TextTimeout <= 0 {
		cfg.TextTimeout = 10 * time.Second
	}
	if cfg.DocumentTimeout <= 0 {
		cfg.DocumentTimeout = 45 * time.Second
	}
	d.mu.Lock()
	d.cfg = cfg
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	d.mu.Unlock()
}

func (d *Dispatcher) snapshot() (Config, *rate.Limiter) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg, d.limiter
}

// Ready reports whether a sender is wired.
func (d *Dispatcher) Ready() bool { return d != nil && d.sender != nil }

// SendDigest sends text to every recipient and returns how many were reached.
// Blank text reaches nobody.
func (d *Dispatcher) SendDigest(ctx context.Context, recipients []model.Recipient, text string) int {
	msg := tgui.HTML(text)
	if msg.Empty() {
		return 0
	}
	sent := 0
	for _, o := range d.fanOut(ctx, "text", recipients, func(ctx context.Context, to kit.ChatTarget) error {
		return msg.Send(ctx, d.sender, to)
	}) {
		if o.OK() {
			sent++
		}
	}
	return sent
}

// SendAttachment sends the same document to every recipient.
func (d *Dispatcher) SendAttachment(ctx context.Context, recipients []model.Recipient, doc kit.Document, caption string) []Outcome {
	return d.fanOut(ctx, "document", recipients, func(ctx context.Context, to kit.ChatTarget) error {
		return d.sender.SendDocument(ctx, to, doc, caption, &kit.SendOptions{ParseMode: tgui.ModeHTML})
	})
}

func (d *Dispatcher) fanOut(ctx context.Context, kind string, recipients []model.Recipient, send func(context.Context, kit.ChatTarget) error) []Outcome {
	out := make([]Outcome, 0, len(recipients))
	cfg, lim := d.snapshot()
	timeout := cfg.TextTimeout
	if kind == "document" {
		timeout = cfg.DocumentTimeout
	}

	for _, r := range recipients {
		o := Outcome{Address: r.ChannelAddress}
		switch {
		case d.sender == nil:
			o.Err = ErrNoSender
		default:
			if err := lim.Wait(ctx); err != nil {
				o.Err = err
			} else {
				o.Err = d.sendOne(ctx, timeout, r.ChannelAddress, send)
			}
		}
		d.metrics.Send(kind, o.OK())
		if !o.OK() {
			d.log.Warn("send failed",
				logx.String("kind", kind),
				logx.String("to", r.ChannelAddress),
				logx.String("subscriber", string(r.SubscriberID)),
				logx.Err(o.Err))
		}
		out = append(out, o)
	}
	return out
}

func (d *Dispatcher) sendOne(ctx context.Context, timeout time.Duration, addr string, send func(context.Context, kit.ChatTarget) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error("send panic", logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return send(sctx, kit.ChatTarget{Address: addr})
}
