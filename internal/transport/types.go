package transport

import (
	"context"
	"errors"
)

// ErrDisabled is returned by senders that were constructed without credentials.
var ErrDisabled = errors.New("transport disabled")

// ChatTarget addresses one messaging channel. Address is the provider's
// channel identifier (Telegram: numeric chat id or @channel username).
type ChatTarget struct {
	Address  string
	ThreadID int // telegram forum topic thread id (0 if none)
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Document is an in-memory file attachment.
type Document struct {
	Name string
	MIME string
	Data []byte
}

// Sender delivers messages to a single channel address. Implementations must be
// safe for concurrent use.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
	SendDocument(ctx context.Context, to ChatTarget, doc Document, caption string, opt *SendOptions) error
}

// SenderFunc adapts plain functions into a text-only Sender. SendDocument
// falls back to sending the caption.
type SenderFunc func(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error

func (f SenderFunc) SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error {
	return f(ctx, to, text, opt)
}

func (f SenderFunc) SendDocument(ctx context.Context, to ChatTarget, _ Document, caption string, opt *SendOptions) error {
	return f(ctx, to, caption, opt)
}
