package adapter

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "bsewatch/internal/transport"
	logx "bsewatch/pkg/logx"
	"bsewatch/pkg/tgui"
)

const (
	telegramTextLimit    = 4000
	telegramCaptionLimit = 1024
)

// Adapter is a send-only Telegram implementation of transport.Sender.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

var _ kit.Sender = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, kit.ErrDisabled
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     strings.TrimRight(cfg.APIURL, "/"),
		Offline: cfg.Offline,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

// chat implements tele.Recipient for both numeric ids and @usernames.
type chat string

func (c chat) Recipient() string { return string(c) }

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	addr := strings.TrimSpace(to.Address)
	if addr == "" {
		return errors.New("telegram: empty chat address")
	}

	chunks := splitTelegramText(text, telegramTextLimit, opt.ParseMode)
	for _, chunk := range chunks {
		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		}
		if err := a.send(ctx, chat(addr), chunk, sendOpt); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) SendDocument(ctx context.Context, to kit.ChatTarget, doc kit.Document, caption string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	addr := strings.TrimSpace(to.Address)
	if addr == "" {
		return errors.New("telegram: empty chat address")
	}
	if len(doc.Data) == 0 {
		return errors.New("telegram: empty document")
	}

	d := &tele.Document{
		File:     tele.FromReader(bytes.NewReader(doc.Data)),
		FileName: doc.Name,
		MIME:     doc.MIME,
		Caption:  tgui.TruncHTML(caption, telegramCaptionLimit),
	}
	return a.send(ctx, chat(addr), d, &tele.SendOptions{
		ParseMode: opt.ParseMode,
		ThreadID:  to.ThreadID,
	})
}

// send runs a blocking telebot call and gives up when ctx is done. The
// underlying HTTP call is bounded by the client timeout.
func (a *Adapter) send(ctx context.Context, to tele.Recipient, what any, opt *tele.SendOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		_, err := a.bot.Send(to, what, opt)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// splitTelegramText splits long messages into chunks that are safe to send to Telegram.
// It prefers newline boundaries and (best-effort) avoids splitting inside HTML tags when ParseMode is HTML.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, tele.ModeHTML) && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
