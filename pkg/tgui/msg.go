package tgui

import (
	"context"
	"fmt"
	"strings"

	kit "bsewatch/internal/transport"
)

const ModeHTML = "HTML"

// Message is a rendered digest: text + send options.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

// HTML wraps already-rendered HTML text with the digest send options.
func HTML(text string) Message {
	return Message{Text: text, Opt: &kit.SendOptions{ParseMode: ModeHTML, DisablePreview: true}}
}

// Empty reports whether there is nothing worth sending.
func (m Message) Empty() bool { return strings.TrimSpace(m.Text) == "" }

// Send delivers the message to one chat.
func (m Message) Send(ctx context.Context, s kit.Sender, to kit.ChatTarget) error {
	if m.Opt == nil {
		m.Opt = &kit.SendOptions{}
	}
	return s.SendText(ctx, to, m.Text, m.Opt)
}

// Builder accumulates HTML digest lines.
type Builder struct {
	lines []string
}

func New() *Builder { return &Builder{} }

// Line adds a single escaped line.
func (b *Builder) Line(s string) *Builder {
	if strings.TrimSpace(s) == "" {
		b.lines = append(b.lines, "")
		return b
	}
	b.lines = append(b.lines, Esc(s).String())
	return b
}

// Linef formats a line. String arguments are escaped; format itself is
// taken as safe.
func (b *Builder) Linef(format string, args ...any) *Builder {
	for i, a := range args {
		if s, ok := a.(string); ok {
			args[i] = Esc(s).String()
		}
	}
	b.lines = append(b.lines, fmt.Sprintf(format, args...))
	return b
}

func (b *Builder) Blank() *Builder { return b.Line("") }

// Build joins the lines and trims surrounding whitespace.
func (b *Builder) Build() Message {
	return HTML(strings.TrimSpace(strings.Join(b.lines, "\n")))
}
