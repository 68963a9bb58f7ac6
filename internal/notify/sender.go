package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
)

// Sender hands a message to a delivery mechanism. A nil error means the
// handoff was accepted, not that the message was delivered.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Opener launches an external program for a URL and returns once it has
// started.
type Opener func(ctx context.Context, rawURL string) error

// MailtoSender opens the user's mail composer pre-filled with the message.
type MailtoSender struct {
	open Opener
}

// NewMailtoSender returns a MailtoSender using open, or the platform
// default opener when open is nil.
func NewMailtoSender(open Opener) *MailtoSender {
	if open == nil {
		open = CommandOpener("")
	}
	return &MailtoSender{open: open}
}

// Send implements Sender.
func (s *MailtoSender) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("send reminder: no recipient address")
	}
	if err := s.open(ctx, MailtoURL(msg)); err != nil {
		return fmt.Errorf("open mail composer: %w", err)
	}
	return nil
}

// MailtoURL builds a mailto: link with the subject and body percent-encoded.
func MailtoURL(msg Message) string {
	return "mailto:" + msg.To +
		"?subject=" + queryEscape(msg.Subject) +
		"&body=" + queryEscape(msg.Body)
}

// queryEscape encodes spaces as %20; mail clients show a literal "+".
func queryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// CommandOpener returns an Opener that runs command with the URL as its
// last argument. An empty command selects the platform default.
func CommandOpener(command string) Opener {
	args := strings.Fields(command)
	if len(args) == 0 {
		args = defaultOpenCommand(runtime.GOOS)
	}
	return func(_ context.Context, rawURL string) error {
		cmd := exec.Command(args[0], append(args[1:], rawURL)...)
		if err := cmd.Start(); err != nil {
			return err
		}
		// Reap the process without waiting on the composer.
		go func() { _ = cmd.Wait() }()
		return nil
	}
}

func defaultOpenCommand(goos string) []string {
	switch goos {
	case "darwin":
		return []string{"open"}
	case "windows":
		return []string{"rundll32", "url.dll,FileProtocolHandler"}
	default:
		return []string{"xdg-open"}
	}
}

// LogSender writes messages to a logger instead of delivering them. It
// suits headless hosts where no mail composer exists.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender returns a LogSender writing to logger (slog.Default when nil).
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send implements Sender.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "reminder",
		"to", msg.To,
		"subject", msg.Subject,
		"body_bytes", len(msg.Body),
	)
	return nil
}

// NewSender builds the sender named by kind ("mailto" or "log").
func NewSender(kind, opener string, logger *slog.Logger) (Sender, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "mailto":
		return NewMailtoSender(CommandOpener(opener)), nil
	case "log":
		return NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("unknown sender %q (use mailto or log)", kind)
	}
}
