// Package notify e-mails run and send summaries to the operator.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/web-agent/web-agent/internal/config"
	"github.com/web-agent/web-agent/internal/orchestrator"
)

type Message struct {
	To      string
	From    string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier sends summaries through a Sender. A nil *Notifier, or one built
// from a disabled config, does nothing.
type Notifier struct {
	sender Sender
	from   string
	to     string
	logger *slog.Logger
}

func New(cfg config.NotifyConfig, logger *slog.Logger) (*Notifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if err := ValidateEmail(cfg.From); err != nil {
		return nil, &config.ConfigError{Field: "notify.from", Reason: err.Error()}
	}
	if err := ValidateEmail(cfg.To); err != nil {
		return nil, &config.ConfigError{Field: "notify.to", Reason: err.Error()}
	}
	sender, err := newSender(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithSender(sender, cfg.From, cfg.To, logger), nil
}

func NewWithSender(sender Sender, from, to string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Notifier{sender: sender, from: from, to: to, logger: logger}
}

// RunCompleted mails the outcome of a drafting run. Failures are logged,
// never returned; a summary must not fail the run it describes.
func (n *Notifier) RunCompleted(ctx context.Context, site string, res orchestrator.RunResult) {
	if n == nil {
		return
	}
	n.deliver(ctx, RunSummary(site, res))
}

func (n *Notifier) SendCompleted(ctx context.Context, site string, res orchestrator.SendResult) {
	if n == nil {
		return
	}
	n.deliver(ctx, SendSummary(site, res))
}

func (n *Notifier) deliver(ctx context.Context, msg Message) {
	msg.From, msg.To = n.from, n.to
	if err := n.sender.Send(ctx, msg); err != nil {
		n.logger.Warn("failed to send notification", "sender", n.sender.Name(), "error", err)
		return
	}
	n.logger.Info("notification sent", "to", n.to, "subject", msg.Subject)
}

// RunSummary describes a drafting run.
func RunSummary(site string, res orchestrator.RunResult) Message {
	subject := fmt.Sprintf("[web-agent] %s: %d drafts ready for review", site, res.DraftsCreated)
	if hasFatal(res.Errors) {
		subject = fmt.Sprintf("[web-agent] %s: run aborted", site)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Site: %s\n", site)
	fmt.Fprintf(&b, "Run: %s\n", res.RunID)
	if res.DryRun {
		b.WriteString("Mode: dry run\n")
	}
	fmt.Fprintf(&b, "Threads processed: %d\n", res.ThreadsProcessed)
	fmt.Fprintf(&b, "Drafts created: %d\n", res.DraftsCreated)
	writeErrors(&b, res.Errors)
	if res.DraftsCreated > 0 {
		fmt.Fprintf(&b, "\nNext: web-agent review --site %s\n", site)
	}
	return Message{Subject: subject, Body: b.String()}
}

// SendSummary describes a send pass.
func SendSummary(site string, res orchestrator.SendResult) Message {
	subject := fmt.Sprintf("[web-agent] %s: %d sent, %d failed", site, res.Sent, res.Failed)
	if hasFatal(res.Errors) {
		subject = fmt.Sprintf("[web-agent] %s: send aborted", site)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Site: %s\n", site)
	fmt.Fprintf(&b, "Sent: %d\n", res.Sent)
	fmt.Fprintf(&b, "Failed: %d\n", res.Failed)
	if res.WouldSend > 0 {
		fmt.Fprintf(&b, "Would send (dry run): %d\n", res.WouldSend)
	}
	writeErrors(&b, res.Errors)
	return Message{Subject: subject, Body: b.String()}
}

func writeErrors(b *strings.Builder, errs []string) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintf(b, "\nErrors (%d):\n", len(errs))
	for _, e := range errs {
		fmt.Fprintf(b, "  - %s\n", e)
	}
}

func hasFatal(errs []string) bool {
	for _, e := range errs {
		if strings.HasPrefix(e, "Fatal: ") {
			return true
		}
	}
	return false
}

// ValidateEmail checks for injection characters and RFC 5322 compliance
func ValidateEmail(email string) error {
	if strings.ContainsAny(email, "\r\n,;") {
		return fmt.Errorf("email contains invalid characters")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("invalid email format: %w", err)
	}
	return nil
}

func validateMessage(msg Message) error {
	if err := ValidateEmail(msg.From); err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if err := ValidateEmail(msg.To); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	if strings.ContainsAny(msg.Subject, "\r\n") {
		return fmt.Errorf("subject contains invalid characters")
	}
	return nil
}
