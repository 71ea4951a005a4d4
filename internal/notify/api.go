package notify

import (
	"context"
	"fmt"
	"net/mail"
	"net/url"
	"strings"

	"github.com/resend/resend-go/v2"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/web-agent/web-agent/internal/config"
)

// ResendSender delivers through the Resend HTTP API.
type ResendSender struct {
	client *resend.Client
}

func NewResendSender(cfg config.MailAPIConfig) (*ResendSender, error) {
	client := resend.NewClient(cfg.APIKey)
	if cfg.BaseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
		if err != nil || u.Host == "" {
			return nil, &config.ConfigError{Field: "notify.resend.base_url", Reason: fmt.Sprintf("invalid URL %q", cfg.BaseURL)}
		}
		client.BaseURL = u
	}
	return &ResendSender{client: client}, nil
}

func (s *ResendSender) Name() string { return "resend" }

func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	_, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Body,
	})
	if err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	return nil
}

// SendGridSender delivers through the SendGrid v3 mail API.
type SendGridSender struct {
	apiKey string
	host   string
}

func NewSendGridSender(cfg config.MailAPIConfig) *SendGridSender {
	return &SendGridSender{apiKey: cfg.APIKey, host: strings.TrimSuffix(cfg.BaseURL, "/")}
}

func (s *SendGridSender) Name() string { return "sendgrid" }

func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return fmt.Errorf("invalid to address: %w", err)
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(sgmail.NewEmail(from.Name, from.Address))
	m.Subject = msg.Subject
	p := sgmail.NewPersonalization()
	p.AddTos(sgmail.NewEmail(to.Name, to.Address))
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.Body))

	// an empty host selects the public endpoint
	req := sendgrid.GetRequest(s.apiKey, "/v3/mail/send", s.host)
	req.Method = "POST"
	req.Body = sgmail.GetRequestBody(m)

	resp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, strings.TrimSpace(resp.Body))
	}
	return nil
}

// newSender picks the delivery backend named by cfg.Provider.
func newSender(cfg config.NotifyConfig) (Sender, error) {
	switch cfg.Provider {
	case "", "smtp":
		return NewSMTPSender(cfg.SMTP), nil
	case "resend":
		return NewResendSender(cfg.Resend)
	case "sendgrid":
		return NewSendGridSender(cfg.SendGrid), nil
	}
	return nil, &config.ConfigError{Field: "notify.provider", Reason: fmt.Sprintf("unknown provider %q", cfg.Provider)}
}
