package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// EmailSender is the external collaborator contract from spec.md §4.8:
// send(subject, html, text, recipients) -> ok|error.
type EmailSender interface {
	Send(ctx context.Context, subject, html, text string, recipients []string) (bool, error)
}

// SendGridSender is the EmailSender backed by SendGrid's transactional API,
// the email dependency surfaced by the pack's manifests (e.g.
// christopher935-propertyhub/go.mod).
type SendGridSender struct {
	client *sendgrid.Client
	from   *mail.Email
}

func NewSendGridSender(apiKey, fromName, fromAddress string) *SendGridSender {
	return &SendGridSender{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail(fromName, fromAddress),
	}
}

func (s *SendGridSender) Send(ctx context.Context, subject, html, text string, recipients []string) (bool, error) {
	if len(recipients) == 0 {
		return false, fmt.Errorf("notify: no recipients configured")
	}

	m := mail.NewV3Mail()
	m.SetFrom(s.from)
	m.Subject = subject
	m.AddContent(mail.NewContent("text/plain", text))
	m.AddContent(mail.NewContent("text/html", html))

	personalization := mail.NewPersonalization()
	for _, r := range recipients {
		personalization.AddTos(mail.NewEmail("", r))
	}
	m.AddPersonalizations(personalization)

	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return false, fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("notify: sendgrid responded %d: %s", resp.StatusCode, resp.Body)
	}
	return true, nil
}
