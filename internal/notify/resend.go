// Package notify delivers signing invitations and completion notices by email.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/resend/resend-go/v2"
)

// ErrNotConfigured is returned when no email API key is configured.
var ErrNotConfigured = errors.New("email delivery is not configured")

// Sender delivers one rendered message to one or more addresses.
type Sender interface {
	Send(ctx context.Context, to []string, subject, html string) error
}

// emailAPI is the part of the Resend client used here.
type emailAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendSender sends email through the Resend API.
type ResendSender struct {
	emails emailAPI
	from   string
}

// NewResendSender creates a ResendSender. An empty apiKey yields a sender
// whose Send always fails with ErrNotConfigured.
func NewResendSender(apiKey, from string) *ResendSender {
	s := &ResendSender{from: from}
	if apiKey != "" {
		s.emails = resend.NewClient(apiKey).Emails
	}
	return s
}

// Send implements Sender.
func (s *ResendSender) Send(ctx context.Context, to []string, subject, html string) error {
	if s.emails == nil {
		return ErrNotConfigured
	}
	if len(to) == 0 {
		return errors.New("no recipients")
	}
	if html == "" {
		return errors.New("email content is required")
	}

	_, err := s.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      to,
		Subject: subject,
		Html:    html,
	})
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
