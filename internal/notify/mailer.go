package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"
)

var invitationTmpl = template.Must(template.New("invitation").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Helvetica, Arial, sans-serif; color: #1f2937;">
  <h2>You have been invited to sign {{.DocumentName}}</h2>
  <p>It is your turn to review and sign this document.</p>
  <p><a href="{{.SigningURL}}" style="background: #2563eb; color: #ffffff; padding: 10px 16px; text-decoration: none; border-radius: 4px;">Review and sign</a></p>
  <p style="color: #6b7280; font-size: 12px;">This link is personal to you and expires on {{.ExpiresAt}}.</p>
</body>
</html>
`))

var completionTmpl = template.Must(template.New("completion").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Helvetica, Arial, sans-serif; color: #1f2937;">
  <h2>{{.DocumentName}} has been signed by all parties</h2>
  <p>The executed document and its audit certificate are ready.</p>
  <ul>
    <li><a href="{{.SignedURL}}">Download the signed document</a></li>
    <li><a href="{{.AuditURL}}">Download the audit certificate</a></li>
  </ul>
  <p style="color: #6b7280; font-size: 12px;">These links expire on {{.LinksExpireAt}}.</p>
</body>
</html>
`))

// Invitation asks a signer to take their turn.
type Invitation struct {
	To           string
	DocumentName string
	Token        string
	ExpiresAt    time.Time
}

// Completion tells every party that a document is fully signed.
type Completion struct {
	To            []string
	DocumentName  string
	SignedURL     string
	AuditURL      string
	LinksExpireAt time.Time
}

// Mailer renders invitation and completion messages and hands them to a Sender.
type Mailer struct {
	sender  Sender
	baseURL string
}

// NewMailer creates a Mailer. Signing links are built as {baseURL}/sign/{token}.
func NewMailer(sender Sender, baseURL string) *Mailer {
	return &Mailer{sender: sender, baseURL: baseURL}
}

// SigningURL returns the link a signer follows to open their session.
func (m *Mailer) SigningURL(token string) string {
	return m.baseURL + "/sign/" + token
}

// SendInvitation emails a signing link to the next signer.
func (m *Mailer) SendInvitation(ctx context.Context, inv Invitation) error {
	var buf bytes.Buffer
	err := invitationTmpl.Execute(&buf, map[string]string{
		"DocumentName": inv.DocumentName,
		"SigningURL":   m.SigningURL(inv.Token),
		"ExpiresAt":    inv.ExpiresAt.UTC().Format("January 2, 2006 15:04 MST"),
	})
	if err != nil {
		return fmt.Errorf("failed to render invitation: %w", err)
	}
	return m.sender.Send(ctx, []string{inv.To}, "Invitation to Sign: "+inv.DocumentName, buf.String())
}

// SendCompletion emails download links for both artifacts.
func (m *Mailer) SendCompletion(ctx context.Context, c Completion) error {
	var buf bytes.Buffer
	err := completionTmpl.Execute(&buf, map[string]string{
		"DocumentName":  c.DocumentName,
		"SignedURL":     c.SignedURL,
		"AuditURL":      c.AuditURL,
		"LinksExpireAt": c.LinksExpireAt.UTC().Format("January 2, 2006 15:04 MST"),
	})
	if err != nil {
		return fmt.Errorf("failed to render completion notice: %w", err)
	}
	return m.sender.Send(ctx, c.To, "Completed: "+c.DocumentName, buf.String())
}
