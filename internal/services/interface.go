package services

import (
	"context"
	"time"

	"docsign/backend/internal/notify"
	"docsign/backend/internal/signing"
	"docsign/backend/internal/token"
	"docsign/backend/pkg/models"
)

// Logger is the structured logger used by the services.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SessionValidator authenticates signing tokens.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (*signing.Session, error)
}

// TokenIssuer mints and persists signing tokens.
type TokenIssuer interface {
	Issue(ctx context.Context, w token.Writer, signerID string) (token.Token, error)
	IssueIf(ctx context.Context, w token.Writer, signerID string, from models.TokenStatus) (token.Token, error)
}

// Notifier delivers invitation emails.
type Notifier interface {
	SendInvitation(ctx context.Context, inv notify.Invitation) error
}

// RenderWaker nudges the render worker after a job is queued.
type RenderWaker interface {
	Wake()
}

// Presigner produces time-limited download links for stored blobs.
type Presigner interface {
	PresignGet(ctx context.Context, path string, ttl time.Duration) (string, error)
}
