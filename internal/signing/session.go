package signing

import (
	"context"
	"errors"
	"time"

	"docsign/backend/internal/repository"
	"docsign/backend/pkg/models"
)

// Session is an authenticated signing turn.
type Session struct {
	SignerID    string
	DocumentID  string
	SignerEmail string
	Order       int
	TokenHash   string
	ExpiresAt   time.Time
}

// SignerLookup is the persistence needed to validate a token.
type SignerLookup interface {
	GetSignerByTokenHash(ctx context.Context, hash string) (*models.Signer, error)
	ExpireSignerToken(ctx context.Context, signerID string, now time.Time) (bool, error)
}

// Hasher derives the stored form of a token.
type Hasher interface {
	Hash(plaintext string) string
}

// Logger is the subset of the application logger used here.
type Logger interface {
	Warn(msg string, args ...any)
}

// Validator authenticates a signing request against its token.
type Validator struct {
	store  SignerLookup
	hasher Hasher
	logger Logger
	now    func() time.Time
}

// NewValidator creates a Validator.
func NewValidator(store SignerLookup, hasher Hasher, logger Logger) *Validator {
	return &Validator{store: store, hasher: hasher, logger: logger, now: time.Now}
}

// SetClock overrides the time source.
func (v *Validator) SetClock(now func() time.Time) { v.now = now }

// Validate resolves token to a Session. Expiry is checked lazily here; an
// overdue token still reading pending is rejected and marked expired.
func (v *Validator) Validate(ctx context.Context, token string) (*Session, error) {
	const op = "validate token"
	if token == "" {
		return nil, E(KindAuthz, op, ErrTokenNotFound)
	}

	hash := v.hasher.Hash(token)
	signer, err := v.store.GetSignerByTokenHash(ctx, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, E(KindAuthz, op, ErrTokenNotFound)
	}
	if err != nil {
		return nil, E(KindPersistence, op, err)
	}

	switch signer.TokenStatus {
	case models.TokenStatusPending:
	case models.TokenStatusExpired:
		return nil, &Error{Kind: KindAuthz, Op: op, TokenStatus: models.TokenStatusExpired, Err: ErrTokenExpired}
	default:
		return nil, &Error{Kind: KindAuthz, Op: op, TokenStatus: signer.TokenStatus, Err: ErrTokenNotPending}
	}

	now := v.now()
	if signer.TokenExpiresAt == nil || signer.Expired(now) {
		if _, err := v.store.ExpireSignerToken(ctx, signer.ID, now); err != nil && v.logger != nil {
			v.logger.Warn("failed to mark token expired", "signer_id", signer.ID, "error", err)
		}
		return nil, &Error{Kind: KindAuthz, Op: op, TokenStatus: models.TokenStatusExpired, Err: ErrTokenExpired}
	}

	return &Session{
		SignerID:    signer.ID,
		DocumentID:  signer.DocumentID,
		SignerEmail: signer.Email,
		Order:       signer.Order,
		TokenHash:   hash,
		ExpiresAt:   *signer.TokenExpiresAt,
	}, nil
}
