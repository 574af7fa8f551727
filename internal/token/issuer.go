// Package token mints and hashes single-use signing credentials.
//
// The plaintext token only ever appears in the signing link handed to the
// signer. Persistence sees a keyed BLAKE2b-256 digest of it, so a leaked
// signers table cannot be replayed as signing links.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"docsign/backend/pkg/models"
)

// DefaultTTL is how long a freshly issued token stays valid.
const DefaultTTL = 7 * 24 * time.Hour

// tokenBytes is the amount of randomness in a token (256 bits).
const tokenBytes = 32

// ErrNotIssued is returned by IssueIf when the signer was not in the expected state.
var ErrNotIssued = errors.New("token not issued: signer state changed")

// Writer persists token fields for a signer.
type Writer interface {
	UpdateSignerToken(ctx context.Context, signerID, hash string, expiresAt time.Time, onlyIf ...models.TokenStatus) (bool, error)
}

// Token is a freshly minted credential. Plaintext must only be sent to the signer.
type Token struct {
	Plaintext string
	Hash      string
	ExpiresAt time.Time
}

// Issuer mints tokens and derives their storage hash.
type Issuer struct {
	key    []byte
	ttl    time.Duration
	now    func() time.Time
	random func([]byte) (int, error)
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer creates an Issuer. key is the server secret mixed into every hash;
// BLAKE2b accepts keys up to 64 bytes, longer secrets are pre-hashed.
func NewIssuer(key []byte, opts ...Option) *Issuer {
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	i := &Issuer{key: key, ttl: DefaultTTL, now: time.Now, random: rand.Read}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// TTL returns the configured token lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Hash derives the stored form of a plaintext token.
func (i *Issuer) Hash(plaintext string) string {
	h, err := blake2b.New256(i.key)
	if err != nil {
		// only possible with a key over 64 bytes, which NewIssuer prevents
		panic(fmt.Sprintf("blake2b: %v", err))
	}
	h.Write([]byte(plaintext))
	return hex.EncodeToString(h.Sum(nil))
}

// Mint generates a token without persisting it.
func (i *Issuer) Mint() (Token, error) {
	buf := make([]byte, tokenBytes)
	if _, err := i.random(buf); err != nil {
		return Token{}, fmt.Errorf("failed to read random bytes: %w", err)
	}
	plaintext := base64.RawURLEncoding.EncodeToString(buf)
	return Token{
		Plaintext: plaintext,
		Hash:      i.Hash(plaintext),
		ExpiresAt: i.now().Add(i.ttl).UTC(),
	}, nil
}

// Issue mints a token for signerID and persists it, replacing any previous
// token. The previous token stops matching because its hash is overwritten.
func (i *Issuer) Issue(ctx context.Context, w Writer, signerID string) (Token, error) {
	t, err := i.Mint()
	if err != nil {
		return Token{}, err
	}
	ok, err := w.UpdateSignerToken(ctx, signerID, t.Hash, t.ExpiresAt)
	if err != nil {
		return Token{}, fmt.Errorf("failed to store signing token: %w", err)
	}
	if !ok {
		return Token{}, fmt.Errorf("signer %s: %w", signerID, ErrNotIssued)
	}
	return t, nil
}

// IssueIf is Issue guarded by the signer's current token status. It returns
// ErrNotIssued when the signer is no longer in status from, which makes
// repeated hand-offs to the same signer a no-op.
func (i *Issuer) IssueIf(ctx context.Context, w Writer, signerID string, from models.TokenStatus) (Token, error) {
	t, err := i.Mint()
	if err != nil {
		return Token{}, err
	}
	ok, err := w.UpdateSignerToken(ctx, signerID, t.Hash, t.ExpiresAt, from)
	if err != nil {
		return Token{}, fmt.Errorf("failed to store signing token: %w", err)
	}
	if !ok {
		return Token{}, fmt.Errorf("signer %s: %w", signerID, ErrNotIssued)
	}
	return t, nil
}
