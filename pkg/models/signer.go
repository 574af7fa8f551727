package models

import (
	"time"
)

// TokenStatus is the lifecycle state of a signer's current signing token.
type TokenStatus string

const (
	TokenStatusNone      TokenStatus = "none"
	TokenStatusPending   TokenStatus = "pending"
	TokenStatusCompleted TokenStatus = "completed"
	TokenStatusExpired   TokenStatus = "expired"
)

// Terminal reports whether no further transition is possible for the token instance.
func (s TokenStatus) Terminal() bool {
	return s == TokenStatusCompleted || s == TokenStatusExpired
}

// Signer is a party that provides values for a subset of a document's fields,
// acting in a fixed position of the signing order.
type Signer struct {
	ID             string      `json:"id"`
	DocumentID     string      `json:"document_id"`
	Email          string      `json:"email"`
	Order          int         `json:"order"`
	TokenHash      *string     `json:"-"`
	TokenStatus    TokenStatus `json:"token_status"`
	TokenExpiresAt *time.Time  `json:"token_expires_at,omitempty"`
	SignedAt       *time.Time  `json:"signed_at,omitempty"`
	IPAddress      *string     `json:"ip_address,omitempty"`
}

// Expired reports whether the token expiry has passed at now.
func (s *Signer) Expired(now time.Time) bool {
	return s.TokenExpiresAt != nil && now.After(*s.TokenExpiresAt)
}

// RenderJobStatus tracks a queued artifact render for a completed document.
type RenderJobStatus string

const (
	RenderJobQueued  RenderJobStatus = "queued"
	RenderJobRunning RenderJobStatus = "running"
	RenderJobDone    RenderJobStatus = "done"
	RenderJobFailed  RenderJobStatus = "failed"
)

// RenderJob is the work item for the rendering pipeline, keyed by document id.
type RenderJob struct {
	DocumentID    string          `json:"document_id"`
	Status        RenderJobStatus `json:"status"`
	Attempts      int             `json:"attempts"`
	LastError     *string         `json:"last_error,omitempty"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
