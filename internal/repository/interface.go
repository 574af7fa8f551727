package repository

import (
	"context"
	"errors"
	"time"

	"docsign/backend/pkg/models"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write collides with an existing key,
	// such as a field id already used by another document.
	ErrConflict = errors.New("key already in use")
)

// SignerCompletion carries the values written when a signer finishes.
type SignerCompletion struct {
	SignerID  string
	TokenHash string
	SignedAt  time.Time
	IPAddress *string
}

// Preparation replaces the signers and fields of a document.
type Preparation struct {
	DocumentID string
	Signers    []models.Signer
	Fields     []models.Field
}

// Store is the persistence collaborator of the signing workflow.
type Store interface {
	// WithTx runs fn inside a transaction. fn receives a Store bound to the
	// transaction; returning an error rolls everything back.
	WithTx(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error

	// GetOwner retrieves an owner by id.
	GetOwner(ctx context.Context, id string) (*models.Owner, error)
	// GetOwnerByEmail retrieves an owner by email.
	GetOwnerByEmail(ctx context.Context, email string) (*models.Owner, error)
	// CreateOwner inserts a new owner, assigning its id.
	CreateOwner(ctx context.Context, owner *models.Owner) error

	// CreateDocument inserts a new document, assigning its id if empty.
	CreateDocument(ctx context.Context, doc *models.Document) error
	// GetDocument retrieves a document by id.
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	// UpdateDocumentStatus moves a document to status `to` only if it is
	// currently in one of `from`. It reports whether a row changed.
	UpdateDocumentStatus(ctx context.Context, id string, to models.DocumentStatus, from ...models.DocumentStatus) (bool, error)
	// DeleteDocument removes a document with its signers and fields.
	DeleteDocument(ctx context.Context, id string) error
	// ReplacePreparation swaps the signers and fields of a document. Field or
	// signer ids used by another document yield ErrConflict.
	ReplacePreparation(ctx context.Context, p Preparation) error

	// GetSignerByTokenHash retrieves the signer holding the token.
	GetSignerByTokenHash(ctx context.Context, hash string) (*models.Signer, error)
	// GetSignerByOrder retrieves the signer at position order of a document.
	GetSignerByOrder(ctx context.Context, documentID string, order int) (*models.Signer, error)
	// ListSigners returns all signers of a document ordered by position.
	ListSigners(ctx context.Context, documentID string) ([]models.Signer, error)
	// ListCompletedSigners returns completed signers ordered by position.
	ListCompletedSigners(ctx context.Context, documentID string) ([]models.Signer, error)
	// UpdateSignerToken stores a fresh token for a signer and marks it pending.
	// With onlyIf set the write happens only when the current token status is
	// one of the given values. It reports whether a row changed.
	UpdateSignerToken(ctx context.Context, signerID, hash string, expiresAt time.Time, onlyIf ...models.TokenStatus) (bool, error)
	// CompleteSigner moves a pending, unexpired token to completed and records
	// signedAt and the IP. It reports false when the token was not pending
	// any more, which is how concurrent double submissions are detected.
	CompleteSigner(ctx context.Context, c SignerCompletion) (bool, error)
	// ExpireSignerToken marks a pending token expired if its expiry passed.
	ExpireSignerToken(ctx context.Context, signerID string, now time.Time) (bool, error)

	// ListAssignedFields returns the fields of a document assigned to email.
	ListAssignedFields(ctx context.Context, documentID, email string) ([]models.Field, error)
	// ListValuedFields returns every field of a document that has a value.
	ListValuedFields(ctx context.Context, documentID string) ([]models.Field, error)
	// SetFieldValue writes the value of a field once, scoped by document and
	// assigned signer email. It reports false when nothing matched.
	SetFieldValue(ctx context.Context, fieldID, documentID, email, value string) (bool, error)

	// EnqueueRender schedules (or reschedules) rendering for a document.
	EnqueueRender(ctx context.Context, documentID string, at time.Time) error
	// ClaimRenderJob takes the next due job and marks it running.
	ClaimRenderJob(ctx context.Context, now time.Time) (*models.RenderJob, error)
	// FinishRenderJob marks a job done.
	FinishRenderJob(ctx context.Context, documentID string) error
	// FailRenderJob records a failed attempt. A zero retryAt marks the job
	// failed for good.
	FailRenderJob(ctx context.Context, documentID, reason string, retryAt time.Time) error
	// GetRenderJob retrieves the job for a document.
	GetRenderJob(ctx context.Context, documentID string) (*models.RenderJob, error)
}
