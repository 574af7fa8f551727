package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"docsign/backend/pkg/models"
)

//go:embed schema.sql
var Schema string

// uniqueViolationCode is the SQLSTATE for unique_violation.
const uniqueViolationCode = "23505"

// renderLease is how long a claimed job stays invisible to other workers.
const renderLease = 10 * time.Minute

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is a PostgreSQL implementation of the Store interface.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   querier
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// WithTx runs fn in a transaction. Nested calls reuse the outer transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&PostgresStore{db: tx})
	})
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// GetOwner retrieves an owner by id.
func (s *PostgresStore) GetOwner(ctx context.Context, id string) (*models.Owner, error) {
	var o models.Owner
	err := s.db.QueryRow(ctx, "SELECT id, email, name, created_at FROM owners WHERE id = $1", id).
		Scan(&o.ID, &o.Email, &o.Name, &o.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

// GetOwnerByEmail retrieves an owner by email.
func (s *PostgresStore) GetOwnerByEmail(ctx context.Context, email string) (*models.Owner, error) {
	var o models.Owner
	err := s.db.QueryRow(ctx, "SELECT id, email, name, created_at FROM owners WHERE email = $1", email).
		Scan(&o.ID, &o.Email, &o.Name, &o.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

// CreateOwner inserts a new owner.
func (s *PostgresStore) CreateOwner(ctx context.Context, owner *models.Owner) error {
	if owner.ID == "" {
		owner.ID = uuid.NewString()
	}
	return s.db.QueryRow(ctx,
		"INSERT INTO owners (id, email, name) VALUES ($1, $2, $3) RETURNING created_at",
		owner.ID, owner.Email, owner.Name).Scan(&owner.CreatedAt)
}

// CreateDocument inserts a new document.
func (s *PostgresStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Status == "" {
		doc.Status = models.DocumentStatusDraft
	}
	return s.db.QueryRow(ctx,
		`INSERT INTO documents (id, name, source_path, owner_id, status)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at, updated_at`,
		doc.ID, doc.Name, doc.SourcePath, doc.OwnerID, string(doc.Status)).Scan(&doc.CreatedAt, &doc.UpdatedAt)
}

// GetDocument retrieves a document by id.
func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var d models.Document
	var status string
	err := s.db.QueryRow(ctx,
		`SELECT id, name, source_path, owner_id, status, created_at, updated_at, completed_at
		 FROM documents WHERE id = $1`, id).
		Scan(&d.ID, &d.Name, &d.SourcePath, &d.OwnerID, &status, &d.CreatedAt, &d.UpdatedAt, &d.CompletedAt)
	if err != nil {
		return nil, notFound(err)
	}
	d.Status = models.DocumentStatus(status)
	return &d, nil
}

// UpdateDocumentStatus performs a conditional status transition.
func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, id string, to models.DocumentStatus, from ...models.DocumentStatus) (bool, error) {
	allowed := make([]string, 0, len(from))
	for _, f := range from {
		allowed = append(allowed, string(f))
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE documents
		 SET status = $2,
		     updated_at = now(),
		     completed_at = CASE WHEN $2 = 'completed' THEN now() ELSE completed_at END
		 WHERE id = $1 AND (cardinality($3::text[]) = 0 OR status = ANY($3::text[]))`,
		id, string(to), allowed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteDocument removes a document; signers, fields and jobs cascade.
func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM documents WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplacePreparation deletes previous signers and fields and inserts the new set.
func (s *PostgresStore) ReplacePreparation(ctx context.Context, p Preparation) error {
	if _, err := s.db.Exec(ctx, "DELETE FROM document_fields WHERE document_id = $1", p.DocumentID); err != nil {
		return fmt.Errorf("failed to clear fields: %w", err)
	}
	if _, err := s.db.Exec(ctx, "DELETE FROM document_signers WHERE document_id = $1", p.DocumentID); err != nil {
		return fmt.Errorf("failed to clear signers: %w", err)
	}
	for _, sg := range p.Signers {
		_, err := s.db.Exec(ctx,
			`INSERT INTO document_signers (id, document_id, email, signing_order, token_status)
			 VALUES ($1, $2, $3, $4, 'none')`,
			sg.ID, p.DocumentID, sg.Email, sg.Order)
		if err != nil {
			return fmt.Errorf("failed to insert signer %s: %w", sg.Email, uniqueViolation(err))
		}
	}
	for _, f := range p.Fields {
		_, err := s.db.Exec(ctx,
			`INSERT INTO document_fields
			 (id, document_id, type, page_number, x, y, width, height, required, assigned_signer_email)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			f.ID, p.DocumentID, string(f.Type), f.PageNumber, f.X, f.Y, f.Width, f.Height, f.Required, f.AssignedSignerEmail)
		if err != nil {
			return fmt.Errorf("failed to insert field %s: %w", f.ID, uniqueViolation(err))
		}
	}
	return nil
}

// uniqueViolation maps a unique or primary key violation to ErrConflict.
func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

const signerColumns = `id, document_id, email, signing_order, token_hash, token_status,
	token_expires_at, signed_at, ip_address`

func scanSigner(row pgx.Row) (*models.Signer, error) {
	var sg models.Signer
	var status string
	err := row.Scan(&sg.ID, &sg.DocumentID, &sg.Email, &sg.Order, &sg.TokenHash, &status,
		&sg.TokenExpiresAt, &sg.SignedAt, &sg.IPAddress)
	if err != nil {
		return nil, notFound(err)
	}
	sg.TokenStatus = models.TokenStatus(status)
	return &sg, nil
}

func (s *PostgresStore) querySigners(ctx context.Context, sql string, args ...any) ([]models.Signer, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signers []models.Signer
	for rows.Next() {
		sg, err := scanSigner(rows)
		if err != nil {
			return nil, err
		}
		signers = append(signers, *sg)
	}
	return signers, rows.Err()
}

// GetSignerByTokenHash retrieves the signer holding a token.
func (s *PostgresStore) GetSignerByTokenHash(ctx context.Context, hash string) (*models.Signer, error) {
	return scanSigner(s.db.QueryRow(ctx,
		"SELECT "+signerColumns+" FROM document_signers WHERE token_hash = $1", hash))
}

// GetSignerByOrder retrieves a signer by document and position.
func (s *PostgresStore) GetSignerByOrder(ctx context.Context, documentID string, order int) (*models.Signer, error) {
	return scanSigner(s.db.QueryRow(ctx,
		"SELECT "+signerColumns+" FROM document_signers WHERE document_id = $1 AND signing_order = $2",
		documentID, order))
}

// ListSigners returns all signers of a document.
func (s *PostgresStore) ListSigners(ctx context.Context, documentID string) ([]models.Signer, error) {
	return s.querySigners(ctx,
		"SELECT "+signerColumns+" FROM document_signers WHERE document_id = $1 ORDER BY signing_order",
		documentID)
}

// ListCompletedSigners returns completed signers ordered by position.
func (s *PostgresStore) ListCompletedSigners(ctx context.Context, documentID string) ([]models.Signer, error) {
	return s.querySigners(ctx,
		"SELECT "+signerColumns+` FROM document_signers
		 WHERE document_id = $1 AND token_status = 'completed' ORDER BY signing_order`,
		documentID)
}

// UpdateSignerToken stores a new token hash, marking it pending.
func (s *PostgresStore) UpdateSignerToken(ctx context.Context, signerID, hash string, expiresAt time.Time, onlyIf ...models.TokenStatus) (bool, error) {
	allowed := make([]string, 0, len(onlyIf))
	for _, st := range onlyIf {
		allowed = append(allowed, string(st))
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE document_signers
		 SET token_hash = $2, token_status = 'pending', token_expires_at = $3
		 WHERE id = $1 AND (cardinality($4::text[]) = 0 OR token_status = ANY($4::text[]))`,
		signerID, hash, expiresAt, allowed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteSigner is the compare-and-swap that records a signer's completion.
func (s *PostgresStore) CompleteSigner(ctx context.Context, c SignerCompletion) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE document_signers
		 SET token_status = 'completed', signed_at = $3, ip_address = $4
		 WHERE id = $1 AND token_hash = $2 AND token_status = 'pending'
		   AND (token_expires_at IS NULL OR token_expires_at >= $3)`,
		c.SignerID, c.TokenHash, c.SignedAt, c.IPAddress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireSignerToken marks an overdue pending token expired.
func (s *PostgresStore) ExpireSignerToken(ctx context.Context, signerID string, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE document_signers SET token_status = 'expired'
		 WHERE id = $1 AND token_status = 'pending' AND token_expires_at < $2`,
		signerID, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const fieldColumns = `id, document_id, type, page_number, x, y, width, height, required,
	assigned_signer_email, value`

func (s *PostgresStore) queryFields(ctx context.Context, sql string, args ...any) ([]models.Field, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fields []models.Field
	for rows.Next() {
		var f models.Field
		var typ string
		if err := rows.Scan(&f.ID, &f.DocumentID, &typ, &f.PageNumber, &f.X, &f.Y, &f.Width, &f.Height,
			&f.Required, &f.AssignedSignerEmail, &f.Value); err != nil {
			return nil, err
		}
		f.Type = models.FieldType(typ)
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

// ListAssignedFields returns fields assigned to a signer email.
func (s *PostgresStore) ListAssignedFields(ctx context.Context, documentID, email string) ([]models.Field, error) {
	return s.queryFields(ctx,
		"SELECT "+fieldColumns+` FROM document_fields
		 WHERE document_id = $1 AND assigned_signer_email = $2 ORDER BY page_number, y, x`,
		documentID, email)
}

// ListValuedFields returns every field of a document carrying a value.
func (s *PostgresStore) ListValuedFields(ctx context.Context, documentID string) ([]models.Field, error) {
	return s.queryFields(ctx,
		"SELECT "+fieldColumns+` FROM document_fields
		 WHERE document_id = $1 AND value IS NOT NULL ORDER BY page_number, y, x`,
		documentID)
}

// SetFieldValue writes a field value once.
func (s *PostgresStore) SetFieldValue(ctx context.Context, fieldID, documentID, email, value string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE document_fields SET value = $4
		 WHERE id = $1 AND document_id = $2 AND assigned_signer_email = $3 AND value IS NULL`,
		fieldID, documentID, email, value)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// EnqueueRender upserts the render job for a document.
func (s *PostgresStore) EnqueueRender(ctx context.Context, documentID string, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO render_jobs (document_id, status, attempts, next_attempt_at, updated_at)
		 VALUES ($1, 'queued', 0, $2, now())
		 ON CONFLICT (document_id) DO UPDATE SET
		   status = 'queued', attempts = 0, last_error = NULL,
		   next_attempt_at = EXCLUDED.next_attempt_at, updated_at = now()`,
		documentID, at)
	return err
}

// ClaimRenderJob locks the next due job. Running jobs whose lease lapsed are
// picked up again.
func (s *PostgresStore) ClaimRenderJob(ctx context.Context, now time.Time) (*models.RenderJob, error) {
	var j models.RenderJob
	var status string
	err := s.db.QueryRow(ctx,
		`UPDATE render_jobs SET status = 'running', attempts = attempts + 1,
		        next_attempt_at = $2, updated_at = now()
		 WHERE document_id = (
		   SELECT document_id FROM render_jobs
		   WHERE status IN ('queued', 'running') AND next_attempt_at <= $1
		   ORDER BY next_attempt_at
		   FOR UPDATE SKIP LOCKED
		   LIMIT 1)
		 RETURNING document_id, status, attempts, last_error, next_attempt_at, updated_at`,
		now, now.Add(renderLease)).
		Scan(&j.DocumentID, &status, &j.Attempts, &j.LastError, &j.NextAttemptAt, &j.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	j.Status = models.RenderJobStatus(status)
	return &j, nil
}

// FinishRenderJob marks a job done.
func (s *PostgresStore) FinishRenderJob(ctx context.Context, documentID string) error {
	_, err := s.db.Exec(ctx,
		"UPDATE render_jobs SET status = 'done', last_error = NULL, updated_at = now() WHERE document_id = $1",
		documentID)
	return err
}

// FailRenderJob records a failed attempt.
func (s *PostgresStore) FailRenderJob(ctx context.Context, documentID, reason string, retryAt time.Time) error {
	if retryAt.IsZero() {
		_, err := s.db.Exec(ctx,
			"UPDATE render_jobs SET status = 'failed', last_error = $2, updated_at = now() WHERE document_id = $1",
			documentID, reason)
		return err
	}
	_, err := s.db.Exec(ctx,
		`UPDATE render_jobs SET status = 'queued', last_error = $2, next_attempt_at = $3, updated_at = now()
		 WHERE document_id = $1`,
		documentID, reason, retryAt)
	return err
}

// GetRenderJob retrieves the job for a document.
func (s *PostgresStore) GetRenderJob(ctx context.Context, documentID string) (*models.RenderJob, error) {
	var j models.RenderJob
	var status string
	err := s.db.QueryRow(ctx,
		`SELECT document_id, status, attempts, last_error, next_attempt_at, updated_at
		 FROM render_jobs WHERE document_id = $1`, documentID).
		Scan(&j.DocumentID, &status, &j.Attempts, &j.LastError, &j.NextAttemptAt, &j.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	j.Status = models.RenderJobStatus(status)
	return &j, nil
}

var _ Store = (*PostgresStore)(nil)
