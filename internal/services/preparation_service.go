package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"docsign/backend/internal/fields"
	"docsign/backend/internal/notify"
	"docsign/backend/internal/repository"
	"docsign/backend/internal/signing"
	"docsign/backend/internal/token"
	"docsign/backend/pkg/models"
)

// SignerInput is one entry of a document's signing order.
type SignerInput struct {
	Email string `json:"email"`
	Order int    `json:"order"`
}

// FieldInput places a field on a page. Coordinates are in document points
// measured from the top-left corner of the page.
type FieldInput struct {
	ID                  string           `json:"id,omitempty"`
	Type                models.FieldType `json:"type"`
	PageNumber          int              `json:"page_number"`
	X                   float64          `json:"x"`
	Y                   float64          `json:"y"`
	Width               float64          `json:"width"`
	Height              float64          `json:"height"`
	Required            *bool            `json:"required,omitempty"`
	AssignedSignerEmail *string          `json:"assigned_signer_email,omitempty"`
}

// PrepareInput replaces the signers and fields of a document.
type PrepareInput struct {
	Signers []SignerInput `json:"signers"`
	Fields  []FieldInput  `json:"fields"`
}

// DocumentView is a document with its signers, as shown to its owner.
type DocumentView struct {
	Document  *models.Document  `json:"document"`
	Signers   []models.Signer   `json:"signers"`
	RenderJob *models.RenderJob `json:"render_job,omitempty"`
}

// SessionView is what a signer sees when opening their link.
type SessionView struct {
	DocumentID   string         `json:"document_id"`
	DocumentName string         `json:"document_name"`
	SignerEmail  string         `json:"signer_email"`
	Order        int            `json:"order"`
	ExpiresAt    time.Time      `json:"expires_at"`
	Fields       []models.Field `json:"fields"`
	DownloadURL  string         `json:"download_url"`
}

// DocumentService implements the owner-facing document operations and the
// signer's session view.
type DocumentService struct {
	store      repository.Store
	issuer     TokenIssuer
	validator  SessionValidator
	notifier   Notifier
	presigner  Presigner
	sessionTTL time.Duration
	logger     Logger
}

// NewDocumentService creates a DocumentService.
func NewDocumentService(store repository.Store, issuer TokenIssuer, validator SessionValidator, notifier Notifier, presigner Presigner, sessionTTL time.Duration, logger Logger) *DocumentService {
	return &DocumentService{
		store:      store,
		issuer:     issuer,
		validator:  validator,
		notifier:   notifier,
		presigner:  presigner,
		sessionTTL: sessionTTL,
		logger:     logger,
	}
}

// owned loads a document and checks that ownerID owns it.
func owned(ctx context.Context, store repository.Store, op, ownerID, documentID string) (*models.Document, error) {
	doc, err := store.GetDocument(ctx, documentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, signing.E(signing.KindNotFound, op, signing.ErrDocumentNotFound)
	}
	if err != nil {
		return nil, signing.E(signing.KindPersistence, op, err)
	}
	if doc.OwnerID != ownerID {
		return nil, signing.E(signing.KindAuthz, op, signing.ErrForbidden)
	}
	return doc, nil
}

// Prepare validates and stores the signing order and field layout of a
// document, replacing any previous preparation, and marks it ready to send.
func (s *DocumentService) Prepare(ctx context.Context, ownerID, documentID string, in PrepareInput) error {
	const op = "prepare document"

	prep, err := buildPreparation(documentID, in)
	if err != nil {
		return signing.E(signing.KindValidation, op, err)
	}

	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		doc, err := owned(ctx, tx, op, ownerID, documentID)
		if err != nil {
			return err
		}
		if doc.Status != models.DocumentStatusDraft && doc.Status != models.DocumentStatusReadyToSend {
			return signing.E(signing.KindConflict, op, fmt.Errorf("%w: cannot prepare a %s document", signing.ErrInvalidState, doc.Status))
		}
		if err := tx.ReplacePreparation(ctx, prep); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return signing.E(signing.KindValidation, op, fmt.Errorf("%w: %v", signing.ErrInvalidPreparation, err))
			}
			return signing.E(signing.KindPersistence, op, err)
		}
		ok, err := tx.UpdateDocumentStatus(ctx, documentID, models.DocumentStatusReadyToSend,
			models.DocumentStatusDraft, models.DocumentStatusReadyToSend)
		if err != nil {
			return signing.E(signing.KindPersistence, op, err)
		}
		if !ok {
			return signing.E(signing.KindConflict, op, signing.ErrInvalidState)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("document prepared", "document_id", documentID, "signers", len(prep.Signers), "fields", len(prep.Fields))
	return nil
}

func buildPreparation(documentID string, in PrepareInput) (repository.Preparation, error) {
	prep := repository.Preparation{DocumentID: documentID}
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{signing.ErrInvalidPreparation}, args...)...)
	}

	if len(in.Signers) == 0 {
		return prep, invalid("at least one signer is required")
	}

	emails := make(map[string]struct{}, len(in.Signers))
	orders := make(map[int]struct{}, len(in.Signers))
	for _, si := range in.Signers {
		email := normalizeEmail(si.Email)
		if email == "" || !strings.Contains(email, "@") {
			return prep, invalid("invalid signer email %q", si.Email)
		}
		if _, dup := emails[email]; dup {
			return prep, invalid("duplicate signer email %q", email)
		}
		if _, dup := orders[si.Order]; dup {
			return prep, invalid("duplicate signing order %d", si.Order)
		}
		emails[email] = struct{}{}
		orders[si.Order] = struct{}{}
		prep.Signers = append(prep.Signers, models.Signer{
			ID:          uuid.NewString(),
			DocumentID:  documentID,
			Email:       email,
			Order:       si.Order,
			TokenStatus: models.TokenStatusNone,
		})
	}
	for i := 1; i <= len(in.Signers); i++ {
		if _, ok := orders[i]; !ok {
			return prep, invalid("signing order must be 1..%d without gaps; %d is missing", len(in.Signers), i)
		}
	}
	sort.Slice(prep.Signers, func(i, j int) bool { return prep.Signers[i].Order < prep.Signers[j].Order })

	ids := make(map[string]struct{}, len(in.Fields))
	for i, fi := range in.Fields {
		if !fields.Known(fi.Type) {
			return prep, invalid("field %d: %v %q", i, fields.ErrUnknownType, fi.Type)
		}
		if fi.PageNumber < 1 {
			return prep, invalid("field %d: page number must be at least 1", i)
		}
		if fi.Width <= 0 || fi.Height <= 0 {
			return prep, invalid("field %d: width and height must be positive", i)
		}
		if fi.X < 0 || fi.Y < 0 {
			return prep, invalid("field %d: coordinates must not be negative", i)
		}

		id := fi.ID
		if id == "" {
			id = uuid.NewString()
		} else if _, err := uuid.Parse(id); err != nil {
			return prep, invalid("field %d: id %q is not a UUID", i, id)
		}
		if _, dup := ids[id]; dup {
			return prep, invalid("field %d: duplicate id %q", i, id)
		}
		ids[id] = struct{}{}

		var assignee *string
		if fi.AssignedSignerEmail != nil {
			email := normalizeEmail(*fi.AssignedSignerEmail)
			if _, ok := emails[email]; !ok {
				return prep, invalid("field %d: assigned email %q is not a signer", i, *fi.AssignedSignerEmail)
			}
			assignee = &email
		}

		required := true
		if fi.Required != nil {
			required = *fi.Required
		}
		prep.Fields = append(prep.Fields, models.Field{
			ID:                  id,
			DocumentID:          documentID,
			Type:                fi.Type,
			PageNumber:          fi.PageNumber,
			X:                   fi.X,
			Y:                   fi.Y,
			Width:               fi.Width,
			Height:              fi.Height,
			Required:            required,
			AssignedSignerEmail: assignee,
		})
	}
	return prep, nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Send issues the first signer's token and marks the document sent. The
// invitation email is best-effort.
func (s *DocumentService) Send(ctx context.Context, ownerID, documentID string) error {
	const op = "send document"

	var (
		doc   *models.Document
		first *models.Signer
		tok   token.Token
	)
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		doc, err = owned(ctx, tx, op, ownerID, documentID)
		if err != nil {
			return err
		}
		if doc.Status != models.DocumentStatusReadyToSend {
			return signing.E(signing.KindConflict, op, fmt.Errorf("%w: document is %s, expected %s",
				signing.ErrInvalidState, doc.Status, models.DocumentStatusReadyToSend))
		}

		first, err = tx.GetSignerByOrder(ctx, documentID, 1)
		if errors.Is(err, repository.ErrNotFound) {
			return signing.E(signing.KindValidation, op, fmt.Errorf("%w: no first signer", signing.ErrInvalidPreparation))
		}
		if err != nil {
			return signing.E(signing.KindPersistence, op, err)
		}

		tok, err = s.issuer.Issue(ctx, tx, first.ID)
		if err != nil {
			return signing.E(signing.KindPersistence, op, err)
		}

		ok, err := tx.UpdateDocumentStatus(ctx, documentID, models.DocumentStatusSent, models.DocumentStatusReadyToSend)
		if err != nil {
			return signing.E(signing.KindPersistence, op, err)
		}
		if !ok {
			return signing.E(signing.KindConflict, op, signing.ErrInvalidState)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("document sent", "document_id", documentID, "signer_id", first.ID)
	err = s.notifier.SendInvitation(ctx, notify.Invitation{
		To:           first.Email,
		DocumentName: doc.DisplayName(),
		Token:        tok.Plaintext,
		ExpiresAt:    tok.ExpiresAt,
	})
	if err != nil {
		s.logger.Warn("failed to send invitation", "document_id", documentID, "signer_id", first.ID, "error", err)
	}
	return nil
}

// Status returns a document with its signers and render state.
func (s *DocumentService) Status(ctx context.Context, ownerID, documentID string) (*DocumentView, error) {
	const op = "document status"
	doc, err := owned(ctx, s.store, op, ownerID, documentID)
	if err != nil {
		return nil, err
	}
	signers, err := s.store.ListSigners(ctx, documentID)
	if err != nil {
		return nil, signing.E(signing.KindPersistence, op, err)
	}
	view := &DocumentView{Document: doc, Signers: signers}
	job, err := s.store.GetRenderJob(ctx, documentID)
	switch {
	case err == nil:
		view.RenderJob = job
	case !errors.Is(err, repository.ErrNotFound):
		return nil, signing.E(signing.KindPersistence, op, err)
	}
	return view, nil
}

// Delete removes a document and everything attached to it.
func (s *DocumentService) Delete(ctx context.Context, ownerID, documentID string) error {
	const op = "delete document"
	if _, err := owned(ctx, s.store, op, ownerID, documentID); err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return signing.E(signing.KindPersistence, op, err)
	}
	s.logger.Info("document deleted", "document_id", documentID)
	return nil
}

// OpenSession validates a signing token and returns what the signer needs to
// fill in their fields.
func (s *DocumentService) OpenSession(ctx context.Context, plaintext string) (*SessionView, error) {
	const op = "open session"
	sess, err := s.validator.Validate(ctx, plaintext)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(ctx, sess.DocumentID)
	if err != nil {
		return nil, signing.E(signing.KindPersistence, op, err)
	}
	assigned, err := s.store.ListAssignedFields(ctx, sess.DocumentID, sess.SignerEmail)
	if err != nil {
		return nil, signing.E(signing.KindPersistence, op, err)
	}
	url, err := s.presigner.PresignGet(ctx, doc.SourcePath, s.sessionTTL)
	if err != nil {
		return nil, signing.E(signing.KindPersistence, op, fmt.Errorf("failed to sign download url: %w", err))
	}
	return &SessionView{
		DocumentID:   doc.ID,
		DocumentName: doc.DisplayName(),
		SignerEmail:  sess.SignerEmail,
		Order:        sess.Order,
		ExpiresAt:    sess.ExpiresAt,
		Fields:       assigned,
		DownloadURL:  url,
	}, nil
}
