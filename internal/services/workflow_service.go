package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"docsign/backend/internal/notify"
	"docsign/backend/internal/observability"
	"docsign/backend/internal/repository"
	"docsign/backend/internal/signing"
	"docsign/backend/internal/token"
	"docsign/backend/pkg/models"
)

var tracer = otel.Tracer("docsign/services")

// CompleteInput is a signer's submission.
type CompleteInput struct {
	Token  string
	Values map[string]*string
	IP     string
}

// Outcome describes what happened to the document after a signer finished.
type Outcome string

const (
	// OutcomeHandedOff means the next signer received a token.
	OutcomeHandedOff Outcome = "handed_off"
	// OutcomeCompleted means the document was completed and rendering queued.
	OutcomeCompleted Outcome = "completed"
	// OutcomeWaiting means the active signer already holds a live token.
	OutcomeWaiting Outcome = "waiting"
	// OutcomeNoop means another request already advanced the document.
	OutcomeNoop Outcome = "noop"
	// OutcomeDeferred means advancing failed and is left for reconciliation.
	OutcomeDeferred Outcome = "deferred"
)

// CompleteResult reports a completed signing turn.
type CompleteResult struct {
	DocumentID string
	SignerID   string
	Outcome    Outcome
	// NextOrder is set when the turn was handed to another signer.
	NextOrder int
	// Ignored lists submitted field ids that were not assigned to the signer.
	Ignored []string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRenderWaker sets the worker to nudge when a document completes.
func WithRenderWaker(w RenderWaker) EngineOption {
	return func(e *Engine) { e.waker = w }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// Engine moves a document through its signing order.
type Engine struct {
	store     repository.Store
	validator SessionValidator
	issuer    TokenIssuer
	notifier  Notifier
	waker     RenderWaker
	metrics   *observability.Metrics
	logger    Logger
	now       func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(store repository.Store, validator SessionValidator, issuer TokenIssuer, notifier Notifier, logger Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		validator: validator,
		issuer:    issuer,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Complete records a signer's field values and marks their turn done, then
// advances the document. Everything up to and including the signer's
// completion commits atomically; advancing afterwards is best-effort and a
// failure there never undoes the completion.
func (e *Engine) Complete(ctx context.Context, in CompleteInput) (*CompleteResult, error) {
	ctx, span := tracer.Start(ctx, "Engine.Complete")
	defer span.End()

	res, err := e.complete(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, signing.KindOf(err).String())
	}
	return res, err
}

func (e *Engine) complete(ctx context.Context, in CompleteInput) (*CompleteResult, error) {
	const op = "complete signing"

	sess, err := e.validator.Validate(ctx, in.Token)
	if err != nil {
		return nil, err
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("document.id", sess.DocumentID),
		attribute.String("signer.id", sess.SignerID),
	)
	log := e.logger

	assigned, err := e.store.ListAssignedFields(ctx, sess.DocumentID, sess.SignerEmail)
	if err != nil {
		return nil, signing.E(signing.KindPersistence, op, fmt.Errorf("failed to load fields: %w", err))
	}
	sub, err := signing.ValidateSubmission(assigned, in.Values)
	if err != nil {
		return nil, err
	}
	if len(sub.Ignored) > 0 {
		log.Warn("ignoring field ids not assigned to signer",
			"document_id", sess.DocumentID, "signer_id", sess.SignerID, "field_ids", sub.Ignored)
	}

	var ip *string
	if in.IP != "" {
		ip = &in.IP
	}
	signedAt := e.now().UTC()

	err = e.store.WithTx(ctx, func(tx repository.Store) error {
		ok, err := tx.CompleteSigner(ctx, repository.SignerCompletion{
			SignerID:  sess.SignerID,
			TokenHash: sess.TokenHash,
			SignedAt:  signedAt,
			IPAddress: ip,
		})
		if err != nil {
			return signing.E(signing.KindPersistence, op, fmt.Errorf("failed to complete signer: %w", err))
		}
		if !ok {
			return e.lostCompletion(ctx, tx, sess, signedAt)
		}

		for id, value := range sub.Values {
			ok, err := tx.SetFieldValue(ctx, id, sess.DocumentID, sess.SignerEmail, value)
			if err != nil {
				return signing.E(signing.KindPersistence, op, fmt.Errorf("failed to update field %s: %w", id, err))
			}
			if !ok {
				log.Warn("field already had a value", "document_id", sess.DocumentID, "field_id", id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.SigningCompleted(ctx)
	log.Info("signer completed", "document_id", sess.DocumentID, "signer_id", sess.SignerID, "order", sess.Order)

	res := &CompleteResult{DocumentID: sess.DocumentID, SignerID: sess.SignerID, Ignored: sub.Ignored}
	res.Outcome, res.NextOrder, err = e.advance(ctx, sess.DocumentID, sess.Order)
	if err != nil {
		log.Error("failed to advance document; run reconcile to resume",
			"document_id", sess.DocumentID, "completed_order", sess.Order, "error", err)
		res.Outcome = OutcomeDeferred
	}
	return res, nil
}

// lostCompletion explains why the signer CAS matched nothing: the token was
// completed by a concurrent request or it expired after validation.
func (e *Engine) lostCompletion(ctx context.Context, tx repository.Store, sess *signing.Session, at time.Time) error {
	const op = "complete signing"
	current, err := tx.GetSignerByTokenHash(ctx, sess.TokenHash)
	if errors.Is(err, repository.ErrNotFound) {
		// reissued in the meantime
		return signing.E(signing.KindAuthz, op, signing.ErrTokenNotFound)
	}
	if err != nil {
		return signing.E(signing.KindPersistence, op, err)
	}
	if current.TokenStatus == models.TokenStatusExpired ||
		(current.TokenStatus == models.TokenStatusPending && current.Expired(at)) {
		return &signing.Error{Kind: signing.KindAuthz, Op: op, TokenStatus: models.TokenStatusExpired, Err: signing.ErrTokenExpired}
	}
	return &signing.Error{Kind: signing.KindAuthz, Op: op, TokenStatus: current.TokenStatus, Err: signing.ErrTokenNotPending}
}

// advance hands the document to the signer after order, or completes it when
// order was the last position.
func (e *Engine) advance(ctx context.Context, documentID string, order int) (Outcome, int, error) {
	next, err := e.store.GetSignerByOrder(ctx, documentID, order+1)
	if errors.Is(err, repository.ErrNotFound) {
		return e.finalize(ctx, documentID)
	}
	if err != nil {
		return "", 0, fmt.Errorf("failed to load next signer: %w", err)
	}
	return e.handOff(ctx, documentID, next, models.TokenStatusNone)
}

// handOff issues a token to signer if its status is still from and invites
// them. Only one caller wins the conditional issue.
func (e *Engine) handOff(ctx context.Context, documentID string, signer *models.Signer, from models.TokenStatus) (Outcome, int, error) {
	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return "", 0, fmt.Errorf("failed to load document: %w", err)
	}

	tok, err := e.issuer.IssueIf(ctx, e.store, signer.ID, from)
	if errors.Is(err, token.ErrNotIssued) {
		e.logger.Debug("signer already holds a token", "document_id", documentID, "signer_id", signer.ID)
		return OutcomeNoop, signer.Order, nil
	}
	if err != nil {
		return "", 0, err
	}

	e.invite(ctx, doc, signer, tok)
	e.logger.Info("handed document to next signer", "document_id", documentID, "signer_id", signer.ID, "order", signer.Order)
	return OutcomeHandedOff, signer.Order, nil
}

func (e *Engine) invite(ctx context.Context, doc *models.Document, signer *models.Signer, tok token.Token) {
	err := e.notifier.SendInvitation(ctx, notify.Invitation{
		To:           signer.Email,
		DocumentName: doc.DisplayName(),
		Token:        tok.Plaintext,
		ExpiresAt:    tok.ExpiresAt,
	})
	if err != nil {
		e.metrics.NotificationFailed(ctx, "invitation")
		e.logger.Warn("failed to send invitation", "document_id", doc.ID, "signer_id", signer.ID, "error", err)
	}
}

// finalize moves the document from sent to completed and queues rendering in
// one transaction. The status CAS makes sure only one caller queues the job.
func (e *Engine) finalize(ctx context.Context, documentID string) (Outcome, int, error) {
	finalized := false
	err := e.store.WithTx(ctx, func(tx repository.Store) error {
		ok, err := tx.UpdateDocumentStatus(ctx, documentID, models.DocumentStatusCompleted, models.DocumentStatusSent)
		if err != nil {
			return fmt.Errorf("failed to complete document: %w", err)
		}
		if !ok {
			return nil
		}
		finalized = true
		return tx.EnqueueRender(ctx, documentID, e.now())
	})
	if err != nil {
		return "", 0, err
	}
	if !finalized {
		return OutcomeNoop, 0, nil
	}

	e.metrics.DocumentCompleted(ctx)
	e.logger.Info("document completed; render queued", "document_id", documentID)
	if e.waker != nil {
		e.waker.Wake()
	}
	return OutcomeCompleted, 0, nil
}

// ResumeResult reports what Resume did.
type ResumeResult struct {
	DocumentID string  `json:"document_id"`
	Outcome    Outcome `json:"outcome"`
	// ActiveOrder is the position of the signer now expected to act.
	ActiveOrder int `json:"active_order,omitempty"`
}

// Resume re-derives where a document stands and re-runs the step that should
// have followed. It never rewinds completed signers. It reissues a token to the
// active signer when theirs expired or was never issued, completes a document
// whose signers are all done, and requeues rendering for a completed document
// that has no render job.
func (e *Engine) Resume(ctx context.Context, documentID string) (*ResumeResult, error) {
	const op = "resume document"
	ctx, span := tracer.Start(ctx, "Engine.Resume", trace.WithAttributes(attribute.String("document.id", documentID)))
	defer span.End()

	doc, err := e.store.GetDocument(ctx, documentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, signing.E(signing.KindNotFound, op, signing.ErrDocumentNotFound)
	}
	if err != nil {
		return nil, signing.E(signing.KindPersistence, op, err)
	}
	res := &ResumeResult{DocumentID: documentID}

	switch doc.Status {
	case models.DocumentStatusCompleted:
		res.Outcome, err = e.ensureRenderJob(ctx, documentID)
		if err != nil {
			return nil, signing.E(signing.KindPersistence, op, err)
		}
		return res, nil
	case models.DocumentStatusSent:
	default:
		return nil, signing.E(signing.KindConflict, op, fmt.Errorf("%w: status is %s", signing.ErrInvalidState, doc.Status))
	}

	signers, err := e.store.ListSigners(ctx, documentID)
	if err != nil {
		return nil, signing.E(signing.KindPersistence, op, err)
	}
	var active *models.Signer
	for i := range signers {
		if signers[i].TokenStatus != models.TokenStatusCompleted {
			active = &signers[i]
			break
		}
	}

	if active == nil {
		res.Outcome, _, err = e.finalize(ctx, documentID)
	} else {
		res.ActiveOrder = active.Order
		res.Outcome, err = e.resumeSigner(ctx, documentID, active)
	}
	if err != nil {
		span.RecordError(err)
		return nil, signing.E(signing.KindPersistence, op, err)
	}
	e.logger.Info("resumed document", "document_id", documentID, "outcome", res.Outcome, "active_order", res.ActiveOrder)
	return res, nil
}

func (e *Engine) resumeSigner(ctx context.Context, documentID string, signer *models.Signer) (Outcome, error) {
	now := e.now()
	from := signer.TokenStatus
	if from == models.TokenStatusPending {
		if !signer.Expired(now) {
			return OutcomeWaiting, nil
		}
		if _, err := e.store.ExpireSignerToken(ctx, signer.ID, now); err != nil {
			return "", err
		}
		from = models.TokenStatusExpired
	}
	outcome, _, err := e.handOff(ctx, documentID, signer, from)
	return outcome, err
}

func (e *Engine) ensureRenderJob(ctx context.Context, documentID string) (Outcome, error) {
	_, err := e.store.GetRenderJob(ctx, documentID)
	if err == nil {
		return OutcomeNoop, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return "", err
	}
	if err := e.store.EnqueueRender(ctx, documentID, e.now()); err != nil {
		return "", err
	}
	if e.waker != nil {
		e.waker.Wake()
	}
	return OutcomeCompleted, nil
}
