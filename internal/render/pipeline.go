package render

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"docsign/backend/internal/notify"
	"docsign/backend/internal/observability"
	"docsign/backend/internal/repository"
	"docsign/backend/internal/signing"
	"docsign/backend/internal/storage"
	"docsign/backend/pkg/models"
)

var tracer = otel.Tracer("docsign/render")

// CompletionNotifier tells every party that a document is done.
type CompletionNotifier interface {
	SendCompletion(ctx context.Context, c notify.Completion) error
}

// Pipeline renders the executed document and audit certificate for a
// completed document, stores both and notifies the parties.
type Pipeline struct {
	store       repository.Store
	blobs       storage.BlobStore
	stamper     *Stamper
	notifier    CompletionNotifier
	downloadTTL time.Duration
	metrics     *observability.Metrics
	logger      Logger
	now         func() time.Time
	// retry builds the policy for blob transfers.
	retry func() backoff.BackOff
}

// NewPipeline creates a Pipeline.
func NewPipeline(store repository.Store, blobs storage.BlobStore, notifier CompletionNotifier, downloadTTL time.Duration, metrics *observability.Metrics, logger Logger) *Pipeline {
	return &Pipeline{
		store:       store,
		blobs:       blobs,
		stamper:     NewStamper(logger),
		notifier:    notifier,
		downloadTTL: downloadTTL,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
		retry: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 5 * time.Second
			return b
		},
	}
}

// Run renders documentID. Artifacts are overwritten on every run so a retry
// after a partial failure converges on the same result. Errors that a retry
// cannot fix are wrapped with backoff.Permanent.
func (p *Pipeline) Run(ctx context.Context, documentID string) error {
	ctx, span := tracer.Start(ctx, "Pipeline.Run", trace.WithAttributes(attribute.String("document.id", documentID)))
	defer span.End()

	start := p.now()
	err := p.run(ctx, documentID)
	p.metrics.RenderDuration(ctx, p.now().Sub(start))
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (p *Pipeline) run(ctx context.Context, documentID string) error {
	const op = "render document"
	fail := func(err error) error { return signing.E(signing.KindRender, op, err) }

	doc, err := p.store.GetDocument(ctx, documentID)
	if errors.Is(err, repository.ErrNotFound) {
		return backoff.Permanent(fail(fmt.Errorf("document %s: %w", documentID, signing.ErrDocumentNotFound)))
	}
	if err != nil {
		return fail(err)
	}
	if doc.Status != models.DocumentStatusCompleted {
		return backoff.Permanent(fail(fmt.Errorf("%w: document is %s", signing.ErrInvalidState, doc.Status)))
	}

	valued, err := p.store.ListValuedFields(ctx, documentID)
	if err != nil {
		return fail(fmt.Errorf("failed to load field values: %w", err))
	}
	signers, err := p.store.ListCompletedSigners(ctx, documentID)
	if err != nil {
		return fail(fmt.Errorf("failed to load signers: %w", err))
	}

	var src []byte
	err = p.transfer(ctx, func() error {
		var err error
		src, err = p.blobs.Download(ctx, doc.SourcePath)
		if errors.Is(err, storage.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		return p.classify(fail(fmt.Errorf("failed to download source: %w", err)), err)
	}

	stamped, err := p.stamper.Stamp(src, valued)
	if err != nil {
		return backoff.Permanent(fail(err))
	}

	completedAt := doc.UpdatedAt
	if doc.CompletedAt != nil {
		completedAt = *doc.CompletedAt
	}
	cert, err := Certificate(CertificateInput{
		DocumentID:   doc.ID,
		DocumentName: doc.DisplayName(),
		CompletedAt:  completedAt,
		Signers:      signers,
	})
	if err != nil {
		return fail(err)
	}

	signedPath, auditPath := SignedPath(doc.SourcePath), AuditPath(doc.SourcePath)
	for path, data := range map[string][]byte{signedPath: stamped, auditPath: cert} {
		if err := p.transfer(ctx, func() error {
			return p.blobs.Upload(ctx, path, data, storage.ContentType(path))
		}); err != nil {
			return fail(fmt.Errorf("failed to upload %s: %w", path, err))
		}
	}
	p.logger.Info("rendered signed artifacts", "document_id", doc.ID, "signed_path", signedPath, "audit_path", auditPath)

	p.notifyCompletion(ctx, doc, signers, signedPath, auditPath)
	return nil
}

func (p *Pipeline) transfer(ctx context.Context, op func() error) error {
	return backoff.Retry(op, backoff.WithContext(p.retry(), ctx))
}

// classify keeps the permanent marker of cause on wrapped.
func (p *Pipeline) classify(wrapped, cause error) error {
	if errors.Is(cause, storage.ErrNotFound) {
		return backoff.Permanent(wrapped)
	}
	return wrapped
}

// notifyCompletion is best-effort; the artifacts are already stored.
func (p *Pipeline) notifyCompletion(ctx context.Context, doc *models.Document, signers []models.Signer, signedPath, auditPath string) {
	signedURL, err := p.blobs.PresignGet(ctx, signedPath, p.downloadTTL)
	if err != nil {
		p.logger.Error("failed to sign download link", "document_id", doc.ID, "error", err)
		return
	}
	auditURL, err := p.blobs.PresignGet(ctx, auditPath, p.downloadTTL)
	if err != nil {
		p.logger.Error("failed to sign download link", "document_id", doc.ID, "error", err)
		return
	}

	var emails []string
	owner, err := p.store.GetOwner(ctx, doc.OwnerID)
	if err != nil {
		p.logger.Warn("failed to load document owner", "document_id", doc.ID, "error", err)
	} else {
		emails = append(emails, owner.Email)
	}
	for _, s := range signers {
		emails = append(emails, s.Email)
	}

	err = p.notifier.SendCompletion(ctx, notify.Completion{
		To:            Recipients(emails...),
		DocumentName:  doc.DisplayName(),
		SignedURL:     signedURL,
		AuditURL:      auditURL,
		LinksExpireAt: p.now().Add(p.downloadTTL),
	})
	if err != nil {
		p.metrics.NotificationFailed(ctx, "completion")
		p.logger.Warn("failed to send completion notice", "document_id", doc.ID, "error", err)
	}
}

// Recipients drops empty and repeated addresses, comparing case-insensitively
// and keeping first-seen order.
func Recipients(emails ...string) []string {
	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		key := strings.ToLower(strings.TrimSpace(e))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(e))
	}
	return out
}
