package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docsign/backend/internal/notify"
	"docsign/backend/internal/repository"
	"docsign/backend/internal/signing"
	"docsign/backend/internal/token"
	"docsign/backend/pkg/models"
)

// NoOpLogger discards everything.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, ...any) {}
func (NoOpLogger) Info(string, ...any)  {}
func (NoOpLogger) Warn(string, ...any)  {}
func (NoOpLogger) Error(string, ...any) {}

// MockNotifier records invitations.
type MockNotifier struct {
	mock.Mock
	mu   sync.Mutex
	sent []notify.Invitation
}

func (m *MockNotifier) SendInvitation(ctx context.Context, inv notify.Invitation) error {
	m.mu.Lock()
	m.sent = append(m.sent, inv)
	m.mu.Unlock()
	return m.Called(ctx, inv).Error(0)
}

func (m *MockNotifier) invitations() []notify.Invitation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.Invitation(nil), m.sent...)
}

func (m *MockNotifier) last(t *testing.T) notify.Invitation {
	t.Helper()
	sent := m.invitations()
	require.NotEmpty(t, sent)
	return sent[len(sent)-1]
}

type countingWaker struct {
	mu    sync.Mutex
	wakes int
}

func (w *countingWaker) Wake() {
	w.mu.Lock()
	w.wakes++
	w.mu.Unlock()
}

func (w *countingWaker) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wakes
}

type MockPresigner struct {
	mock.Mock
}

func (m *MockPresigner) PresignGet(ctx context.Context, path string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, path, ttl)
	return args.String(0), args.Error(1)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	store     *repository.MemoryStore
	clock     *testClock
	issuer    *token.Issuer
	notifier  *MockNotifier
	presigner *MockPresigner
	waker     *countingWaker
	engine    *Engine
	docs      *DocumentService
	owner     *models.Owner
}

const tokenTTL = 24 * time.Hour

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     repository.NewMemoryStore(),
		clock:     &testClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)},
		notifier:  new(MockNotifier),
		presigner: new(MockPresigner),
		waker:     &countingWaker{},
	}
	h.notifier.On("SendInvitation", mock.Anything, mock.Anything).Return(nil).Maybe()
	h.issuer = token.NewIssuer([]byte("test-key"), token.WithTTL(tokenTTL), token.WithClock(h.clock.Now))
	validator := signing.NewValidator(h.store, h.issuer, NoOpLogger{})
	validator.SetClock(h.clock.Now)

	h.engine = NewEngine(h.store, validator, h.issuer, h.notifier, NoOpLogger{},
		WithRenderWaker(h.waker), WithClock(h.clock.Now))
	h.docs = NewDocumentService(h.store, h.issuer, validator, h.notifier, h.presigner, time.Hour, NoOpLogger{})

	h.owner = &models.Owner{Email: "owner@example.com", Name: "Owner"}
	require.NoError(t, h.store.CreateOwner(context.Background(), h.owner))
	return h
}

func ptr[T any](v T) *T { return &v }

// newDocument creates a draft document owned by the harness owner.
func (h *harness) newDocument(t *testing.T) *models.Document {
	t.Helper()
	doc := &models.Document{Name: "Lease Agreement", SourcePath: "owner/lease.pdf", OwnerID: h.owner.ID}
	require.NoError(t, h.store.CreateDocument(context.Background(), doc))
	return doc
}

// twoSignerInput assigns one required field to each of two ordered signers.
func twoSignerInput() PrepareInput {
	return prepareInput(field1, field2)
}

func prepareInput(id1, id2 string) PrepareInput {
	return PrepareInput{
		Signers: []SignerInput{
			{Email: "s1@example.com", Order: 1},
			{Email: "s2@example.com", Order: 2},
		},
		Fields: []FieldInput{
			{ID: id1, Type: models.FieldTypeSignature, PageNumber: 1, X: 50, Y: 700, Width: 150, Height: 40, AssignedSignerEmail: ptr("s1@example.com")},
			{ID: id2, Type: models.FieldTypeDate, PageNumber: 1, X: 300, Y: 700, Width: 100, Height: 20, AssignedSignerEmail: ptr("s2@example.com")},
		},
	}
}

const (
	field1 = "7b0c2e55-4c1f-4a57-9a52-1b8d1a000001"
	field2 = "7b0c2e55-4c1f-4a57-9a52-1b8d1a000002"
)

// sentDocument prepares and sends a two-signer document and returns it with
// the first signer's token.
func (h *harness) sentDocument(t *testing.T) (*models.Document, string) {
	t.Helper()
	ctx := context.Background()
	doc := h.newDocument(t)
	require.NoError(t, h.docs.Prepare(ctx, h.owner.ID, doc.ID, twoSignerInput()))
	require.NoError(t, h.docs.Send(ctx, h.owner.ID, doc.ID))
	return doc, h.notifier.last(t).Token
}

func (h *harness) signers(t *testing.T, docID string) []models.Signer {
	t.Helper()
	signers, err := h.store.ListSigners(context.Background(), docID)
	require.NoError(t, err)
	return signers
}

// requireSinglePending checks that at most one signer holds a pending token
// and that every signer before it has completed.
func (h *harness) requireSinglePending(t *testing.T, docID string) {
	t.Helper()
	pending := 0
	for i, sg := range h.signers(t, docID) {
		if sg.TokenStatus != models.TokenStatusPending {
			continue
		}
		pending++
		for _, before := range h.signers(t, docID)[:i] {
			require.Equal(t, models.TokenStatusCompleted, before.TokenStatus, "signer %d pending before %d completed", sg.Order, before.Order)
		}
	}
	require.LessOrEqual(t, pending, 1)
}
