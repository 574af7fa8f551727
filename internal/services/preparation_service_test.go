package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docsign/backend/internal/signing"
	"docsign/backend/pkg/models"
)

func TestDocumentService_PrepareValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *PrepareInput)
	}{
		{"No signers", func(in *PrepareInput) { in.Signers = nil; in.Fields = nil }},
		{"Duplicate order", func(in *PrepareInput) { in.Signers[1].Order = 1 }},
		{"Gap in order", func(in *PrepareInput) { in.Signers[1].Order = 3 }},
		{"Order starting at zero", func(in *PrepareInput) { in.Signers[0].Order = 0 }},
		{"Duplicate email", func(in *PrepareInput) { in.Signers[1].Email = "S1@example.com " }},
		{"Invalid email", func(in *PrepareInput) { in.Signers[0].Email = "nobody" }},
		{"Unknown field type", func(in *PrepareInput) { in.Fields[0].Type = "stamp" }},
		{"Page zero", func(in *PrepareInput) { in.Fields[0].PageNumber = 0 }},
		{"Zero width", func(in *PrepareInput) { in.Fields[0].Width = 0 }},
		{"Negative coordinate", func(in *PrepareInput) { in.Fields[1].X = -1 }},
		{"Assignee not a signer", func(in *PrepareInput) { in.Fields[0].AssignedSignerEmail = ptr("stranger@example.com") }},
		{"Field id not a UUID", func(in *PrepareInput) { in.Fields[0].ID = "f-1" }},
		{"Duplicate field id", func(in *PrepareInput) { in.Fields[1].ID = in.Fields[0].ID }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			doc := h.newDocument(t)
			in := twoSignerInput()
			tt.mutate(&in)

			err := h.docs.Prepare(context.Background(), h.owner.ID, doc.ID, in)
			require.ErrorIs(t, err, signing.ErrInvalidPreparation)
			assert.Equal(t, signing.KindValidation, signing.KindOf(err))

			got, err := h.store.GetDocument(context.Background(), doc.ID)
			require.NoError(t, err)
			assert.Equal(t, models.DocumentStatusDraft, got.Status)
		})
	}
}

func TestDocumentService_Prepare(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	doc := h.newDocument(t)

	in := twoSignerInput()
	in.Signers[0], in.Signers[1] = in.Signers[1], in.Signers[0]
	in.Signers[0].Email = "  S2@Example.com"
	in.Fields[1].AssignedSignerEmail = ptr("S2@example.com")
	in.Fields[1].Required = ptr(false)
	in.Fields = append(in.Fields, FieldInput{Type: models.FieldTypeCheckbox, PageNumber: 2, X: 1, Y: 1, Width: 10, Height: 10})
	require.NoError(t, h.docs.Prepare(ctx, h.owner.ID, doc.ID, in))

	signers := h.signers(t, doc.ID)
	require.Len(t, signers, 2)
	assert.Equal(t, "s1@example.com", signers[0].Email)
	assert.Equal(t, "s2@example.com", signers[1].Email)

	s2Fields, err := h.store.ListAssignedFields(ctx, doc.ID, "s2@example.com")
	require.NoError(t, err)
	require.Len(t, s2Fields, 1)
	assert.False(t, s2Fields[0].Required)

	got, err := h.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusReadyToSend, got.Status)

	t.Run("Preparing again replaces signers", func(t *testing.T) {
		again := PrepareInput{Signers: []SignerInput{{Email: "solo@example.com", Order: 1}}}
		require.NoError(t, h.docs.Prepare(ctx, h.owner.ID, doc.ID, again))
		signers := h.signers(t, doc.ID)
		require.Len(t, signers, 1)
		assert.Equal(t, "solo@example.com", signers[0].Email)
	})

	t.Run("Other owners are rejected", func(t *testing.T) {
		err := h.docs.Prepare(ctx, "someone-else", doc.ID, twoSignerInput())
		assert.ErrorIs(t, err, signing.ErrForbidden)
	})

	t.Run("Sent documents cannot be prepared", func(t *testing.T) {
		require.NoError(t, h.docs.Send(ctx, h.owner.ID, doc.ID))
		err := h.docs.Prepare(ctx, h.owner.ID, doc.ID, twoSignerInput())
		assert.ErrorIs(t, err, signing.ErrInvalidState)
		assert.Len(t, h.signers(t, doc.ID), 1)
	})
}

func TestDocumentService_PrepareRejectsFieldIDsOfAnotherDocument(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	victim, tok1 := h.sentDocument(t)

	other := &models.Owner{Email: "other@example.com"}
	require.NoError(t, h.store.CreateOwner(ctx, other))
	doc := &models.Document{Name: "Copy", SourcePath: "other/copy.pdf", OwnerID: other.ID}
	require.NoError(t, h.store.CreateDocument(ctx, doc))

	err := h.docs.Prepare(ctx, other.ID, doc.ID, prepareInput(field1, field2))
	require.ErrorIs(t, err, signing.ErrInvalidPreparation)
	assert.Equal(t, signing.KindValidation, signing.KindOf(err))

	got, err := h.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusDraft, got.Status)
	assert.Empty(t, h.signers(t, doc.ID), "nothing is written for the rejected preparation")

	assigned, err := h.store.ListAssignedFields(ctx, victim.ID, "s1@example.com")
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, field1, assigned[0].ID)
	assert.Equal(t, victim.ID, assigned[0].DocumentID)

	_, err = h.engine.Complete(ctx, CompleteInput{Token: tok1, Values: map[string]*string{}})
	require.ErrorIs(t, err, signing.ErrRequiredField, "the signer's required field is still enforced")

	require.NoError(t, h.docs.Prepare(ctx, other.ID, doc.ID, prepareInput(uuid.NewString(), uuid.NewString())))
}

func TestDocumentService_Send(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	doc := h.newDocument(t)

	err := h.docs.Send(ctx, h.owner.ID, doc.ID)
	require.ErrorIs(t, err, signing.ErrInvalidState, "drafts cannot be sent")

	require.NoError(t, h.docs.Prepare(ctx, h.owner.ID, doc.ID, twoSignerInput()))
	require.NoError(t, h.docs.Send(ctx, h.owner.ID, doc.ID))

	signers := h.signers(t, doc.ID)
	assert.Equal(t, models.TokenStatusPending, signers[0].TokenStatus)
	require.NotNil(t, signers[0].TokenExpiresAt)
	assert.Equal(t, h.clock.Now().Add(tokenTTL), *signers[0].TokenExpiresAt)
	assert.Equal(t, models.TokenStatusNone, signers[1].TokenStatus)

	inv := h.notifier.last(t)
	assert.Equal(t, "s1@example.com", inv.To)
	require.NotNil(t, signers[0].TokenHash)
	assert.Equal(t, h.issuer.Hash(inv.Token), *signers[0].TokenHash)
	assert.NotEqual(t, inv.Token, *signers[0].TokenHash)

	err = h.docs.Send(ctx, h.owner.ID, doc.ID)
	assert.ErrorIs(t, err, signing.ErrInvalidState, "documents are sent once")
	assert.Len(t, h.notifier.invitations(), 1)
}

func TestDocumentService_SendSurvivesInvitationFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.notifier.ExpectedCalls = nil
	h.notifier.On("SendInvitation", mock.Anything, mock.Anything).Return(errors.New("no api key"))

	doc := h.newDocument(t)
	require.NoError(t, h.docs.Prepare(ctx, h.owner.ID, doc.ID, twoSignerInput()))
	require.NoError(t, h.docs.Send(ctx, h.owner.ID, doc.ID))

	got, err := h.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusSent, got.Status)
}

func TestDocumentService_StatusAndDelete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	doc, _ := h.sentDocument(t)

	view, err := h.docs.Status(ctx, h.owner.ID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, view.Document.ID)
	assert.Len(t, view.Signers, 2)
	assert.Nil(t, view.RenderJob)

	_, err = h.docs.Status(ctx, "intruder", doc.ID)
	assert.ErrorIs(t, err, signing.ErrForbidden)

	_, err = h.docs.Status(ctx, h.owner.ID, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, signing.ErrDocumentNotFound)
	assert.Equal(t, signing.KindNotFound, signing.KindOf(err))

	assert.ErrorIs(t, h.docs.Delete(ctx, "intruder", doc.ID), signing.ErrForbidden)
	require.NoError(t, h.docs.Delete(ctx, h.owner.ID, doc.ID))
	_, err = h.docs.Status(ctx, h.owner.ID, doc.ID)
	assert.ErrorIs(t, err, signing.ErrDocumentNotFound)
	assert.Empty(t, h.signers(t, doc.ID))
}

func TestDocumentService_OpenSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	doc, tok1 := h.sentDocument(t)

	h.presigner.On("PresignGet", mock.Anything, "owner/lease.pdf", time.Hour).Return("https://blob.example.com/lease.pdf?sig=1", nil)

	view, err := h.docs.OpenSession(ctx, tok1)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, view.DocumentID)
	assert.Equal(t, "Lease Agreement", view.DocumentName)
	assert.Equal(t, "s1@example.com", view.SignerEmail)
	assert.Equal(t, 1, view.Order)
	require.Len(t, view.Fields, 1)
	assert.Equal(t, field1, view.Fields[0].ID)
	assert.Equal(t, "https://blob.example.com/lease.pdf?sig=1", view.DownloadURL)

	_, err = h.docs.OpenSession(ctx, "nope")
	assert.ErrorIs(t, err, signing.ErrTokenNotFound)
	h.presigner.AssertNumberOfCalls(t, "PresignGet", 1)
}
