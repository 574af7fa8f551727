package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docsign/backend/internal/auth"
	"docsign/backend/internal/services"
	"docsign/backend/internal/signing"
	"docsign/backend/internal/storage"
	"docsign/backend/pkg/models"
)

type NoOpLogger struct{}

func (NoOpLogger) Info(msg string, args ...any)  {}
func (NoOpLogger) Warn(msg string, args ...any)  {}
func (NoOpLogger) Error(msg string, args ...any) {}

type MockDocuments struct {
	mock.Mock
}

func (m *MockDocuments) Prepare(ctx context.Context, ownerID, documentID string, in services.PrepareInput) error {
	return m.Called(ctx, ownerID, documentID, in).Error(0)
}

func (m *MockDocuments) Send(ctx context.Context, ownerID, documentID string) error {
	return m.Called(ctx, ownerID, documentID).Error(0)
}

func (m *MockDocuments) Status(ctx context.Context, ownerID, documentID string) (*services.DocumentView, error) {
	args := m.Called(ctx, ownerID, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.DocumentView), args.Error(1)
}

func (m *MockDocuments) Delete(ctx context.Context, ownerID, documentID string) error {
	return m.Called(ctx, ownerID, documentID).Error(0)
}

func (m *MockDocuments) OpenSession(ctx context.Context, token string) (*services.SessionView, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SessionView), args.Error(1)
}

type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Complete(ctx context.Context, in services.CompleteInput) (*services.CompleteResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CompleteResult), args.Error(1)
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

const docID = "7b0c3c52-1d4e-4a57-9a0e-6c0a4a3c2f10"

func newTestEcho(srv *Server, owner *models.Owner) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(NoOpLogger{})
	e.GET("/healthz", srv.HandleReady)
	RegisterSigningHandlers(e.Group("/sign"), srv)

	g := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if owner != nil {
				c.SetRequest(c.Request().WithContext(auth.WithOwner(c.Request().Context(), owner)))
			}
			return next(c)
		}
	})
	RegisterHandlers(g, srv)
	return e
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) models.ProblemDetails {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get(echo.HeaderContentType))
	var p models.ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestCompleteSigning(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		engine := new(MockCompleter)
		engine.On("Complete", mock.Anything, mock.MatchedBy(func(in services.CompleteInput) bool {
			return in.Token == "tok-123" && in.IP == "192.0.2.1" &&
				*in.Values["f1"] == "Alice" && in.Values["f2"] == nil
		})).Return(&services.CompleteResult{Outcome: services.OutcomeHandedOff}, nil)

		e := newTestEcho(NewServer(new(MockDocuments), engine, fakePinger{}, NoOpLogger{}), nil)
		req := httptest.NewRequest(http.MethodPost, "/sign/tok-123/complete", strings.NewReader(`{"f1":"Alice","f2":null}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var body CompleteResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "Signing completed successfully", body.Message)
		assert.Equal(t, services.OutcomeHandedOff, body.Outcome)
		engine.AssertExpectations(t)
	})

	t.Run("Records the nearest untrusted forwarded hop", func(t *testing.T) {
		engine := new(MockCompleter)
		engine.On("Complete", mock.Anything, mock.MatchedBy(func(in services.CompleteInput) bool {
			return in.IP == "198.51.100.9"
		})).Return(&services.CompleteResult{Outcome: services.OutcomeCompleted}, nil)

		e := newTestEcho(NewServer(new(MockDocuments), engine, fakePinger{}, NoOpLogger{}), nil)
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
		req := httptest.NewRequest(http.MethodPost, "/sign/tok-123/complete", strings.NewReader(`{"f1":"Alice"}`))
		req.RemoteAddr = "10.0.0.1:5000"
		req.Header.Set(echo.HeaderXForwardedFor, "203.0.113.50, 198.51.100.9, 10.0.0.2")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		engine.AssertExpectations(t)
	})

	t.Run("Malformed body never reaches the engine", func(t *testing.T) {
		engine := new(MockCompleter)
		e := newTestEcho(NewServer(new(MockDocuments), engine, fakePinger{}, NoOpLogger{}), nil)
		req := httptest.NewRequest(http.MethodPost, "/sign/tok-123/complete", strings.NewReader(`["not","an","object"]`))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		engine.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
	})

	t.Run("Expired token reports status", func(t *testing.T) {
		engine := new(MockCompleter)
		engine.On("Complete", mock.Anything, mock.Anything).Return(nil,
			&signing.Error{Kind: signing.KindAuthz, TokenStatus: models.TokenStatusExpired, Err: signing.ErrTokenExpired})

		e := newTestEcho(NewServer(new(MockDocuments), engine, fakePinger{}, NoOpLogger{}), nil)
		req := httptest.NewRequest(http.MethodPost, "/sign/tok-123/complete", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		p := decodeProblem(t, rec)
		assert.Equal(t, models.TokenStatusExpired, p.TokenStatus)
		assert.Equal(t, "/sign/:token/complete", p.Instance)
		assert.NotContains(t, rec.Body.String(), "tok-123")
	})

	t.Run("Internal failure is generic", func(t *testing.T) {
		engine := new(MockCompleter)
		engine.On("Complete", mock.Anything, mock.Anything).Return(nil,
			signing.E(signing.KindPersistence, "complete signing", errors.New("pq: connection refused")))

		e := newTestEcho(NewServer(new(MockDocuments), engine, fakePinger{}, NoOpLogger{}), nil)
		req := httptest.NewRequest(http.MethodPost, "/sign/tok-123/complete", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		p := decodeProblem(t, rec)
		assert.Equal(t, internalDetail, p.Detail)
		assert.NotContains(t, rec.Body.String(), "connection refused")
	})
}

func TestDecodeSubmission(t *testing.T) {
	values, err := decodeSubmission(strings.NewReader(""))
	require.NoError(t, err)
	assert.Nil(t, values)

	values, err = decodeSubmission(strings.NewReader("null"))
	require.NoError(t, err)
	assert.Nil(t, values)

	values, err = decodeSubmission(strings.NewReader(`{"a":null,"b":"x"}`))
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Nil(t, values["a"])
	assert.Equal(t, "x", *values["b"])

	for _, bad := range []string{`{"a":1}`, `"text"`, `{`} {
		_, err := decodeSubmission(strings.NewReader(bad))
		assert.ErrorIs(t, err, signing.ErrInvalidBody, bad)
		assert.Equal(t, signing.KindValidation, signing.KindOf(err))
	}
}

func TestProblemFor(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		status      int
		tokenStatus models.TokenStatus
	}{
		{"token not found", signing.E(signing.KindAuthz, "validate", signing.ErrTokenNotFound), http.StatusNotFound, ""},
		{"token used", &signing.Error{Kind: signing.KindAuthz, TokenStatus: models.TokenStatusCompleted, Err: signing.ErrTokenNotPending}, http.StatusBadRequest, models.TokenStatusCompleted},
		{"token expired", signing.E(signing.KindAuthz, "validate", signing.ErrTokenExpired), http.StatusBadRequest, models.TokenStatusExpired},
		{"required field", signing.Validationf("validate", signing.ErrRequiredField, "field %s", "x"), http.StatusBadRequest, ""},
		{"forbidden", signing.E(signing.KindAuthz, "status", signing.ErrForbidden), http.StatusForbidden, ""},
		{"document missing", signing.E(signing.KindNotFound, "status", signing.ErrDocumentNotFound), http.StatusNotFound, ""},
		{"wrong state", signing.E(signing.KindConflict, "send", signing.ErrInvalidState), http.StatusConflict, ""},
		{"echo error", echo.NewHTTPError(http.StatusUnauthorized, "nope"), http.StatusUnauthorized, ""},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := problemFor(tt.err)
			assert.Equal(t, tt.status, p.Status)
			assert.Equal(t, http.StatusText(tt.status), p.Title)
			assert.Equal(t, tt.tokenStatus, p.TokenStatus)
		})
	}
}

func TestGetSigningSession(t *testing.T) {
	docs := new(MockDocuments)
	docs.On("OpenSession", mock.Anything, "tok-abc").Return(&services.SessionView{
		DocumentID:  docID,
		SignerEmail: "s1@example.com",
		Order:       1,
	}, nil)

	e := newTestEcho(NewServer(docs, new(MockCompleter), fakePinger{}, NoOpLogger{}), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sign/tok-abc", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var view services.SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "s1@example.com", view.SignerEmail)
}

func TestDocumentRoutes(t *testing.T) {
	owner := &models.Owner{ID: "owner-1", Email: "owner@example.com"}

	t.Run("Prepare returns the updated view", func(t *testing.T) {
		docs := new(MockDocuments)
		docs.On("Prepare", mock.Anything, "owner-1", docID, mock.MatchedBy(func(in services.PrepareInput) bool {
			return len(in.Signers) == 1 && in.Signers[0].Email == "a@example.com" && len(in.Fields) == 1
		})).Return(nil)
		docs.On("Status", mock.Anything, "owner-1", docID).Return(&services.DocumentView{
			Document: &models.Document{ID: docID, Status: models.DocumentStatusReadyToSend},
		}, nil)

		e := newTestEcho(NewServer(docs, new(MockCompleter), fakePinger{}, NoOpLogger{}), owner)
		body := `{"signers":[{"email":"a@example.com","order":1}],"fields":[{"type":"signature","page_number":1,"x":1,"y":1,"width":10,"height":10,"assigned_signer_email":"a@example.com"}]}`
		req := httptest.NewRequest(http.MethodPut, "/api/v1/documents/"+docID+"/prepare", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), `"ready_to_send"`)
		docs.AssertExpectations(t)
	})

	t.Run("Send", func(t *testing.T) {
		docs := new(MockDocuments)
		docs.On("Send", mock.Anything, "owner-1", docID).Return(nil)
		e := newTestEcho(NewServer(docs, new(MockCompleter), fakePinger{}, NoOpLogger{}), owner)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+docID+"/send", nil))
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("Send in wrong state conflicts", func(t *testing.T) {
		docs := new(MockDocuments)
		docs.On("Send", mock.Anything, "owner-1", docID).Return(signing.E(signing.KindConflict, "send document", signing.ErrInvalidState))
		e := newTestEcho(NewServer(docs, new(MockCompleter), fakePinger{}, NoOpLogger{}), owner)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+docID+"/send", nil))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("Delete", func(t *testing.T) {
		docs := new(MockDocuments)
		docs.On("Delete", mock.Anything, "owner-1", docID).Return(nil)
		e := newTestEcho(NewServer(docs, new(MockCompleter), fakePinger{}, NoOpLogger{}), owner)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/documents/"+docID, nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("Other owner is forbidden", func(t *testing.T) {
		docs := new(MockDocuments)
		docs.On("Status", mock.Anything, "owner-1", docID).Return(nil, signing.E(signing.KindAuthz, "document status", signing.ErrForbidden))
		e := newTestEcho(NewServer(docs, new(MockCompleter), fakePinger{}, NoOpLogger{}), owner)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+docID, nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("Malformed id", func(t *testing.T) {
		docs := new(MockDocuments)
		e := newTestEcho(NewServer(docs, new(MockCompleter), fakePinger{}, NoOpLogger{}), owner)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/documents/not-a-uuid", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		docs.AssertNotCalled(t, "Status", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Missing owner", func(t *testing.T) {
		e := newTestEcho(NewServer(new(MockDocuments), new(MockCompleter), fakePinger{}, NoOpLogger{}), nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+docID, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHandleReady(t *testing.T) {
	e := newTestEcho(NewServer(new(MockDocuments), new(MockCompleter), fakePinger{}, NoOpLogger{}), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	e = newTestEcho(NewServer(new(MockDocuments), new(MockCompleter), fakePinger{err: errors.New("down")}, NoOpLogger{}), nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unreachable")
}

func TestFileHandler(t *testing.T) {
	ctx := context.Background()
	files := storage.NewFSStoreWithFs(afero.NewMemMapFs(), "http://localhost:8080", []byte("link-key"))
	require.NoError(t, files.Upload(ctx, "owner/lease_signed.pdf", []byte("%PDF-1.4"), "application/pdf"))

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(NoOpLogger{})
	e.GET("/files", FileHandler(files))

	link, err := files.PresignGet(ctx, "owner/lease_signed.pdf", time.Hour)
	require.NoError(t, err)
	u, err := url.Parse(link)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-1.4", rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get(echo.HeaderContentType))

	q := u.Query()
	q.Set("path", "owner/lease.pdf")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files?"+q.Encode(), nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
