package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docsign/backend/internal/config"
	"docsign/backend/internal/repository"
	"docsign/backend/pkg/models"
)

type nopLogger struct{}

func (nopLogger) Debug(msg string, args ...any) {}
func (nopLogger) Info(msg string, args ...any)  {}
func (nopLogger) Error(msg string, args ...any) {}

// unsignedKeySet accepts any well-formed JWT and returns its payload.
type unsignedKeySet struct{}

func (unsignedKeySet) VerifySignature(ctx context.Context, jwt string) ([]byte, error) {
	parts := strings.Split(jwt, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed jwt")
	}
	return base64.RawURLEncoding.DecodeString(parts[1])
}

type mockOwners struct {
	mock.Mock
}

func (m *mockOwners) GetOwnerByEmail(ctx context.Context, email string) (*models.Owner, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Owner), args.Error(1)
}

func (m *mockOwners) CreateOwner(ctx context.Context, owner *models.Owner) error {
	return m.Called(ctx, owner).Error(0)
}

const (
	testIssuer   = "https://issuer.test"
	testClientID = "docsign-web"
)

func jwtFor(t *testing.T, email, name string) string {
	t.Helper()
	claims := map[string]any{
		"iss":   testIssuer,
		"aud":   testClientID,
		"sub":   "subject",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Add(-time.Minute).Unix(),
		"email": email,
		"name":  name,
	}
	header, err := json.Marshal(map[string]any{"alg": "RS256", "typ": "JWT", "kid": "k1"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	enc := base64.RawURLEncoding.EncodeToString
	return enc(header) + "." + enc(payload) + "." + enc([]byte("sig"))
}

func newTestAuth(owners OwnerStore) *Auth {
	v := oidc.NewVerifier(testIssuer, unsignedKeySet{}, &oidc.Config{ClientID: testClientID})
	return &Auth{browser: v, api: v, owners: owners, logger: nopLogger{}}
}

// serve runs RequireAuth and returns the recorder and the owner seen downstream.
func serve(a *Auth, req *http.Request) (*httptest.ResponseRecorder, *models.Owner) {
	var seen *models.Owner
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = OwnerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	a.RequireAuth(next).ServeHTTP(rec, req)
	return rec, seen
}

func bearer(t *testing.T, email, name string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/x", nil)
	req.Header.Set("Authorization", "Bearer "+jwtFor(t, email, name))
	return req
}

func TestRequireAuth_ResolvesExistingOwner(t *testing.T) {
	owners := new(mockOwners)
	owners.On("GetOwnerByEmail", mock.Anything, "user@acme.com").
		Return(&models.Owner{ID: "owner-123", Email: "user@acme.com"}, nil)

	rec, owner := serve(newTestAuth(owners), bearer(t, " User@Acme.com ", "User"))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, owner)
	assert.Equal(t, "owner-123", owner.ID)
	owners.AssertExpectations(t)
}

func TestRequireAuth_SessionCookie(t *testing.T) {
	owners := new(mockOwners)
	owners.On("GetOwnerByEmail", mock.Anything, "web@acme.com").
		Return(&models.Owner{ID: "web-owner"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/mcp/sse", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: jwtFor(t, "web@acme.com", "")})
	rec, owner := serve(newTestAuth(owners), req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, owner)
	assert.Equal(t, "web-owner", owner.ID)
}

func TestRequireAuth_ProvisionsNewOwner(t *testing.T) {
	owners := new(mockOwners)
	owners.On("GetOwnerByEmail", mock.Anything, "founder@startup.io").Return(nil, repository.ErrNotFound)
	owners.On("CreateOwner", mock.Anything, mock.MatchedBy(func(o *models.Owner) bool {
		return o.Email == "founder@startup.io" && o.Name == "Founder"
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*models.Owner).ID = "new-owner-id"
	}).Return(nil)

	rec, owner := serve(newTestAuth(owners), bearer(t, "founder@startup.io", "Founder"))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, owner)
	assert.Equal(t, "new-owner-id", owner.ID)
	owners.AssertExpectations(t)
}

func TestRequireAuth_ProvisionRaceUsesExistingOwner(t *testing.T) {
	owners := new(mockOwners)
	owners.On("GetOwnerByEmail", mock.Anything, "a@b.io").Return(nil, repository.ErrNotFound).Once()
	owners.On("CreateOwner", mock.Anything, mock.Anything).Return(errors.New("duplicate key"))
	owners.On("GetOwnerByEmail", mock.Anything, "a@b.io").Return(&models.Owner{ID: "raced-owner"}, nil).Once()

	rec, owner := serve(newTestAuth(owners), bearer(t, "a@b.io", ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, owner)
	assert.Equal(t, "raced-owner", owner.ID)
}

func TestRequireAuth_Bypass(t *testing.T) {
	owners := new(mockOwners)
	owners.On("GetOwnerByEmail", mock.Anything, DevOwnerEmail).Return(nil, repository.ErrNotFound)
	owners.On("CreateOwner", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(1).(*models.Owner).ID = "dev-owner-id"
	}).Return(nil)

	a, err := New(context.Background(), &config.Config{Environment: "DEV", DevModeBypass: true}, owners, nopLogger{})
	require.NoError(t, err)

	rec, owner := serve(a, httptest.NewRequest(http.MethodGet, "/api/v1/documents/x", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, owner)
	assert.Equal(t, "dev-owner-id", owner.ID)
}

func TestNew_IncompleteConfig(t *testing.T) {
	_, err := New(context.Background(), &config.Config{Environment: "PROD"}, new(mockOwners), nopLogger{})
	assert.ErrorContains(t, err, "incomplete")
}

func TestRequireAuth_Rejections(t *testing.T) {
	storeDown := new(mockOwners)
	storeDown.On("GetOwnerByEmail", mock.Anything, "user@acme.com").Return(nil, errors.New("connection refused"))

	tests := []struct {
		name     string
		owners   OwnerStore
		req      func(t *testing.T) *http.Request
		code     int
		location string
	}{
		{
			name:   "malformed bearer",
			owners: new(mockOwners),
			req: func(t *testing.T) *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/api/v1/documents/x", nil)
				r.Header.Set("Authorization", "Bearer not-a-jwt")
				return r
			},
			code: http.StatusUnauthorized,
		},
		{
			name:   "no session",
			owners: new(mockOwners),
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodGet, "/api/v1/documents/x", nil)
			},
			code:     http.StatusSeeOther,
			location: "/login",
		},
		{
			name:   "no email claim",
			owners: new(mockOwners),
			req:    func(t *testing.T) *http.Request { return bearer(t, "", "") },
			code:   http.StatusUnauthorized,
		},
		{
			name:   "owner store down",
			owners: storeDown,
			req:    func(t *testing.T) *http.Request { return bearer(t, "user@acme.com", "") },
			code:   http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, owner := serve(newTestAuth(tt.owners), tt.req(t))
			assert.Equal(t, tt.code, rec.Code)
			assert.Nil(t, owner)
			if tt.location != "" {
				assert.Equal(t, tt.location, rec.Header().Get("Location"))
			}
		})
	}
}

func TestCallbackHandler_RejectsStateMismatch(t *testing.T) {
	a := newTestAuth(new(mockOwners))

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?state=forged&code=c", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "expected"})
	rec := httptest.NewRecorder()
	a.CallbackHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogoutHandler_ClearsSession(t *testing.T) {
	a := newTestAuth(new(mockOwners))

	rec := httptest.NewRecorder()
	a.LogoutHandler(rec, httptest.NewRequest(http.MethodGet, "/logout", nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, sessionCookie, cookies[0].Name)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestLoginHandler_BypassRedirectsHome(t *testing.T) {
	a := &Auth{bypass: true, logger: nopLogger{}}

	rec := httptest.NewRecorder()
	a.LoginHandler(rec, httptest.NewRequest(http.MethodGet, "/login", nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}
