package auth

const (
	ScopeOpenID         = "openid"
	ScopeProfile        = "profile"
	ScopeEmail          = "email"
	ScopeDocumentsRead  = "documents:read"
	ScopeDocumentsWrite = "documents:write"
)

// LoginScopes are requested by the browser login flow; the email claim
// identifies the owner.
var LoginScopes = []string{ScopeOpenID, ScopeProfile, ScopeEmail}

// AllScopes defines the full set of scopes used by the Swagger UI / Frontend
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeDocumentsRead,
	ScopeDocumentsWrite,
}
