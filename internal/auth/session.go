package auth

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"
)

const (
	stateCookie   = "oauthstate"
	sessionCookie = "id_token"
	stateTTL      = 10 * time.Minute
)

func (a *Auth) setCookie(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *Auth) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{Name: name, Path: "/", MaxAge: -1})
}

// LoginHandler starts the authorization code flow. The state value is kept in
// a short-lived cookie and compared on callback.
func (a *Auth) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if a.bypass {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	state, err := newState()
	if err != nil {
		a.logger.Error("failed to generate oauth state", "error", err)
		http.Error(w, "failed to generate state", http.StatusInternalServerError)
		return
	}
	a.setCookie(w, stateCookie, state, stateTTL)
	http.Redirect(w, r, a.oauth2Config.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// CallbackHandler exchanges the authorization code and stores the verified
// ID token as the session cookie.
func (a *Auth) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	if a.bypass {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	q := r.URL.Query()
	state, err := r.Cookie(stateCookie)
	if err != nil || state.Value == "" || q.Get("state") != state.Value {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	a.clearCookie(w, stateCookie)

	tok, err := a.oauth2Config.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		a.logger.Error("oauth code exchange failed", "error", err)
		http.Error(w, "token exchange failed", http.StatusInternalServerError)
		return
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok {
		http.Error(w, "no id_token in token response", http.StatusInternalServerError)
		return
	}
	idToken, err := a.browser.Verify(r.Context(), rawIDToken)
	if err != nil {
		http.Error(w, "failed to verify id token", http.StatusUnauthorized)
		return
	}

	a.setCookie(w, sessionCookie, rawIDToken, time.Until(idToken.Expiry))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// LogoutHandler drops the session cookie.
func (a *Auth) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	a.clearCookie(w, sessionCookie)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func newState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
