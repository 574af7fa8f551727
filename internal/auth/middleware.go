package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc"

	"docsign/backend/internal/repository"
	"docsign/backend/pkg/models"
)

var (
	errNoSession    = errors.New("no session")
	errInvalidToken = errors.New("invalid token")
	errNoEmail      = errors.New("token carries no usable email")
)

type identity struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// RequireAuth resolves the calling owner from a bearer token or the session
// cookie and stores it in the request context. Browsers without a session are
// sent to /login. Owners are provisioned on first sight.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.identify(r)
		switch {
		case errors.Is(err, errNoSession):
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		case err != nil:
			a.logger.Debug("authentication rejected", "error", err)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		owner, err := a.resolveOwner(r.Context(), id)
		if err != nil {
			a.logger.Error("failed to provision owner", "email", id.Email, "error", err)
			http.Error(w, "failed to provision owner", http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
	})
}

func (a *Auth) identify(r *http.Request) (identity, error) {
	if a.bypass {
		return identity{Email: DevOwnerEmail}, nil
	}

	var (
		tok *oidc.IDToken
		err error
	)
	if raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		tok, err = a.api.Verify(r.Context(), raw)
	} else {
		c, cerr := r.Cookie(sessionCookie)
		if cerr != nil {
			return identity{}, errNoSession
		}
		tok, err = a.browser.Verify(r.Context(), c.Value)
	}
	if err != nil {
		return identity{}, errInvalidToken
	}

	var id identity
	if err := tok.Claims(&id); err != nil {
		return identity{}, errInvalidToken
	}
	id.Email = strings.ToLower(strings.TrimSpace(id.Email))
	if !strings.Contains(id.Email, "@") {
		return identity{}, errNoEmail
	}
	return id, nil
}

func (a *Auth) resolveOwner(ctx context.Context, id identity) (*models.Owner, error) {
	owner, err := a.owners.GetOwnerByEmail(ctx, id.Email)
	if err == nil {
		return owner, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	owner = &models.Owner{Email: id.Email, Name: id.Name}
	if createErr := a.owners.CreateOwner(ctx, owner); createErr != nil {
		// a concurrent first request may have created it
		if existing, err := a.owners.GetOwnerByEmail(ctx, id.Email); err == nil {
			return existing, nil
		}
		return nil, createErr
	}
	a.logger.Info("provisioned owner", "owner_id", owner.ID)
	return owner, nil
}
