// Package signing authenticates signing requests and validates what a signer submits.
package signing

import (
	"errors"
	"fmt"

	"docsign/backend/pkg/models"
)

// Kind classifies failures so transports can map them consistently.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthz
	KindNotFound
	KindConflict
	KindPersistence
	KindRender
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthz:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPersistence:
		return "persistence"
	case KindRender:
		return "render"
	case KindNotification:
		return "notification"
	}
	return "unknown"
}

// Sentinel errors for the signing flow.
var (
	ErrTokenNotFound      = errors.New("signing token not found")
	ErrTokenNotPending    = errors.New("signing token is not pending")
	ErrTokenExpired       = errors.New("signing token has expired")
	ErrInvalidBody        = errors.New("invalid request body")
	ErrRequiredField      = errors.New("required field is missing")
	ErrInvalidFieldValue  = errors.New("invalid field value")
	ErrInvalidPreparation = errors.New("invalid document preparation")
	ErrForbidden          = errors.New("not the document owner")
	ErrDocumentNotFound   = errors.New("document not found")
	ErrInvalidState       = errors.New("document is not in the required state")
)

// Error carries a Kind and, for token failures, the token's current status.
type Error struct {
	Kind        Kind
	Op          string
	TokenStatus models.TokenStatus
	Err         error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an *Error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validationf builds a validation error wrapping sentinel with detail.
func Validationf(op string, sentinel error, format string, args ...any) *Error {
	return E(KindValidation, op, fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...))
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// TokenStatusOf returns the token status attached to err, if any.
func TokenStatusOf(err error) models.TokenStatus {
	var e *Error
	if errors.As(err, &e) {
		return e.TokenStatus
	}
	return ""
}
