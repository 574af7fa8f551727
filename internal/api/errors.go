package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/trace"

	"docsign/backend/internal/signing"
	"docsign/backend/pkg/models"
)

const internalDetail = "An internal error occurred. Please try again later."

// problemFor maps an error to an RFC 7807 problem. Internal failures get a
// generic detail; the cause is only logged.
func problemFor(err error) models.ProblemDetails {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		detail := http.StatusText(he.Code)
		if msg, ok := he.Message.(string); ok {
			detail = msg
		}
		return problem(he.Code, detail)
	}

	switch {
	case errors.Is(err, signing.ErrTokenNotFound):
		return problem(http.StatusNotFound, "Signing link not found")
	case errors.Is(err, signing.ErrTokenExpired):
		p := problem(http.StatusBadRequest, "Signing link has expired")
		p.TokenStatus = models.TokenStatusExpired
		return p
	case errors.Is(err, signing.ErrTokenNotPending):
		p := problem(http.StatusBadRequest, "Signing link is no longer active")
		p.TokenStatus = signing.TokenStatusOf(err)
		return p
	case errors.Is(err, signing.ErrDocumentNotFound):
		return problem(http.StatusNotFound, "Document not found")
	case errors.Is(err, signing.ErrForbidden):
		return problem(http.StatusForbidden, "You do not own this document")
	}

	switch signing.KindOf(err) {
	case signing.KindValidation:
		return problem(http.StatusBadRequest, err.Error())
	case signing.KindNotFound:
		return problem(http.StatusNotFound, "Resource not found")
	case signing.KindConflict:
		return problem(http.StatusConflict, err.Error())
	case signing.KindAuthz:
		return problem(http.StatusForbidden, "Access denied")
	}
	return problem(http.StatusInternalServerError, internalDetail)
}

func problem(status int, detail string) models.ProblemDetails {
	return models.ProblemDetails{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
}

// ErrorHandler writes every handler error as application/problem+json.
func ErrorHandler(logger Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		p := problemFor(err)
		// route template, so signing tokens never echo back
		p.Instance = c.Path()
		if sc := trace.SpanContextFromContext(c.Request().Context()); sc.HasTraceID() {
			p.TraceID = sc.TraceID().String()
		}

		if p.Status >= http.StatusInternalServerError {
			logger.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(p.Status)
		} else {
			c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
			err = c.JSON(p.Status, p)
		}
		if err != nil {
			logger.Error("failed to write error response", "error", fmt.Sprint(err))
		}
	}
}
