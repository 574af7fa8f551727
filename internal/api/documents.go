package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"docsign/backend/internal/auth"
	"docsign/backend/internal/services"
	"docsign/backend/internal/signing"
)

func ownerID(c echo.Context) (string, error) {
	owner, ok := auth.OwnerFromContext(c.Request().Context())
	if !ok {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "Owner not found in context")
	}
	return owner.ID, nil
}

// GetDocument returns a document with its signers.
// (GET /api/v1/documents/{id})
func (s *Server) GetDocument(c echo.Context, id uuid.UUID) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	view, err := s.documents.Status(c.Request().Context(), owner, id.String())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

// DeleteDocument removes a document.
// (DELETE /api/v1/documents/{id})
func (s *Server) DeleteDocument(c echo.Context, id uuid.UUID) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	if err := s.documents.Delete(c.Request().Context(), owner, id.String()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// PrepareDocument replaces the signers and fields of a document.
// (PUT /api/v1/documents/{id}/prepare)
func (s *Server) PrepareDocument(c echo.Context, id uuid.UUID) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	var in services.PrepareInput
	if err := c.Bind(&in); err != nil {
		return signing.Validationf("prepare document", signing.ErrInvalidBody, "%v", err)
	}
	if err := s.documents.Prepare(c.Request().Context(), owner, id.String(), in); err != nil {
		return err
	}

	view, err := s.documents.Status(c.Request().Context(), owner, id.String())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

// SendDocument issues the first signer's token and emails the invitation.
// (POST /api/v1/documents/{id}/send)
func (s *Server) SendDocument(c echo.Context, id uuid.UUID) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	if err := s.documents.Send(c.Request().Context(), owner, id.String()); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]string{"message": "Document sent"})
}
