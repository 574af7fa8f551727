package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"docsign/backend/internal/services"
	"docsign/backend/internal/signing"
)

// maxSubmissionBytes bounds a submission; drawn signatures arrive as data URLs.
const maxSubmissionBytes = 5 << 20

// CompleteResponse is returned after a signer finishes.
type CompleteResponse struct {
	Message string           `json:"message"`
	Outcome services.Outcome `json:"outcome"`
}

// GetSigningSession returns what a signer needs to render the document.
// (GET /sign/{token})
func (s *Server) GetSigningSession(c echo.Context, token string) error {
	view, err := s.documents.OpenSession(c.Request().Context(), token)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

// CompleteSigning records the signer's field values and advances the document.
// (POST /sign/{token}/complete)
func (s *Server) CompleteSigning(c echo.Context, token string) error {
	values, err := decodeSubmission(c.Request().Body)
	if err != nil {
		return err
	}

	res, err := s.engine.Complete(c.Request().Context(), services.CompleteInput{
		Token:  token,
		Values: values,
		IP:     c.RealIP(),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CompleteResponse{
		Message: "Signing completed successfully",
		Outcome: res.Outcome,
	})
}

// decodeSubmission reads a {fieldId: value|null} object. A missing body or a
// JSON null yields a nil map, which submission validation rejects.
func decodeSubmission(body io.Reader) (map[string]*string, error) {
	const op = "decode submission"
	var values map[string]*string
	err := json.NewDecoder(io.LimitReader(body, maxSubmissionBytes)).Decode(&values)
	switch {
	case errors.Is(err, io.EOF):
		return nil, nil
	case err != nil:
		return nil, signing.Validationf(op, signing.ErrInvalidBody, "body must be a JSON object of field values")
	}
	return values, nil
}
