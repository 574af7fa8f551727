package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"docsign/backend/internal/storage"
)

// LinkVerifier checks signed download links issued by the local blob store.
type LinkVerifier interface {
	Verify(q url.Values) (string, error)
	Download(ctx context.Context, path string) ([]byte, error)
}

// FileHandler serves blobs behind links from storage.FSStore.PresignGet.
func FileHandler(files LinkVerifier) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := files.Verify(c.QueryParams())
		if err != nil {
			return echo.NewHTTPError(http.StatusForbidden, "Invalid or expired link")
		}
		data, err := files.Download(c.Request().Context(), p)
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "File not found")
		}
		if err != nil {
			return err
		}
		return c.Blob(http.StatusOK, storage.ContentType(p), data)
	}
}
