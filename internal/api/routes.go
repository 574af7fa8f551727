package api

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
)

// ServerInterface represents all server handlers described by openapi.yaml.
type ServerInterface interface {
	// Open a signing session
	// (GET /sign/{token})
	GetSigningSession(ctx echo.Context, token string) error
	// Submit field values and complete the signer's turn
	// (POST /sign/{token}/complete)
	CompleteSigning(ctx echo.Context, token string) error

	// Document status with signers and render job
	// (GET /api/v1/documents/{id})
	GetDocument(ctx echo.Context, id uuid.UUID) error
	// Delete a document
	// (DELETE /api/v1/documents/{id})
	DeleteDocument(ctx echo.Context, id uuid.UUID) error
	// Replace signers and fields
	// (PUT /api/v1/documents/{id}/prepare)
	PrepareDocument(ctx echo.Context, id uuid.UUID) error
	// Send to the first signer
	// (POST /api/v1/documents/{id}/send)
	SendDocument(ctx echo.Context, id uuid.UUID) error
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func bindToken(ctx echo.Context) (string, error) {
	var token string
	err := runtime.BindStyledParameterWithOptions("simple", "token", ctx.Param("token"), &token,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter token: %s", err))
	}
	return token, nil
}

func bindID(ctx echo.Context) (uuid.UUID, error) {
	var id uuid.UUID
	err := runtime.BindStyledParameterWithOptions("simple", "id", ctx.Param("id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter id: %s", err))
	}
	return id, nil
}

// GetSigningSession converts echo context to params.
func (w *ServerInterfaceWrapper) GetSigningSession(ctx echo.Context) error {
	token, err := bindToken(ctx)
	if err != nil {
		return err
	}
	return w.Handler.GetSigningSession(ctx, token)
}

// CompleteSigning converts echo context to params.
func (w *ServerInterfaceWrapper) CompleteSigning(ctx echo.Context) error {
	token, err := bindToken(ctx)
	if err != nil {
		return err
	}
	return w.Handler.CompleteSigning(ctx, token)
}

// GetDocument converts echo context to params.
func (w *ServerInterfaceWrapper) GetDocument(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.GetDocument(ctx, id)
}

// DeleteDocument converts echo context to params.
func (w *ServerInterfaceWrapper) DeleteDocument(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.DeleteDocument(ctx, id)
}

// PrepareDocument converts echo context to params.
func (w *ServerInterfaceWrapper) PrepareDocument(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.PrepareDocument(ctx, id)
}

// SendDocument converts echo context to params.
func (w *ServerInterfaceWrapper) SendDocument(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.SendDocument(ctx, id)
}

// EchoRouter is implemented by both echo.Echo and echo.Group.
type EchoRouter interface {
	CONNECT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	DELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	HEAD(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	OPTIONS(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	PATCH(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	PUT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	TRACE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterSigningHandlers adds the public signer routes to a router mounted
// at /sign.
func RegisterSigningHandlers(router EchoRouter, si ServerInterface) {
	wrapper := ServerInterfaceWrapper{Handler: si}
	router.GET("/:token", wrapper.GetSigningSession)
	router.POST("/:token/complete", wrapper.CompleteSigning)
}

// RegisterHandlers adds the owner routes to a router mounted at /api/v1.
func RegisterHandlers(router EchoRouter, si ServerInterface) {
	wrapper := ServerInterfaceWrapper{Handler: si}
	router.GET("/documents/:id", wrapper.GetDocument)
	router.DELETE("/documents/:id", wrapper.DeleteDocument)
	router.PUT("/documents/:id/prepare", wrapper.PrepareDocument)
	router.POST("/documents/:id/send", wrapper.SendDocument)
}
