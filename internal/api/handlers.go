// Package api contains the HTTP handlers for the signing service.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"docsign/backend/internal/services"
	"docsign/backend/pkg/models"
)

const (
	serviceName    = "docsign"
	serviceVersion = "1.0.0"
)

// Logger defines the logging interface used by the handlers.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Documents is the owner-facing document workflow.
type Documents interface {
	Prepare(ctx context.Context, ownerID, documentID string, in services.PrepareInput) error
	Send(ctx context.Context, ownerID, documentID string) error
	Status(ctx context.Context, ownerID, documentID string) (*services.DocumentView, error)
	Delete(ctx context.Context, ownerID, documentID string) error
	OpenSession(ctx context.Context, token string) (*services.SessionView, error)
}

// Completer records a signer's submission.
type Completer interface {
	Complete(ctx context.Context, in services.CompleteInput) (*services.CompleteResult, error)
}

// Server holds the dependencies for the API server.
type Server struct {
	documents Documents
	engine    Completer
	db        Pinger
	logger    Logger
}

var _ ServerInterface = (*Server)(nil)

// NewServer creates a new Server.
func NewServer(documents Documents, engine Completer, db Pinger, logger Logger) *Server {
	return &Server{documents: documents, engine: engine, db: db, logger: logger}
}

// HandleHealth returns basic health status (always returns 200 OK)
func (s *Server) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, models.HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   serviceName,
		Version:   serviceVersion,
	})
}

// HandleReady checks the database and reports 503 when it is unreachable.
func (s *Server) HandleReady(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := models.HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   serviceName,
		Version:   serviceVersion,
		Checks:    map[string]string{"database": "ok"},
	}
	code := http.StatusOK
	if err := s.db.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		status.Status = "degraded"
		status.Checks["database"] = "unreachable"
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
