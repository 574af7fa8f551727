// Package mcp exposes document operations as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"docsign/backend/internal/auth"
	"docsign/backend/internal/services"
)

// DocumentReader returns an owner's view of a document.
type DocumentReader interface {
	Status(ctx context.Context, ownerID, documentID string) (*services.DocumentView, error)
}

// Resumer re-derives and advances a stuck document.
type Resumer interface {
	Resume(ctx context.Context, documentID string) (*services.ResumeResult, error)
}

type Server struct {
	mcpServer *server.MCPServer
	documents DocumentReader
	engine    Resumer
}

func NewServer(documents DocumentReader, engine Resumer) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"docsign",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		documents: documents,
		engine:    engine,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"document_status",
			mcp.WithDescription("Show a document's status, its signers in order and the render job"),
			mcp.WithString("document_id", mcp.Required(), mcp.Description("The ID of the document")),
		),
		s.handleDocumentStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"resume_document",
			mcp.WithDescription("Re-run the next workflow step of a document whose hand-off or rendering did not happen"),
			mcp.WithString("document_id", mcp.Required(), mcp.Description("The ID of the document")),
		),
		s.handleResumeDocument,
	)
}

func ownerID(ctx context.Context) (string, bool) {
	owner, ok := auth.OwnerFromContext(ctx)
	if !ok {
		return "", false
	}
	return owner.ID, true
}

func (s *Server) handleDocumentStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	documentID, err := request.RequireString("document_id")
	if err != nil || documentID == "" {
		return mcp.NewToolResultError("Missing required parameter: document_id"), nil
	}
	owner, ok := ownerID(ctx)
	if !ok {
		return mcp.NewToolResultError("Not authenticated"), nil
	}

	view, err := s.documents.Status(ctx, owner, documentID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load document: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(view)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleResumeDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	documentID, err := request.RequireString("document_id")
	if err != nil || documentID == "" {
		return mcp.NewToolResultError("Missing required parameter: document_id"), nil
	}
	owner, ok := ownerID(ctx)
	if !ok {
		return mcp.NewToolResultError("Not authenticated"), nil
	}

	// ownership check
	if _, err := s.documents.Status(ctx, owner, documentID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load document: %v", err)), nil
	}

	res, err := s.engine.Resume(ctx, documentID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to resume: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(res)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MountHTTPHandlers serves the SSE transport under /mcp. baseURL is the
// externally visible server URL used in the endpoint event.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer, baseURL string) {
	sseServer := server.NewSSEServer(mcpServer,
		server.WithBaseURL(baseURL),
		server.WithStaticBasePath("/mcp"),
	)

	mux.Handle("/mcp/sse", sseServer.SSEHandler())
	mux.Handle("/mcp/message", sseServer.MessageHandler())
}
