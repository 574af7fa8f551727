// Package models defines the domain models for the signing service
package models

import (
	"time"
)

// DocumentStatus represents where a document is in its signing lifecycle
type DocumentStatus string

const (
	DocumentStatusDraft       DocumentStatus = "draft"
	DocumentStatusReadyToSend DocumentStatus = "ready_to_send"
	DocumentStatusSent        DocumentStatus = "sent"
	DocumentStatusCompleted   DocumentStatus = "completed"
)

// Valid reports whether s is a known document status.
func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentStatusDraft, DocumentStatusReadyToSend, DocumentStatusSent, DocumentStatusCompleted:
		return true
	}
	return false
}

// Document is an uploaded file that is prepared, sent and signed.
type Document struct {
	ID          string         `json:"id" db:"id"`
	Name        string         `json:"name" db:"name"`
	SourcePath  string         `json:"source_path" db:"source_path"`
	OwnerID     string         `json:"owner_id" db:"owner_id"`
	Status      DocumentStatus `json:"status" db:"status"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// DisplayName returns the document name or a generic fallback.
func (d *Document) DisplayName() string {
	if d == nil || d.Name == "" {
		return "Document"
	}
	return d.Name
}

// HealthStatus represents service health
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProblemDetails represents RFC 7807 Problem Details
type ProblemDetails struct {
	Type        string      `json:"type"`
	Title       string      `json:"title"`
	Status      int         `json:"status"`
	Detail      string      `json:"detail,omitempty"`
	Instance    string      `json:"instance,omitempty"`
	TraceID     string      `json:"trace_id,omitempty"`
	TokenStatus TokenStatus `json:"token_status,omitempty"`
}
