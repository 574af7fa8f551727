package models

// FieldType identifies the kind of placeholder drawn on a page.
type FieldType string

const (
	FieldTypeSignature   FieldType = "signature"
	FieldTypeInitials    FieldType = "initials"
	FieldTypeText        FieldType = "text"
	FieldTypeDate        FieldType = "date"
	FieldTypeCheckbox    FieldType = "checkbox"
	FieldTypeName        FieldType = "name"
	FieldTypeDateOfBirth FieldType = "dateOfBirth"
)

// Field is a positioned, typed placeholder. Coordinates are in layout space
// with the origin at the top-left corner of the page.
type Field struct {
	ID                  string    `json:"id"`
	DocumentID          string    `json:"document_id"`
	Type                FieldType `json:"type"`
	PageNumber          int       `json:"page_number"`
	X                   float64   `json:"x"`
	Y                   float64   `json:"y"`
	Width               float64   `json:"width"`
	Height              float64   `json:"height"`
	Required            bool      `json:"required"`
	AssignedSignerEmail *string   `json:"assigned_signer_email,omitempty"`
	Value               *string   `json:"value,omitempty"`
}

// AssignedTo reports whether the field is assigned to email.
func (f *Field) AssignedTo(email string) bool {
	return f.AssignedSignerEmail != nil && *f.AssignedSignerEmail == email
}
