package signing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsign/backend/pkg/models"
)

func strp(s string) *string { return &s }

func assignedFields() []models.Field {
	email := "s1@example.com"
	return []models.Field{
		{ID: "sig", Type: models.FieldTypeSignature, Required: true, AssignedSignerEmail: &email},
		{ID: "when", Type: models.FieldTypeDate, Required: true, AssignedSignerEmail: &email},
		{ID: "note", Type: models.FieldTypeText, Required: false, AssignedSignerEmail: &email},
	}
}

func TestValidateSubmission(t *testing.T) {
	tests := []struct {
		name      string
		submitted map[string]*string
		wantErr   error
		want      map[string]string
		ignored   []string
	}{
		{
			name:      "All required present",
			submitted: map[string]*string{"sig": strp("Jane Roe"), "when": strp("2026-05-04")},
			want:      map[string]string{"sig": "Jane Roe", "when": "2026-05-04"},
		},
		{
			name:      "Optional included",
			submitted: map[string]*string{"sig": strp("Jane"), "when": strp("05/04/2026"), "note": strp("  ok  ")},
			want:      map[string]string{"sig": "Jane", "when": "2026-05-04", "note": "ok"},
		},
		{
			name:      "Missing required",
			submitted: map[string]*string{"sig": strp("Jane")},
			wantErr:   ErrRequiredField,
		},
		{
			name:      "Null required",
			submitted: map[string]*string{"sig": strp("Jane"), "when": nil},
			wantErr:   ErrRequiredField,
		},
		{
			name:      "Empty required",
			submitted: map[string]*string{"sig": strp(""), "when": strp("2026-05-04")},
			wantErr:   ErrRequiredField,
		},
		{
			name:      "Unassigned ids ignored",
			submitted: map[string]*string{"sig": strp("Jane"), "when": strp("2026-05-04"), "other": strp("x"), "another": strp("y")},
			want:      map[string]string{"sig": "Jane", "when": "2026-05-04"},
			ignored:   []string{"another", "other"},
		},
		{
			name:      "Unparseable date",
			submitted: map[string]*string{"sig": strp("Jane"), "when": strp("someday")},
			wantErr:   ErrInvalidFieldValue,
		},
		{
			name:    "Nil body",
			wantErr: ErrInvalidBody,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateSubmission(assignedFields(), tt.submitted)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, KindValidation, KindOf(err))
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Values)
			assert.Equal(t, tt.ignored, got.Ignored)
		})
	}
}

func TestValidateSubmission_ErrorNamesField(t *testing.T) {
	_, err := ValidateSubmission(assignedFields(), map[string]*string{"when": strp("2026-01-01")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"sig"`)
	assert.Contains(t, err.Error(), "signature")
}
