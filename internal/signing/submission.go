package signing

import (
	"sort"

	"docsign/backend/internal/fields"
	"docsign/backend/pkg/models"
)

// Submission is the validated subset of what a signer posted.
type Submission struct {
	// Values maps assigned field ids to captured values.
	Values map[string]string
	// Ignored lists submitted ids that are not assigned to the signer.
	Ignored []string
}

// ValidateSubmission checks submitted values against the signer's assigned
// fields. Every required assigned field needs a non-empty value. Ids that are
// not assigned are reported in Ignored and never applied.
func ValidateSubmission(assigned []models.Field, submitted map[string]*string) (*Submission, error) {
	const op = "validate submission"
	if submitted == nil {
		return nil, E(KindValidation, op, ErrInvalidBody)
	}

	out := &Submission{Values: make(map[string]string, len(assigned))}
	assignedIDs := make(map[string]struct{}, len(assigned))

	for _, f := range assigned {
		assignedIDs[f.ID] = struct{}{}

		raw, present := submitted[f.ID]
		empty := !present || raw == nil || *raw == ""
		if empty {
			if f.Required {
				return nil, Validationf(op, ErrRequiredField, "field %q (type: %s)", f.ID, f.Type)
			}
			continue
		}

		kind, err := fields.Lookup(f.Type)
		if err != nil {
			return nil, Validationf(op, ErrInvalidFieldValue, "field %q: %v", f.ID, err)
		}
		v, err := kind.Capture.Capture(*raw)
		if err != nil {
			return nil, Validationf(op, ErrInvalidFieldValue, "field %q: %v", f.ID, err)
		}
		if v == "" {
			if f.Required {
				return nil, Validationf(op, ErrRequiredField, "field %q (type: %s)", f.ID, f.Type)
			}
			continue
		}
		out.Values[f.ID] = v
	}

	for id := range submitted {
		if _, ok := assignedIDs[id]; !ok {
			out.Ignored = append(out.Ignored, id)
		}
	}
	sort.Strings(out.Ignored)
	return out, nil
}
