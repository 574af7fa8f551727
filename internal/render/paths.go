package render

import (
	"path"
	"strings"
)

func withSuffix(p, suffix string) string {
	ext := path.Ext(p)
	return strings.TrimSuffix(p, ext) + suffix + ext
}

// SignedPath is where the stamped copy of source is stored.
func SignedPath(source string) string { return withSuffix(source, "_signed") }

// AuditPath is where the audit certificate for source is stored.
func AuditPath(source string) string { return withSuffix(source, "_audit_certificate") }
