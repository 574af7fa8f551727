package render

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"

	"docsign/backend/pkg/models"
)

// ConsentStatement closes every audit certificate.
const ConsentStatement = "All parties agreed to conduct this transaction electronically."

// CertificateInput is the record an audit certificate is built from.
type CertificateInput struct {
	DocumentID   string
	DocumentName string
	CompletedAt  time.Time
	// Signers are the completed signers in signing order.
	Signers []models.Signer
}

// Certificate renders a standalone audit certificate PDF. Identical input
// yields identical bytes.
func Certificate(in CertificateInput) ([]byte, error) {
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(in.CompletedAt.UTC())
	pdf.SetModificationDate(in.CompletedAt.UTC())
	pdf.SetTitle("Audit Certificate", true)
	pdf.SetCreator("docsign", true)
	pdf.SetMargins(56, 56, 56)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 28, "Audit Certificate", "", 1, "L", false, 0, "")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	for _, row := range [][2]string{
		{"Document", in.DocumentName},
		{"Document ID", in.DocumentID},
		{"Completed", in.CompletedAt.UTC().Format(time.RFC3339)},
	} {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(90, 16, row[0], "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 16, tr(row[1]), "", "L", false)
	}
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 20, "Signatures", "", 1, "L", false, 0, "")
	pdf.Ln(4)

	widths := []float64{44, 200, 143, 96}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(235, 235, 235)
	for i, h := range []string{"Order", "Signer", "Signed at (UTC)", "IP address"} {
		pdf.CellFormat(widths[i], 18, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, s := range in.Signers {
		signedAt := "-"
		if s.SignedAt != nil {
			signedAt = s.SignedAt.UTC().Format(time.RFC3339)
		}
		ip := "unknown"
		if s.IPAddress != nil && *s.IPAddress != "" {
			ip = *s.IPAddress
		}
		for i, v := range []string{strconv.Itoa(s.Order), tr(s.Email), signedAt, ip} {
			pdf.CellFormat(widths[i], 16, v, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.Ln(18)

	pdf.SetFont("Helvetica", "I", 11)
	pdf.MultiCell(0, 16, ConsentStatement, "", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render audit certificate: %w", err)
	}
	return buf.Bytes(), nil
}
