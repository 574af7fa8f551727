// Package render produces the executed document and its audit certificate
// once every signer has finished.
package render

import "docsign/backend/pkg/models"

// Rect is a box in PDF user space: origin at the bottom-left of the page,
// y growing upwards.
type Rect struct {
	X, Y, Width, Height float64
}

// ToRenderSpace converts a field's top-left based box into PDF user space on
// a page of the given height.
func ToRenderSpace(f models.Field, pageHeight float64) Rect {
	return Rect{
		X:      f.X,
		Y:      pageHeight - (f.Y + f.Height),
		Width:  f.Width,
		Height: f.Height,
	}
}
