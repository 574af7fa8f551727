// Package fields models the field types a signer can fill in. Each type pairs
// a capture strategy, which normalises what the signer submitted, with a stamp
// strategy, which decides how the stored value is drawn on the page.
package fields

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"docsign/backend/pkg/models"
)

// ErrUnknownType is returned for field types with no registered kind.
var ErrUnknownType = errors.New("unknown field type")

// Mark is a drawing instruction produced by a stamp strategy.
type Mark interface {
	isMark()
}

// TextMark draws Text at the field anchor.
type TextMark struct {
	Text string
}

// ImageMark draws a raster image scaled into the field box.
type ImageMark struct {
	Data      []byte
	MediaType string
}

func (TextMark) isMark()  {}
func (ImageMark) isMark() {}

// Capturer normalises a submitted value.
type Capturer interface {
	Capture(raw string) (string, error)
}

// Stamper turns a stored value into a Mark.
type Stamper interface {
	Stamp(value string) (Mark, error)
}

// CaptureFunc adapts a function to Capturer.
type CaptureFunc func(raw string) (string, error)

func (f CaptureFunc) Capture(raw string) (string, error) { return f(raw) }

// StampFunc adapts a function to Stamper.
type StampFunc func(value string) (Mark, error)

func (f StampFunc) Stamp(value string) (Mark, error) { return f(value) }

// Kind is the behaviour attached to a field type.
type Kind struct {
	Type    models.FieldType
	Capture Capturer
	Stamp   Stamper
	// Placeholder labels the field when its value cannot be drawn.
	Placeholder string
}

var registry = map[models.FieldType]Kind{
	models.FieldTypeSignature:   {Type: models.FieldTypeSignature, Capture: CaptureFunc(captureSignature), Stamp: StampFunc(stampSignature), Placeholder: "[Signature]"},
	models.FieldTypeInitials:    {Type: models.FieldTypeInitials, Capture: CaptureFunc(captureSignature), Stamp: StampFunc(stampSignature), Placeholder: "[Initials]"},
	models.FieldTypeText:        {Type: models.FieldTypeText, Capture: CaptureFunc(captureText), Stamp: StampFunc(stampText), Placeholder: "[Text]"},
	models.FieldTypeName:        {Type: models.FieldTypeName, Capture: CaptureFunc(captureText), Stamp: StampFunc(stampText), Placeholder: "[Name]"},
	models.FieldTypeDate:        {Type: models.FieldTypeDate, Capture: CaptureFunc(captureDate), Stamp: StampFunc(stampText), Placeholder: "[Date]"},
	models.FieldTypeDateOfBirth: {Type: models.FieldTypeDateOfBirth, Capture: CaptureFunc(captureDate), Stamp: StampFunc(stampText), Placeholder: "[Date of Birth]"},
	models.FieldTypeCheckbox:    {Type: models.FieldTypeCheckbox, Capture: CaptureFunc(captureCheckbox), Stamp: StampFunc(stampCheckbox), Placeholder: "[ ]"},
}

// Lookup returns the Kind registered for t.
func Lookup(t models.FieldType) (Kind, error) {
	k, ok := registry[t]
	if !ok {
		return Kind{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return k, nil
}

// Known reports whether t is a registered field type.
func Known(t models.FieldType) bool {
	_, ok := registry[t]
	return ok
}

const dataURLPrefix = "data:"

// dateLayouts are accepted on capture; values are stored as ISO dates.
var dateLayouts = []string{"2006-01-02", time.RFC3339, "01/02/2006", "2006/01/02", "Jan 2, 2006", "January 2, 2006"}

func captureText(raw string) (string, error) {
	return strings.TrimSpace(raw), nil
}

// captureSignature accepts a drawn signature as an image data URL or a typed
// signature as plain text.
func captureSignature(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if !strings.HasPrefix(v, dataURLPrefix) {
		return v, nil
	}
	if _, _, err := DecodeDataURL(v); err != nil {
		return "", err
	}
	return v, nil
}

func captureDate(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("invalid date %q", v)
}

func captureCheckbox(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "on", "yes", "1", "checked":
		return "true", nil
	case "false", "off", "no", "0":
		return "false", nil
	}
	return "", fmt.Errorf("invalid checkbox value %q", raw)
}

func stampSignature(value string) (Mark, error) {
	if !strings.HasPrefix(value, dataURLPrefix) {
		return TextMark{Text: value}, nil
	}
	data, mediaType, err := DecodeDataURL(value)
	if err != nil {
		return nil, err
	}
	return ImageMark{Data: data, MediaType: mediaType}, nil
}

func stampText(value string) (Mark, error) {
	return TextMark{Text: value}, nil
}

func stampCheckbox(value string) (Mark, error) {
	if value == "true" {
		return TextMark{Text: "X"}, nil
	}
	return TextMark{Text: ""}, nil
}

// DecodeDataURL decodes a base64 image data URL such as
// "data:image/png;base64,iVBOR...".
func DecodeDataURL(v string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(v, dataURLPrefix)
	if !ok {
		return nil, "", errors.New("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", errors.New("malformed data URL")
	}
	mediaType, enc, _ := strings.Cut(meta, ";")
	if !strings.HasPrefix(mediaType, "image/") {
		return nil, "", fmt.Errorf("unsupported media type %q", mediaType)
	}
	if enc != "base64" {
		return nil, "", errors.New("data URL must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("invalid base64 payload: %w", err)
	}
	return data, mediaType, nil
}
