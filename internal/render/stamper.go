package render

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"sort"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"docsign/backend/internal/fields"
	"docsign/backend/pkg/models"
)

const (
	inkColor         = "#000000"
	placeholderColor = "#8c8c8c"
	minFontSize      = 6
	maxFontSize      = 14
	// smallest scale factor the watermark engine accepts
	minImageScale = 0.01
)

var disableConfigDir sync.Once

// Logger is the subset of the application logger used by this package.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Stamper overlays captured field values onto a PDF.
type Stamper struct {
	conf   *model.Configuration
	logger Logger
}

// NewStamper creates a Stamper.
func NewStamper(logger Logger) *Stamper {
	disableConfigDir.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Stamper{conf: conf, logger: logger}
}

// Stamp draws every valued field of fs onto src and returns the new PDF.
// Fields placed on pages the document does not have are skipped.
func (s *Stamper) Stamp(src []byte, fs []models.Field) ([]byte, error) {
	dims, err := api.PageDims(bytes.NewReader(src), s.conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read page dimensions: %w", err)
	}

	sorted := append([]models.Field(nil), fs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	marks := map[int][]*model.Watermark{}
	for _, f := range sorted {
		if f.Value == nil || *f.Value == "" {
			continue
		}
		if f.PageNumber < 1 || f.PageNumber > len(dims) {
			s.logger.Warn("skipping field on missing page", "field_id", f.ID, "page", f.PageNumber, "pages", len(dims))
			continue
		}
		box := ToRenderSpace(f, dims[f.PageNumber-1].Height)
		wm, err := s.watermark(f, box)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.ID, err)
		}
		if wm != nil {
			marks[f.PageNumber] = append(marks[f.PageNumber], wm)
		}
	}
	if len(marks) == 0 {
		return src, nil
	}

	var out bytes.Buffer
	if err := api.AddWatermarksSliceMap(bytes.NewReader(src), &out, marks, s.conf); err != nil {
		return nil, fmt.Errorf("failed to stamp fields: %w", err)
	}
	return out.Bytes(), nil
}

func (s *Stamper) watermark(f models.Field, box Rect) (*model.Watermark, error) {
	kind, err := fields.Lookup(f.Type)
	if err != nil {
		return nil, err
	}
	mark, err := kind.Stamp.Stamp(*f.Value)
	if err != nil {
		s.logger.Warn("field value cannot be drawn; using placeholder", "field_id", f.ID, "error", err)
		return textMark(kind.Placeholder, box, placeholderColor)
	}

	switch m := mark.(type) {
	case fields.TextMark:
		if m.Text == "" {
			return nil, nil
		}
		return textMark(m.Text, box, inkColor)
	case fields.ImageMark:
		cfg, _, err := image.DecodeConfig(bytes.NewReader(m.Data))
		if err != nil || cfg.Width == 0 || cfg.Height == 0 {
			s.logger.Warn("signature image cannot be decoded; using placeholder", "field_id", f.ID, "error", err)
			return textMark(kind.Placeholder, box, placeholderColor)
		}
		if scaleToFit(cfg, box) < minImageScale {
			s.logger.Warn("signature image too large to scale; using placeholder", "field_id", f.ID,
				"width", cfg.Width, "height", cfg.Height)
			return textMark(kind.Placeholder, box, placeholderColor)
		}
		return imageMark(m.Data, cfg, box)
	}
	return nil, fmt.Errorf("unsupported mark %T", mark)
}

// fontSize fits text into box using an average Helvetica glyph width of half
// the font size.
func fontSize(text string, box Rect) int {
	size := math.Min(box.Height*0.7, maxFontSize)
	if n := len([]rune(text)); n > 0 {
		size = math.Min(size, box.Width/(0.5*float64(n)))
	}
	return int(math.Max(math.Floor(size), minFontSize))
}

func textMark(text string, box Rect, color string) (*model.Watermark, error) {
	size := fontSize(text, box)
	dy := math.Max((box.Height-float64(size))/2, 0)
	desc := fmt.Sprintf("fontname:Helvetica, points:%d, position:bl, offset:%.2f %.2f, scalefactor:1 abs, rotation:0, fillcolor:%s, opacity:1",
		size, box.X+2, box.Y+dy, color)
	return api.TextWatermark(text, desc, true, false, types.POINTS)
}

func scaleToFit(cfg image.Config, box Rect) float64 {
	return math.Min(box.Width/float64(cfg.Width), box.Height/float64(cfg.Height))
}

func imageMark(data []byte, cfg image.Config, box Rect) (*model.Watermark, error) {
	w, h := float64(cfg.Width), float64(cfg.Height)
	scale := scaleToFit(cfg, box)
	dx := (box.Width - w*scale) / 2
	dy := (box.Height - h*scale) / 2
	desc := fmt.Sprintf("position:bl, offset:%.2f %.2f, scalefactor:%.4f abs, rotation:0, opacity:1",
		box.X+dx, box.Y+dy, scale)
	return api.ImageWatermarkForReader(bytes.NewReader(data), desc, true, false, types.POINTS)
}
