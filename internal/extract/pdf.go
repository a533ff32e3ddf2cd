// Package extract provides per-page PDF text extraction with token positions.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/studyowl/studyowl/internal/models"
)

// Default US Letter dimensions in points, used when a page reports no MediaBox.
const (
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
)

// PDF extracts every page of a PDF: plain text, page dimensions, and
// positioned tokens in top-left coordinate space. Pages with no text yield
// an entry with empty Text so page numbering stays aligned with the viewer.
func PDF(content []byte) ([]models.PageContent, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	numPages := r.NumPage()
	pages := make([]models.PageContent, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		pc := models.PageContent{Number: i, Width: defaultPageWidth, Height: defaultPageHeight}
		if page.V.IsNull() {
			pages = append(pages, pc)
			continue
		}
		if w, h, ok := mediaBox(page); ok {
			pc.Width, pc.Height = w, h
		}
		texts := page.Content().Text
		tokens := make([]models.Token, 0, len(texts))
		var words []string
		for _, t := range texts {
			if strings.TrimSpace(t.S) == "" {
				continue
			}
			tokens = append(tokens, models.Token{
				Text: t.S,
				X:    t.X,
				// PDF origin is bottom-left; convert to top-left space.
				Y:      pc.Height - t.Y - t.FontSize,
				Width:  tokenWidth(t),
				Height: t.FontSize,
			})
			words = append(words, t.S)
		}
		pc.Tokens = tokens
		pc.Text = strings.Join(strings.Fields(strings.Join(words, " ")), " ")
		pages = append(pages, pc)
	}
	return pages, nil
}

// tokenWidth returns the reported glyph-run width, estimating from font size
// when the reader gives none.
func tokenWidth(t pdf.Text) float64 {
	if t.W > 0 {
		return t.W
	}
	return float64(len(t.S)) * t.FontSize * 0.5
}

// mediaBox resolves a page's MediaBox, walking the Parent chain for
// inherited entries. Returns ok=false when no usable box is found.
func mediaBox(page pdf.Page) (width, height float64, ok bool) {
	v := page.V
	for depth := 0; depth < 16 && !v.IsNull(); depth++ {
		mb := v.Key("MediaBox")
		if !mb.IsNull() && mb.Len() == 4 {
			w := mb.Index(2).Float64() - mb.Index(0).Float64()
			h := mb.Index(3).Float64() - mb.Index(1).Float64()
			if w > 0 && h > 0 {
				return w, h, true
			}
		}
		v = v.Key("Parent")
	}
	return 0, 0, false
}
