// Package chunker splits extracted page text into overlapping, position-aware chunks.
package chunker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/studyowl/studyowl/internal/models"
)

// ErrInvalidChunking reports a configuration that cannot make progress,
// e.g. overlap at least as large as the window size.
var ErrInvalidChunking = errors.New("invalid chunking configuration")

// PlaceholderContent is the synthetic content of the single chunk emitted
// for a document that yields no text at all.
const PlaceholderContent = "Empty PDF document"

const (
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
)

// Chunker produces overlapping word-window chunks from page text.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	minChars     int
}

// New creates a chunker with the given window size, overlap, and minimum
// chunk length, all validated up front. Overlap must be smaller than the
// window size or the window could never advance.
func New(chunkSize, chunkOverlap, minChars int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size %d must be positive", ErrInvalidChunking, chunkSize)
	}
	if chunkOverlap < 0 {
		return nil, fmt.Errorf("%w: chunk overlap %d must not be negative", ErrInvalidChunking, chunkOverlap)
	}
	if chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap %d must be smaller than chunk size %d", ErrInvalidChunking, chunkOverlap, chunkSize)
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap, minChars: minChars}, nil
}

// ChunkDocument chunks every page of a document. A document that yields no
// chunks at all gets exactly one placeholder chunk so retrieval never runs
// against an empty set.
func (c *Chunker) ChunkDocument(docID string, pages []models.PageContent) []*models.Chunk {
	var chunks []*models.Chunk
	for _, page := range pages {
		chunks = append(chunks, c.ChunkPage(docID, page)...)
	}
	if len(chunks) == 0 {
		chunks = append(chunks, Placeholder(docID))
	}
	return chunks
}

// ChunkPage splits one page's text into overlapping word windows. Windows
// advance by chunkSize−chunkOverlap words; a window shorter than minChars is
// discarded unless it is the page's first, so a short page still yields one
// chunk. An empty page yields nil.
func (c *Chunker) ChunkPage(docID string, page models.PageContent) []*models.Chunk {
	words := strings.Fields(page.Text)
	if len(words) == 0 {
		return nil
	}

	pageWidth, pageHeight := page.Width, page.Height
	if pageWidth <= 0 {
		pageWidth = defaultPageWidth
	}
	if pageHeight <= 0 {
		pageHeight = defaultPageHeight
	}
	tokenFor := matchTokens(words, page.Tokens)

	var chunks []*models.Chunk
	step := c.chunkSize - c.chunkOverlap
	for start := 0; start < len(words); start += step {
		end := start + c.chunkSize
		if end > len(words) {
			end = len(words)
		}
		content := strings.Join(words[start:end], " ")
		if len(content) < c.minChars && len(chunks) > 0 {
			continue
		}
		chunks = append(chunks, &models.Chunk{
			ID:         fmt.Sprintf("%s_p%d_c%d", docID, page.Number, len(chunks)),
			DocumentID: docID,
			Content:    content,
			PageNumber: page.Number,
			StartIndex: start,
			EndIndex:   end,
			Bounds:     chunkBounds(words, tokenFor, page.Tokens, start, end, pageWidth, pageHeight),
			PageWidth:  pageWidth,
			PageHeight: pageHeight,
		})
	}
	return chunks
}

// Placeholder returns the single synthetic chunk emitted for an empty document.
func Placeholder(docID string) *models.Chunk {
	return &models.Chunk{
		ID:         docID + "_p1_c0",
		DocumentID: docID,
		Content:    PlaceholderContent,
		PageNumber: 1,
		StartIndex: 0,
		EndIndex:   0,
		Bounds:     &models.Bounds{X: 0, Y: 0, Width: defaultPageWidth, Height: defaultPageHeight},
		PageWidth:  defaultPageWidth,
		PageHeight: defaultPageHeight,
	}
}

// matchTokens assigns each word the first unconsumed token containing it,
// scanning tokens left to right. A token is consumed once assigned, so the
// cursor always moves past it and matching terminates even when tokens
// repeat. Words with no matching token left get -1.
func matchTokens(words []string, tokens []models.Token) []int {
	assigned := make([]int, len(words))
	cursor := 0
	for i, word := range words {
		assigned[i] = -1
		for j := cursor; j < len(tokens); j++ {
			if strings.Contains(tokens[j].Text, word) {
				assigned[i] = j
				cursor = j + 1
				break
			}
		}
	}
	return assigned
}

// chunkBounds returns the union of the matched tokens' rectangles for the
// window [start,end). With no matched token it falls back to a box spanning
// the full page width at a height proportional to the window's word offsets.
func chunkBounds(words []string, tokenFor []int, tokens []models.Token, start, end int, pageWidth, pageHeight float64) *models.Bounds {
	minX, minY := pageWidth, pageHeight
	maxX, maxY := 0.0, 0.0
	matched := false
	for i := start; i < end; i++ {
		j := tokenFor[i]
		if j < 0 {
			continue
		}
		t := tokens[j]
		matched = true
		minX = min(minX, t.X)
		minY = min(minY, t.Y)
		maxX = max(maxX, t.X+t.Width)
		maxY = max(maxY, t.Y+t.Height)
	}
	if !matched {
		top := float64(start) / float64(len(words)) * pageHeight
		return &models.Bounds{
			X:      0,
			Y:      top,
			Width:  pageWidth,
			Height: float64(end-start) / float64(len(words)) * pageHeight,
		}
	}
	return &models.Bounds{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}
