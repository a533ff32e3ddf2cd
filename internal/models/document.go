// Package models defines core data structures for documents, chunks, and chat turns.
package models

import "time"

// Document represents an ingested PDF with metadata.
type Document struct {
	ID        string                 `json:"id" db:"id"`
	Filename  string                 `json:"filename" db:"filename"`
	PageCount int                    `json:"page_count" db:"page_count"`
	Metadata  map[string]interface{} `json:"metadata" db:"metadata"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt time.Time              `json:"updated_at" db:"updated_at"`
}

// PageDimensions holds a page's width and height in PDF points.
type PageDimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Bounds is a rectangle in page coordinate space, origin at the top-left.
type Bounds struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Token is a positioned text span from a PDF text layer.
type Token struct {
	Text   string
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// PageContent is the extracted content of one PDF page: plain text plus
// optional positioned tokens. Number is 1-based.
type PageContent struct {
	Number int
	Text   string
	Width  float64
	Height float64
	Tokens []Token
}

// Chunk is a bounded span of a document's page text, the atomic unit of
// embedding and retrieval. StartIndex/EndIndex are word offsets into the
// page's text. Embedding is nil when generation failed; such chunks are
// persisted but never matched by similarity search. Chunks are immutable
// after ingestion.
type Chunk struct {
	ID         string    `json:"id" db:"id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	Content    string    `json:"content" db:"content"`
	PageNumber int       `json:"page_number" db:"page_number"`
	StartIndex int       `json:"start_index" db:"start_index"`
	EndIndex   int       `json:"end_index" db:"end_index"`
	Embedding  []float32 `json:"-" db:"-"`
	Bounds     *Bounds   `json:"bounds,omitempty"`
	PageWidth  float64   `json:"page_width,omitempty"`
	PageHeight float64   `json:"page_height,omitempty"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// HasEmbedding reports whether the chunk carries an embedding vector.
func (c *Chunk) HasEmbedding() bool {
	return len(c.Embedding) > 0
}
