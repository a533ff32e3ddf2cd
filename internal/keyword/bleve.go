package keyword

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"

	"github.com/studyowl/studyowl/internal/models"
	"github.com/studyowl/studyowl/pkg/utils"
)

const fragmentLength = 200

// chunkDoc is the shape Bleve indexes for each chunk.
type chunkDoc struct {
	DocumentID string  `json:"document_id"`
	Content    string  `json:"content"`
	Page       float64 `json:"page"`
}

// BleveIndex implements Index using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path.
// An existing index is opened and reused so that unchanged documents are
// not re-indexed. If the mapping changes in code, remove the index
// directory to force a full re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so queries like
	// "bayes" match the exact word; the English analyzer stems
	// "Bayesian" -> "bayesi" and "bayes" -> "bay", so they don't match.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("document_id", bleve.NewKeywordFieldMapping())
	docMapping.AddFieldMappingsAt("page", bleve.NewNumericFieldMapping())
	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// IndexChunks adds chunks to the index in a single batch.
func (b *BleveIndex) IndexChunks(ctx context.Context, chunks []*models.Chunk) error {
	batch := b.index.NewBatch()
	for _, c := range chunks {
		doc := chunkDoc{
			DocumentID: c.DocumentID,
			Content:    c.Content,
			Page:       float64(c.PageNumber),
		}
		if err := batch.Index(c.ID, doc); err != nil {
			return fmt.Errorf("failed to add chunk %s to batch: %w", c.ID, err)
		}
	}
	return b.index.Batch(batch)
}

// Search runs a match query over chunk content, restricted to one document.
func (b *BleveIndex) Search(ctx context.Context, documentID, query string, limit int) ([]*Result, error) {
	match := bleve.NewMatchQuery(query)
	match.SetField("content")

	scope := bleve.NewTermQuery(documentID)
	scope.SetField("document_id")

	req := bleve.NewSearchRequest(bleve.NewConjunctionQuery(match, scope))
	req.Size = limit
	req.Fields = []string{"content", "page"}

	results, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	out := make([]*Result, 0, len(results.Hits))
	for _, hit := range results.Hits {
		r := &Result{ChunkID: hit.ID, Score: hit.Score}
		if page, ok := hit.Fields["page"].(float64); ok {
			r.Page = int(page)
		}
		if content, ok := hit.Fields["content"].(string); ok {
			r.Fragment = utils.Snippet(content, fragmentLength)
		}
		out = append(out, r)
	}
	return out, nil
}

// DeleteDocument removes all chunks of a document from the index.
func (b *BleveIndex) DeleteDocument(ctx context.Context, documentID string) error {
	scope := bleve.NewTermQuery(documentID)
	scope.SetField("document_id")

	// IDs only; page through in case a document has many chunks.
	for {
		req := bleve.NewSearchRequest(scope)
		req.Size = 1000
		results, err := b.index.Search(req)
		if err != nil {
			return fmt.Errorf("Bleve search failed: %w", err)
		}
		if len(results.Hits) == 0 {
			return nil
		}
		batch := b.index.NewBatch()
		for _, hit := range results.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
		if len(results.Hits) < 1000 {
			return nil
		}
	}
}

// DocCount returns the total number of indexed chunks.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
