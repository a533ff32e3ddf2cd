// Package ingest turns PDF files into stored, embedded, and indexed chunks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/studyowl/studyowl/internal/chunker"
	"github.com/studyowl/studyowl/internal/embedding"
	"github.com/studyowl/studyowl/internal/extract"
	"github.com/studyowl/studyowl/internal/fileid"
	"github.com/studyowl/studyowl/internal/keyword"
	"github.com/studyowl/studyowl/internal/models"
	"github.com/studyowl/studyowl/internal/storage"
	"github.com/studyowl/studyowl/internal/vector"
)

const (
	metaKeySourcePath  = "source_path"
	metaKeySourceMtime = "source_mtime"
	metaKeySourceSize  = "source_size"
)

// Report summarizes one ingestion run for a document.
type Report struct {
	DocumentID    string `json:"document_id"`
	Filename      string `json:"filename"`
	PageCount     int    `json:"page_count"`
	ChunkCount    int    `json:"chunk_count"`
	EmbeddedCount int    `json:"embedded_count"`
	FailedBatches int    `json:"failed_batches"`
	Skipped       bool   `json:"skipped,omitempty"`
}

// Ingestor runs the extract, chunk, embed, and index pipeline.
type Ingestor struct {
	storage      storage.Storage
	embedder     embedding.Embedder
	vectorIndex  vector.Index
	keywordIndex keyword.Index
	chunker      *chunker.Chunker
	batchSize    int
	logger       *zap.Logger // optional; when set, logs pipeline events
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithLogger sets a logger for pipeline events (file ingested, batch failed, etc.).
func WithLogger(l *zap.Logger) Option {
	return func(ing *Ingestor) { ing.logger = l }
}

// NewIngestor creates an ingestor with the given dependencies. batchSize is
// the number of chunks embedded per service call.
func NewIngestor(
	store storage.Storage,
	embedder embedding.Embedder,
	vectorIndex vector.Index,
	keywordIndex keyword.Index,
	ch *chunker.Chunker,
	batchSize int,
	opts ...Option,
) *Ingestor {
	if batchSize <= 0 {
		batchSize = 20
	}
	ing := &Ingestor{
		storage:      store,
		embedder:     embedder,
		vectorIndex:  vectorIndex,
		keywordIndex: keywordIndex,
		chunker:      ch,
		batchSize:    batchSize,
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// IngestPDF extracts pages from raw PDF bytes and ingests them.
func (ing *Ingestor) IngestPDF(ctx context.Context, docID, filename string, content []byte, metadata map[string]interface{}) (*Report, error) {
	pages, err := extract.PDF(content)
	if err != nil {
		return nil, fmt.Errorf("extract pdf: %w", err)
	}
	return ing.IngestPages(ctx, docID, filename, pages, metadata)
}

// IngestPages chunks, embeds, stores, and indexes extracted pages. A failed
// embedding batch does not abort the run: its chunks are persisted without
// embeddings and stay out of similarity search. Re-ingesting a document ID
// replaces the previous version.
func (ing *Ingestor) IngestPages(ctx context.Context, docID, filename string, pages []models.PageContent, metadata map[string]interface{}) (*Report, error) {
	if docID == "" {
		docID = uuid.New().String()
	}
	if err := ing.DeleteDocument(ctx, docID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("replace existing document: %w", err)
	}

	chunks := ing.chunker.ChunkDocument(docID, pages)
	failedBatches := ing.embedChunks(ctx, docID, chunks)

	pageCount := len(pages)
	if pageCount == 0 {
		pageCount = 1
	}
	doc := &models.Document{
		ID:        docID,
		Filename:  filename,
		PageCount: pageCount,
		Metadata:  metadata,
	}
	if err := ing.storage.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}
	if err := ing.storage.BatchCreateChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}

	var chunkIDs []string
	var vectors [][]float32
	for _, ch := range chunks {
		if ch.HasEmbedding() {
			chunkIDs = append(chunkIDs, ch.ID)
			vectors = append(vectors, ch.Embedding)
		}
	}
	if len(chunkIDs) > 0 {
		if err := ing.vectorIndex.Upsert(ctx, docID, chunkIDs, vectors); err != nil {
			return nil, fmt.Errorf("failed to index vectors: %w", err)
		}
	}
	if err := ing.keywordIndex.IndexChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("failed to index keywords: %w", err)
	}

	report := &Report{
		DocumentID:    docID,
		Filename:      filename,
		PageCount:     pageCount,
		ChunkCount:    len(chunks),
		EmbeddedCount: len(chunkIDs),
		FailedBatches: failedBatches,
	}
	if ing.logger != nil {
		ing.logger.Info("document ingested",
			zap.String("doc_id", docID),
			zap.String("filename", filename),
			zap.Int("pages", report.PageCount),
			zap.Int("chunks", report.ChunkCount),
			zap.Int("embedded", report.EmbeddedCount),
			zap.Int("failed_batches", report.FailedBatches))
	}
	return report, nil
}

// embedChunks fills in embeddings batch by batch, sequentially. A failed
// batch is logged and skipped; its chunks keep a nil embedding.
func (ing *Ingestor) embedChunks(ctx context.Context, docID string, chunks []*models.Chunk) (failedBatches int) {
	for start := 0; start < len(chunks); start += ing.batchSize {
		end := start + ing.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Content
		}
		embeddings, err := ing.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			failedBatches++
			if ing.logger != nil {
				ing.logger.Warn("embedding batch failed, chunks stored without embeddings",
					zap.String("doc_id", docID),
					zap.Int("batch_start", start),
					zap.Int("batch_size", len(batch)),
					zap.Error(err))
			}
			continue
		}
		for i := range batch {
			batch[i].Embedding = embeddings[i]
		}
	}
	return failedBatches
}

// IngestFile reads a PDF from path and ingests it. The document ID is
// derived from the absolute path so re-ingesting updates the same document.
// Unchanged files (same mtime and size as last ingestion) are skipped.
func (ing *Ingestor) IngestFile(ctx context.Context, path string) (*Report, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	if strings.ToLower(filepath.Ext(absPath)) != ".pdf" {
		return nil, fmt.Errorf("not a pdf file: %s", absPath)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}

	docID := fileid.FileDocID(absPath)
	if ing.shouldSkipFile(ctx, absPath, docID, info) {
		if ing.logger != nil {
			ing.logger.Debug("skipping unchanged file", zap.String("path", absPath))
		}
		return &Report{DocumentID: docID, Filename: filepath.Base(absPath), Skipped: true}, nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	metadata := map[string]interface{}{
		metaKeySourcePath: absPath,
		// Stored as strings to avoid JSON float64 precision loss (UnixNano exceeds 53 bits).
		metaKeySourceMtime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
		metaKeySourceSize:  strconv.FormatInt(info.Size(), 10),
	}
	return ing.IngestPDF(ctx, docID, filepath.Base(absPath), content, metadata)
}

// shouldSkipFile reports whether the file is already ingested with the same
// mtime and size.
func (ing *Ingestor) shouldSkipFile(ctx context.Context, absPath, docID string, info os.FileInfo) bool {
	doc, err := ing.storage.GetDocument(ctx, docID)
	if err != nil || doc.Metadata == nil {
		return false
	}
	if doc.Metadata[metaKeySourcePath] != absPath {
		return false
	}
	return metadataInt64(doc.Metadata, metaKeySourceMtime) == info.ModTime().UnixNano() &&
		metadataInt64(doc.Metadata, metaKeySourceSize) == info.Size()
}

func metadataInt64(m map[string]interface{}, key string) int64 {
	v, ok := m[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case string:
		x, _ := strconv.ParseInt(n, 10, 64)
		return x
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// IngestDirectory walks dir recursively and ingests each regular PDF file.
// Returns the number of files ingested (skipped files do not count) and the
// first error encountered, if any.
func (ing *Ingestor) IngestDirectory(ctx context.Context, dir string) (n int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.ToLower(filepath.Ext(path)) != ".pdf" {
			return nil
		}
		// Resolve symlinks so only regular files are ingested.
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		report, ingestErr := ing.IngestFile(ctx, path)
		if ingestErr != nil {
			return ingestErr
		}
		if !report.Skipped {
			n++
		}
		return nil
	})
	return n, err
}

// DeleteDocument removes a document and everything derived from it: chunks,
// chats, and the keyword and vector index entries.
func (ing *Ingestor) DeleteDocument(ctx context.Context, id string) error {
	if _, err := ing.storage.GetDocument(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := ing.keywordIndex.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete from keyword index: %w", err)
	}
	if err := ing.vectorIndex.RemoveDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete from vector index: %w", err)
	}
	if err := ing.storage.DeleteChunksByDocumentID(ctx, id); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if err := ing.storage.DeleteChatsByDocumentID(ctx, id); err != nil {
		return fmt.Errorf("failed to delete chats: %w", err)
	}
	if err := ing.storage.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if ing.logger != nil {
		ing.logger.Info("document deleted", zap.String("doc_id", id))
	}
	return nil
}

// RebuildIndex repopulates the vector index from persisted embeddings.
// Returns the number of vectors restored.
func (ing *Ingestor) RebuildIndex(ctx context.Context) (int, error) {
	chunks, err := ing.storage.GetEmbeddedChunks(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load embedded chunks: %w", err)
	}

	byDoc := make(map[string][]*models.Chunk)
	var order []string
	for _, ch := range chunks {
		if _, ok := byDoc[ch.DocumentID]; !ok {
			order = append(order, ch.DocumentID)
		}
		byDoc[ch.DocumentID] = append(byDoc[ch.DocumentID], ch)
	}

	total := 0
	for _, docID := range order {
		docChunks := byDoc[docID]
		ids := make([]string, len(docChunks))
		vectors := make([][]float32, len(docChunks))
		for i, ch := range docChunks {
			ids[i] = ch.ID
			vectors[i] = ch.Embedding
		}
		if err := ing.vectorIndex.Upsert(ctx, docID, ids, vectors); err != nil {
			return total, fmt.Errorf("failed to rebuild document %s: %w", docID, err)
		}
		total += len(ids)
	}
	return total, nil
}
