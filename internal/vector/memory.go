package vector

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/studyowl/studyowl/pkg/utils"
)

// MemoryIndex is an in-memory brute-force index. Exact for any corpus size;
// intended for the per-document corpora this system works with, where a few
// thousand chunks per document make brute force both exact and fast enough.
type MemoryIndex struct {
	dimensions int
	partitions map[string]*partition
	mu         sync.RWMutex
}

// partition holds one document's vectors. byID supports upsert-replace.
type partition struct {
	ids     []string
	vectors [][]float32
	byID    map[string]int
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		partitions: make(map[string]*partition),
	}, nil
}

// Upsert adds or replaces vectors for the given chunk IDs in the document's partition.
func (m *MemoryIndex) Upsert(ctx context.Context, documentID string, chunkIDs []string, vectors [][]float32) error {
	if len(chunkIDs) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(chunkIDs), len(vectors))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.partitions[documentID]
	if p == nil {
		p = &partition{byID: make(map[string]int)}
		m.partitions[documentID] = p
	}
	for i, id := range chunkIDs {
		if len(vectors[i]) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), m.dimensions)
		}
		vec := make([]float32, m.dimensions)
		copy(vec, vectors[i])
		if j, ok := p.byID[id]; ok {
			p.vectors[j] = vec
			continue
		}
		p.byID[id] = len(p.ids)
		p.ids = append(p.ids, id)
		p.vectors = append(p.vectors, vec)
	}
	return nil
}

// Search returns the top-k chunks of one document by cosine similarity,
// ordered by descending score with ties broken by ascending chunk ID.
// k larger than the partition returns everything; an unknown document
// returns an empty result.
func (m *MemoryIndex) Search(ctx context.Context, documentID string, query []float32, k int) ([]*Hit, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.partitions[documentID]
	if p == nil || k <= 0 || len(p.ids) == 0 {
		return nil, nil
	}
	hits := make([]*Hit, len(p.ids))
	for i, vec := range p.vectors {
		hits[i] = &Hit{ChunkID: p.ids[i], Score: InnerProduct(query, vec)}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// RemoveDocument drops a document's entire partition.
func (m *MemoryIndex) RemoveDocument(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.partitions, documentID)
	return nil
}

// Save persists the index to path. Directory is created if needed.
// Format: dimensions (4), partition count (4), then per partition:
// docIDLen (4), docID, n (4), then per vector: idLen (4), id, vector bytes.
func (m *MemoryIndex) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer f.Close()
	if err := binary.Write(f, binary.LittleEndian, uint32(m.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(m.partitions))); err != nil {
		return fmt.Errorf("write partition count: %w", err)
	}
	for docID, p := range m.partitions {
		if err := writeString(f, docID); err != nil {
			return fmt.Errorf("write doc id: %w", err)
		}
		if err := binary.Write(f, binary.LittleEndian, uint32(len(p.ids))); err != nil {
			return fmt.Errorf("write count: %w", err)
		}
		for i, id := range p.ids {
			if err := writeString(f, id); err != nil {
				return fmt.Errorf("write chunk id: %w", err)
			}
			if _, err := f.Write(utils.Float32sToBytes(p.vectors[i])); err != nil {
				return fmt.Errorf("write vector: %w", err)
			}
		}
	}
	return nil
}

// Load reads the index from path and replaces the in-memory contents.
// Dimensions must match. A missing file is not an error; the index is unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	var dim, partCount uint32
	if err := binary.Read(f, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != m.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, m.dimensions)
	}
	if err := binary.Read(f, binary.LittleEndian, &partCount); err != nil {
		return fmt.Errorf("read partition count: %w", err)
	}
	partitions := make(map[string]*partition, partCount)
	buf := make([]byte, m.dimensions*4)
	for pi := uint32(0); pi < partCount; pi++ {
		docID, err := readString(f)
		if err != nil {
			return fmt.Errorf("read doc id: %w", err)
		}
		var n uint32
		if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
			return fmt.Errorf("read count: %w", err)
		}
		p := &partition{byID: make(map[string]int, n)}
		for i := uint32(0); i < n; i++ {
			id, err := readString(f)
			if err != nil {
				return fmt.Errorf("read chunk id: %w", err)
			}
			if _, err := f.Read(buf); err != nil {
				return fmt.Errorf("read vector: %w", err)
			}
			p.byID[id] = len(p.ids)
			p.ids = append(p.ids, id)
			p.vectors = append(p.vectors, utils.Float32sFromBytes(buf))
		}
		partitions[docID] = p
	}
	m.mu.Lock()
	m.partitions = partitions
	m.mu.Unlock()
	return nil
}

// Size returns the total number of vectors across all documents.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, p := range m.partitions {
		total += len(p.ids)
	}
	return total
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}

func writeString(f *os.File, s string) error {
	if err := binary.Write(f, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := f.Write([]byte(s))
	return err
}

func readString(f *os.File) (string, error) {
	var n uint32
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := f.Read(b); err != nil {
		return "", err
	}
	return string(b), nil
}
