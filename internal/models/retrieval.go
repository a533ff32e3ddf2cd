package models

// RetrievedChunk pairs a chunk with its similarity to a query, in [-1, 1].
type RetrievedChunk struct {
	Chunk      *Chunk
	Similarity float64
	PageNumber int
}

// RetrievalResult is the ranked outcome of one retrieval call, ordered by
// descending similarity. It is ephemeral: produced per query, never persisted.
type RetrievalResult []*RetrievedChunk

// Pages returns the deduplicated page numbers in rank order.
func (r RetrievalResult) Pages() []int {
	seen := make(map[int]bool)
	pages := make([]int, 0, len(r))
	for _, rc := range r {
		if !seen[rc.PageNumber] {
			seen[rc.PageNumber] = true
			pages = append(pages, rc.PageNumber)
		}
	}
	return pages
}
