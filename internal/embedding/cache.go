package embedding

import (
	"container/list"
	"sync"
)

// EmbeddingCache keeps recently computed embeddings keyed by their input
// text, so repeated questions and re-ingested pages skip the embedding
// service round trip. Entries are evicted least-recently-used once the
// cache is full.
type EmbeddingCache struct {
	capacity int
	byText   map[string]*list.Element
	order    *list.List // front = most recently used
	mu       sync.Mutex
}

type cachedVector struct {
	text   string
	vector []float32
}

// NewEmbeddingCache creates a cache holding at most capacity embeddings.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		capacity: capacity,
		byText:   make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached embedding for text and marks it recently used.
func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.byText[text]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cachedVector).vector, true
}

// Set stores the embedding for text, evicting the least recently used
// entry when the cache is at capacity.
func (c *EmbeddingCache) Set(text string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.byText[text]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*cachedVector).vector = vector
		return
	}

	c.byText[text] = c.order.PushFront(&cachedVector{text: text, vector: vector})

	if c.order.Len() > c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.order.Remove(oldest)
			delete(c.byText, oldest.Value.(*cachedVector).text)
		}
	}
}
