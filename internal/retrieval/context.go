package retrieval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/studyowl/studyowl/internal/models"
)

// Context is the assembled prompt context for one question.
type Context struct {
	// Text is the concatenated chunk blocks, each prefixed with its page.
	Text string
	// PrimaryPage is the page of the best-matching chunk, or 1 when
	// nothing was retrieved.
	PrimaryPage int
	// Pages are the distinct source pages in ascending order.
	Pages []int
}

// BuildContext renders retrieved chunks into a prompt context. Chunks stay
// in rank order; each becomes a "[Page N] content" block separated by blank
// lines so the model can cite pages it actually saw.
func BuildContext(result models.RetrievalResult) *Context {
	if len(result) == 0 {
		return &Context{PrimaryPage: 1}
	}

	blocks := make([]string, len(result))
	for i, rc := range result {
		blocks[i] = fmt.Sprintf("[Page %d] %s", rc.PageNumber, rc.Chunk.Content)
	}

	pages := result.Pages()
	sort.Ints(pages)

	return &Context{
		Text:        strings.Join(blocks, "\n\n"),
		PrimaryPage: result[0].PageNumber,
		Pages:       pages,
	}
}
