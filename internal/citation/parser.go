// Package citation extracts structured citation directives from generated answers.
package citation

import (
	"regexp"
	"strconv"
	"strings"
)

// Directive patterns the generation prompt asks the model to emit.
var (
	pageFocusRe = regexp.MustCompile(`\[PAGE:\s*(\d+)\]`)
	highlightRe = regexp.MustCompile(`\[HIGHLIGHT:\s*page\s*(\d+),\s*"([^"]+)"\]`)
	spaceRunRe  = regexp.MustCompile(`[ \t]{2,}`)
)

// PageFocus directs the viewer to a page.
type PageFocus struct {
	Page int `json:"page"`
}

// Highlight directs the viewer to emphasize text on a page.
type Highlight struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

// Answer is the parse result for one generated answer: the text with all
// recognized directives removed, plus the directives themselves. Highlights
// replace any previous turn's highlights; they are never cumulative.
type Answer struct {
	CleanText  string      `json:"cleanText"`
	PageFocus  *PageFocus  `json:"pageFocus,omitempty"`
	Highlights []Highlight `json:"highlights,omitempty"`
}

// Parse extracts citation directives from generated text. It is a pure
// function: parsing never fails, malformed directives are left in the text
// and produce nothing, and re-parsing the clean text finds no directives.
func Parse(text string) Answer {
	var ans Answer

	if m := pageFocusRe.FindStringSubmatch(text); m != nil {
		if page, err := strconv.Atoi(m[1]); err == nil {
			ans.PageFocus = &PageFocus{Page: page}
		}
	}

	for _, m := range highlightRe.FindAllStringSubmatch(text, -1) {
		page, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		ans.Highlights = append(ans.Highlights, Highlight{Page: page, Text: m[2]})
	}

	clean := removeRecognized(text, pageFocusRe)
	clean = removeRecognized(clean, highlightRe)
	clean = spaceRunRe.ReplaceAllString(clean, " ")
	ans.CleanText = strings.TrimSpace(clean)
	return ans
}

// removeRecognized strips every match whose page number parses as an int.
// A match that overflows stays in the text, consistent with producing no directive.
func removeRecognized(text string, re *regexp.Regexp) string {
	return re.ReplaceAllStringFunc(text, func(m string) string {
		sub := re.FindStringSubmatch(m)
		if _, err := strconv.Atoi(sub[1]); err != nil {
			return m
		}
		return ""
	})
}
