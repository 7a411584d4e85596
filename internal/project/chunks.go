package project

import (
	"github.com/docanvil/docanvil/internal/convert"
)

// Chunk is one overlapping character window over the plain-text projection,
// attributed to the pages its text came from.
type Chunk struct {
	Index     int    `json:"index"`
	Text      string `json:"text"`
	Start     int    `json:"start"` // rune offset into the plain text
	CharCount int    `json:"char_count"`
	Pages     []int  `json:"pages"`
}

// span tracks where one block's text landed in the joined plain text.
type span struct {
	start, end int // rune offsets, end exclusive
	page       int
}

// Chunks splits the plain-text projection into windows of size runes
// advancing by size-overlap. Produced only when the chunking capability is
// enabled; callers pass the sizing from the pipeline config.
func Chunks(res *convert.Result, size, overlap int) []Chunk {
	if size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var runes []rune
	var spans []span
	for _, b := range res.Blocks {
		if b.Text == "" {
			continue
		}
		if len(runes) > 0 {
			runes = append(runes, '\n', '\n')
		}
		start := len(runes)
		runes = append(runes, []rune(b.Text)...)
		spans = append(spans, span{start: start, end: len(runes), page: b.Page})
	}

	if len(runes) == 0 {
		return nil
	}

	step := size - overlap
	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}

		chunks = append(chunks, Chunk{
			Index:     len(chunks),
			Text:      string(runes[start:end]),
			Start:     start,
			CharCount: end - start,
			Pages:     pagesIn(spans, start, end),
		})

		if end == len(runes) {
			break
		}
	}

	return chunks
}

// pagesIn returns the distinct pages whose spans overlap [start, end).
func pagesIn(spans []span, start, end int) []int {
	var pages []int
	seen := make(map[int]bool)
	for _, s := range spans {
		if s.start < end && s.end > start && s.page > 0 && !seen[s.page] {
			seen[s.page] = true
			pages = append(pages, s.page)
		}
	}
	return pages
}
