// Package convert orchestrates conversion runs: it validates sources,
// invokes the external engine through the normalization adapter, projects
// results, writes output artifacts, and assembles run summaries.
package convert

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// BlockKind classifies one element of the document-structure tree.
type BlockKind string

const (
	BlockHeading  BlockKind = "heading"
	BlockText     BlockKind = "text"
	BlockListItem BlockKind = "list_item"
	BlockCode     BlockKind = "code"
	BlockFormula  BlockKind = "formula"
	BlockTable    BlockKind = "table"
	BlockFigure   BlockKind = "figure"
)

// Block is one element of the structure tree in reading order. Table and
// figure blocks reference Result.Tables / Result.Figures by index and carry
// a flattened text rendering so text-only consumers see their content.
type Block struct {
	Kind        BlockKind
	Level       int
	Text        string
	Page        int
	TableIndex  int // -1 unless Kind == BlockTable
	FigureIndex int // -1 unless Kind == BlockFigure
}

// Page is one page record.
type Page struct {
	Number int
	Text   string
}

// Table is one detected table with recovered structure.
type Table struct {
	Page    int
	NumRows int
	NumCols int
	Cells   [][]string
	Caption string
}

// Figure is one detected figure. Label is set when the classifier ran;
// ImagePNG when image export was requested.
type Figure struct {
	Page     int
	Label    string
	Caption  string
	ImagePNG []byte
}

// Degradation records a page/capability region the engine could not fully
// convert while the rest of the document succeeded.
type Degradation struct {
	Page       int    `json:"page"`
	Capability string `json:"capability"`
	Message    string `json:"message"`
}

// Result is the normalized output of one conversion run. It is owned by the
// run that produced it and never shared; every projection reads it without
// mutation.
type Result struct {
	SourcePath    string
	Pages         []Page
	Tables        []Table
	Figures       []Figure
	Blocks        []Block
	FullText      string
	Degradations  []Degradation
	EngineName    string
	EngineSeconds float64
}

// CharCount returns the number of characters of extracted text.
func (r *Result) CharCount() int {
	return utf8.RuneCountInString(r.FullText)
}

// DegradedPages returns the sorted distinct pages with recorded degradation.
func (r *Result) DegradedPages() []int {
	seen := make(map[int]bool)
	var pages []int
	for _, d := range r.Degradations {
		if d.Page > 0 && !seen[d.Page] {
			seen[d.Page] = true
			pages = append(pages, d.Page)
		}
	}
	sort.Ints(pages)
	return pages
}

// DegradedCapabilities returns the distinct capability names that degraded
// anywhere in the document.
func (r *Result) DegradedCapabilities() []string {
	seen := make(map[string]bool)
	var caps []string
	for _, d := range r.Degradations {
		if d.Capability != "" && !seen[d.Capability] {
			seen[d.Capability] = true
			caps = append(caps, d.Capability)
		}
	}
	sort.Strings(caps)
	return caps
}

// TablesForPage returns the indices of tables detected on a page.
func (r *Result) TablesForPage(page int) []int {
	var idx []int
	for i, t := range r.Tables {
		if t.Page == page {
			idx = append(idx, i)
		}
	}
	return idx
}

// FiguresForPage returns the indices of figures detected on a page.
func (r *Result) FiguresForPage(page int) []int {
	var idx []int
	for i, f := range r.Figures {
		if f.Page == page {
			idx = append(idx, i)
		}
	}
	return idx
}

// FlattenTable renders table cells as plain text: one line per row, cells
// separated by tabs.
func FlattenTable(cells [][]string) string {
	rows := make([]string, len(cells))
	for i, row := range cells {
		rows[i] = strings.Join(row, "\t")
	}
	return strings.Join(rows, "\n")
}
