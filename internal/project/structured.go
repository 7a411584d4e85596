// Package project derives output projections from a conversion result.
//
// Every projection is a pure function of one convert.Result: nothing here
// mutates the result, so the projections may run concurrently.
package project

import (
	"unicode/utf8"

	"github.com/docanvil/docanvil/internal/convert"
)

// SchemaVersion identifies the structured document format.
const SchemaVersion = "docanvil.document.v1"

// StructuredDoc is the tree-shaped, machine-readable projection. It is
// lossless with respect to page, table and figure counts: reconstructing
// them from the tree recovers the originating result's counts exactly.
type StructuredDoc struct {
	Schema       string                `json:"schema"`
	Source       string                `json:"source"`
	Engine       string                `json:"engine,omitempty"`
	Pages        []PageNode            `json:"pages"`
	Degradations []convert.Degradation `json:"degradations,omitempty"`
}

// PageNode groups the blocks of one page in reading order. Text carries the
// page's raw extracted text so the tree stands on its own without the
// originating result.
type PageNode struct {
	Number int         `json:"number"`
	Text   string      `json:"text,omitempty"`
	Blocks []BlockNode `json:"blocks"`
}

// BlockNode is one structure-tree element.
type BlockNode struct {
	Kind   string      `json:"kind"`
	Level  int         `json:"level,omitempty"`
	Text   string      `json:"text,omitempty"`
	Table  *TableNode  `json:"table,omitempty"`
	Figure *FigureNode `json:"figure,omitempty"`
}

// TableNode carries a table's recovered structure.
type TableNode struct {
	NumRows int        `json:"num_rows"`
	NumCols int        `json:"num_cols"`
	Cells   [][]string `json:"cells"`
	Caption string     `json:"caption,omitempty"`
}

// FigureNode carries a figure's classification and caption.
type FigureNode struct {
	Label   string `json:"label,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// Structured builds the tree projection. Pages appear in page order, each
// holding its blocks in reading order; a page that produced no blocks (for
// example one whose only capability degraded) still appears, empty, so the
// page count survives projection.
func Structured(res *convert.Result) *StructuredDoc {
	doc := &StructuredDoc{
		Schema:       SchemaVersion,
		Source:       res.SourcePath,
		Engine:       res.EngineName,
		Degradations: res.Degradations,
	}

	byPage := make(map[int][]BlockNode)
	order := make([]int, 0, len(res.Pages))
	known := make(map[int]bool, len(res.Pages))
	text := make(map[int]string, len(res.Pages))
	for _, p := range res.Pages {
		order = append(order, p.Number)
		known[p.Number] = true
		text[p.Number] = p.Text
	}

	lastPage := 0
	if len(order) > 0 {
		lastPage = order[len(order)-1]
	}

	for _, b := range res.Blocks {
		page := b.Page
		if !known[page] {
			// A stray page reference must not invent a page node.
			page = lastPage
			if page == 0 {
				continue
			}
		}
		byPage[page] = append(byPage[page], toBlockNode(res, b))
	}

	for _, number := range order {
		doc.Pages = append(doc.Pages, PageNode{
			Number: number,
			Text:   text[number],
			Blocks: byPage[number],
		})
	}

	return doc
}

func toBlockNode(res *convert.Result, b convert.Block) BlockNode {
	node := BlockNode{
		Kind:  string(b.Kind),
		Level: b.Level,
		Text:  b.Text,
	}
	if b.Kind == convert.BlockTable && b.TableIndex >= 0 && b.TableIndex < len(res.Tables) {
		t := res.Tables[b.TableIndex]
		node.Table = &TableNode{
			NumRows: t.NumRows,
			NumCols: t.NumCols,
			Cells:   t.Cells,
			Caption: t.Caption,
		}
	}
	if b.Kind == convert.BlockFigure && b.FigureIndex >= 0 && b.FigureIndex < len(res.Figures) {
		f := res.Figures[b.FigureIndex]
		node.Figure = &FigureNode{Label: f.Label, Caption: f.Caption}
	}
	return node
}

// Counts reconstructs page, table and figure counts from the tree alone.
func Counts(doc *StructuredDoc) (pages, tables, figures int) {
	pages = len(doc.Pages)
	for _, p := range doc.Pages {
		for _, b := range p.Blocks {
			if b.Table != nil {
				tables++
			}
			if b.Figure != nil {
				figures++
			}
		}
	}
	return pages, tables, figures
}

// TotalSpanLength sums the rune length of every text span in the tree:
// page texts, block texts, table cells and captions, figure labels and
// captions. The plain-text projection never exceeds this.
func (d *StructuredDoc) TotalSpanLength() int {
	total := 0
	for _, p := range d.Pages {
		total += utf8.RuneCountInString(p.Text)
		for _, b := range p.Blocks {
			total += utf8.RuneCountInString(b.Text)
			if b.Table != nil {
				for _, row := range b.Table.Cells {
					for _, cell := range row {
						total += utf8.RuneCountInString(cell)
					}
				}
				total += utf8.RuneCountInString(b.Table.Caption)
			}
			if b.Figure != nil {
				total += utf8.RuneCountInString(b.Figure.Label)
				total += utf8.RuneCountInString(b.Figure.Caption)
			}
		}
	}
	return total
}

// TextSpans returns every block's text in reading order, including empty
// spans. The plain-text projection is a filtered join of exactly these.
func TextSpans(res *convert.Result) []string {
	spans := make([]string, len(res.Blocks))
	for i, b := range res.Blocks {
		spans[i] = b.Text
	}
	return spans
}
