package project

import (
	"fmt"
	"strings"

	"github.com/docanvil/docanvil/internal/convert"
)

// Markdown builds the flattened human-readable projection. Ordering follows
// the structure tree's reading order, not detection order. Tables render as
// pipe grids, figures as placeholder comments, headings as a `#` hierarchy.
func Markdown(res *convert.Result) string {
	var parts []string

	for _, b := range res.Blocks {
		switch b.Kind {
		case convert.BlockHeading:
			level := b.Level
			if level < 1 {
				level = 1
			}
			if level > 6 {
				level = 6
			}
			parts = append(parts, strings.Repeat("#", level)+" "+b.Text)
		case convert.BlockTable:
			if b.TableIndex >= 0 && b.TableIndex < len(res.Tables) {
				if md := markdownTable(res.Tables[b.TableIndex]); md != "" {
					parts = append(parts, md)
				}
			}
		case convert.BlockFigure:
			if b.FigureIndex >= 0 && b.FigureIndex < len(res.Figures) {
				parts = append(parts, figureMarker(res.Figures[b.FigureIndex]))
			}
		case convert.BlockListItem:
			if b.Text != "" {
				parts = append(parts, "- "+b.Text)
			}
		case convert.BlockCode:
			if b.Text != "" {
				parts = append(parts, "```\n"+b.Text+"\n```")
			}
		case convert.BlockFormula:
			if b.Text != "" {
				parts = append(parts, "$$"+b.Text+"$$")
			}
		default:
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
	}

	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "\n\n") + "\n"
}

// markdownTable renders one table as a pipe grid. The first row acts as the
// header; rows are padded to the widest row so the grid stays rectangular.
func markdownTable(t convert.Table) string {
	if len(t.Cells) == 0 {
		return ""
	}

	cols := t.NumCols
	for _, row := range t.Cells {
		if len(row) > cols {
			cols = len(row)
		}
	}
	if cols == 0 {
		return ""
	}

	var sb strings.Builder
	if t.Caption != "" {
		sb.WriteString("**" + t.Caption + "**\n\n")
	}

	writeRow := func(row []string) {
		sb.WriteString("|")
		for i := 0; i < cols; i++ {
			cell := ""
			if i < len(row) {
				cell = strings.ReplaceAll(row[i], "|", "\\|")
				cell = strings.ReplaceAll(cell, "\n", " ")
			}
			sb.WriteString(" " + cell + " |")
		}
		sb.WriteString("\n")
	}

	writeRow(t.Cells[0])
	sb.WriteString("|")
	for i := 0; i < cols; i++ {
		sb.WriteString("---|")
	}
	sb.WriteString("\n")
	for _, row := range t.Cells[1:] {
		writeRow(row)
	}

	return strings.TrimRight(sb.String(), "\n")
}

// figureMarker renders a figure placeholder.
func figureMarker(f convert.Figure) string {
	desc := f.Label
	if desc == "" {
		desc = f.Caption
	}
	if desc == "" {
		desc = "image"
	}
	return fmt.Sprintf("<!-- figure: %s -->", desc)
}
