package project

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docanvil/docanvil/internal/convert"
)

func TestMarkdown_ReadingOrder(t *testing.T) {
	md := Markdown(sampleResult())

	want := "# Introduction\n\n" +
		"Welcome to the Anvil 9000.\n\n" +
		"**Parts list**\n\n" +
		"| Part | Qty |\n" +
		"|---|---|\n" +
		"| Anvil | 2 |\n" +
		"| Hammer | 5 |\n\n" +
		"<!-- figure: chart -->\n"
	assert.Equal(t, want, md)
}

func TestMarkdown_HeadingLevelsClamped(t *testing.T) {
	res := &convert.Result{
		Pages: []convert.Page{{Number: 1, Text: "x"}},
		Blocks: []convert.Block{
			{Kind: convert.BlockHeading, Level: 0, Text: "shallow", Page: 1, TableIndex: -1, FigureIndex: -1},
			{Kind: convert.BlockHeading, Level: 9, Text: "deep", Page: 1, TableIndex: -1, FigureIndex: -1},
		},
	}

	md := Markdown(res)

	assert.Contains(t, md, "# shallow")
	assert.Contains(t, md, "###### deep")
	assert.NotContains(t, md, "####### deep")
}

func TestMarkdown_TableEscaping(t *testing.T) {
	md := markdownTable(convert.Table{
		NumRows: 2,
		NumCols: 1,
		Cells:   [][]string{{"a|b"}, {"x\ny"}},
	})

	assert.Contains(t, md, `a\|b`)
	assert.Contains(t, md, "x y", "cell newlines become spaces so the grid stays line-per-row")
}

func TestMarkdown_TableRaggedRowsPadded(t *testing.T) {
	md := markdownTable(convert.Table{
		NumRows: 2,
		NumCols: 1,
		Cells:   [][]string{{"a"}, {"b", "c", "d"}},
	})

	lines := strings.Split(md, "\n")
	require.Len(t, lines, 3)
	for _, line := range lines {
		assert.Equal(t, 4, strings.Count(line, "|"), "every row renders the same column count: %q", line)
	}
}

func TestMarkdown_FigureMarkerFallbacks(t *testing.T) {
	assert.Equal(t, "<!-- figure: chart -->", figureMarker(convert.Figure{Label: "chart", Caption: "ignored"}))
	assert.Equal(t, "<!-- figure: Quarterly output -->", figureMarker(convert.Figure{Caption: "Quarterly output"}))
	assert.Equal(t, "<!-- figure: image -->", figureMarker(convert.Figure{}))
}

func TestMarkdown_CodeAndFormula(t *testing.T) {
	res := &convert.Result{
		Pages: []convert.Page{{Number: 1, Text: "x"}},
		Blocks: []convert.Block{
			{Kind: convert.BlockCode, Text: "x := 1", Page: 1, TableIndex: -1, FigureIndex: -1},
			{Kind: convert.BlockFormula, Text: "E = mc^2", Page: 1, TableIndex: -1, FigureIndex: -1},
			{Kind: convert.BlockListItem, Text: "first item", Page: 1, TableIndex: -1, FigureIndex: -1},
		},
	}

	md := Markdown(res)

	assert.Contains(t, md, "```\nx := 1\n```")
	assert.Contains(t, md, "$$E = mc^2$$")
	assert.Contains(t, md, "- first item")
}

func TestMarkdown_Empty(t *testing.T) {
	assert.Empty(t, Markdown(&convert.Result{}))
}
