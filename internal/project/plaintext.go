package project

import (
	"strings"

	"github.com/docanvil/docanvil/internal/convert"
)

// PlainText builds the plain-text projection: every text span in reading
// order, a single blank line between block-level elements, no markup. Table
// blocks contribute their flattened cell text, figure blocks their caption.
func PlainText(res *convert.Result) string {
	var parts []string
	for _, span := range TextSpans(res) {
		if span != "" {
			parts = append(parts, span)
		}
	}
	return strings.Join(parts, "\n\n")
}
