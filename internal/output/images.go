package output

import (
	"fmt"
	"path/filepath"

	"github.com/docanvil/docanvil/internal/convert"
)

// ImageEntry is one exported figure image in the image manifest.
type ImageEntry struct {
	File    string `json:"file"`
	Page    int    `json:"page"`
	Label   string `json:"label,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// WriteFigureImages persists the PNG payload of every figure that carries
// one under images/, numbered by the figure's position in the document.
// Figures without image data are skipped. Returns manifest entries for the
// images that persisted plus a status per attempted write.
func (w *Writer) WriteFigureImages(stem string, figures []convert.Figure) ([]ImageEntry, []Status) {
	var entries []ImageEntry
	var statuses []Status

	for i, fig := range figures {
		if len(fig.ImagePNG) == 0 {
			continue
		}
		name := filepath.Join("images", fmt.Sprintf("%s_figure_%d.png", stem, i+1))
		st := w.WriteBytes(name, fig.ImagePNG)
		statuses = append(statuses, st)
		if st.OK() {
			entries = append(entries, ImageEntry{
				File:    name,
				Page:    fig.Page,
				Label:   fig.Label,
				Caption: fig.Caption,
			})
		}
	}

	return entries, statuses
}
