package engine

// Native result document decoded from the engine's result file. The shapes
// here follow the engine's own export format; docanvil consumes them only
// through the normalization in internal/convert.

// Document statuses reported by the engine.
const (
	StatusSuccess = "success"
	// StatusPartial means some pages or capabilities failed while the rest
	// of the document converted; Errors lists the affected regions.
	StatusPartial = "partial_success"
	StatusFailure = "failure"
)

// Document is the engine's native conversion result.
type Document struct {
	Schema   string    `json:"schema"`
	Status   string    `json:"status"`
	Name     string    `json:"name,omitempty"`
	Pages    []Page    `json:"pages"`
	Tables   []Table   `json:"tables"`
	Pictures []Picture `json:"pictures"`
	Body     []Item    `json:"body"`
	Errors   []Error   `json:"errors,omitempty"`
	Timings  Timings   `json:"timings"`
}

// Page is one page record in page order.
type Page struct {
	PageNo int     `json:"page_no"`
	Text   string  `json:"text"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

// Table is one detected table with recovered cell structure.
type Table struct {
	PageNo  int        `json:"page_no"`
	NumRows int        `json:"num_rows"`
	NumCols int        `json:"num_cols"`
	Cells   [][]string `json:"cells"`
	Caption string     `json:"caption,omitempty"`
}

// Picture is one detected figure. ImagePNG carries the rendered crop when
// image export was requested; Label is set when the classifier ran.
type Picture struct {
	PageNo   int    `json:"page_no"`
	Label    string `json:"label,omitempty"`
	Caption  string `json:"caption,omitempty"`
	ImagePNG []byte `json:"image_png,omitempty"`
}

// Item kinds appearing in the body sequence.
const (
	ItemSectionHeader = "section_header"
	ItemText          = "text"
	ItemListItem      = "list_item"
	ItemCode          = "code"
	ItemFormula       = "formula"
	ItemTable         = "table"
	ItemPicture       = "picture"
)

// Item is one element of the document body in reading order. Table and
// picture items reference the Tables/Pictures slices by index.
type Item struct {
	Kind         string `json:"kind"`
	Level        int    `json:"level,omitempty"`
	Text         string `json:"text,omitempty"`
	PageNo       int    `json:"page_no"`
	TableIndex   *int   `json:"table_index,omitempty"`
	PictureIndex *int   `json:"picture_index,omitempty"`
}

// Error is one per-region conversion error reported by the engine.
type Error struct {
	PageNo    int    `json:"page_no,omitempty"`
	Component string `json:"component,omitempty"`
	Message   string `json:"message"`
}

// Timings carries engine-side wall clock measurements.
type Timings struct {
	PipelineSeconds float64 `json:"pipeline_seconds"`
}
