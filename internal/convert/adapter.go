package convert

import (
	"context"
	"fmt"
	"strings"

	"github.com/docanvil/docanvil/internal/engine"
	"github.com/docanvil/docanvil/internal/observability"
	"github.com/docanvil/docanvil/internal/pipeline"
)

// Adapter invokes the conversion engine and normalizes its native result
// into the Result model. It validates the source before the engine call and
// never retries internally: a single large document is expensive to
// reprocess, so retry policy belongs to the caller.
type Adapter struct {
	engine engine.Engine
	logger *observability.Logger
}

// NewAdapter creates an Adapter around an engine.
func NewAdapter(eng engine.Engine, logger *observability.Logger) *Adapter {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &Adapter{engine: eng, logger: logger}
}

// EngineName returns the wrapped engine's name.
func (a *Adapter) EngineName() string {
	return a.engine.Name()
}

// Convert validates the source, invokes the engine exactly once, and
// normalizes the native document. Whole-document engine failures surface as
// *EngineError with no partial output; per-region failures are absorbed into
// Result.Degradations with the affected pages kept (empty of the degraded
// capability's entries) rather than dropped.
func (a *Adapter) Convert(ctx context.Context, cfg *pipeline.Config, sourcePath string, exportImages bool) (*Result, error) {
	info, err := Preflight(sourcePath)
	if err != nil {
		return nil, err
	}

	req := engine.NewRequest(info.Path, cfg, exportImages)

	a.logger.Debug().
		Str("source", info.Path).
		Int64("size_bytes", info.SizeBytes).
		Int("page_hint", info.PageHint).
		Str("engine", a.engine.Name()).
		Msg("Converting document")

	doc, err := a.engine.Convert(ctx, req)
	if err != nil {
		return nil, &EngineError{Engine: a.engine.Name(), Err: err}
	}

	if doc.Status == engine.StatusFailure {
		msg := "conversion failed"
		if len(doc.Errors) > 0 {
			msg = doc.Errors[0].Message
		}
		return nil, &EngineError{Engine: a.engine.Name(), Err: fmt.Errorf("%s", msg)}
	}

	res := a.normalize(doc, sourcePath)

	if info.PageHint > 0 && info.PageHint != len(res.Pages) {
		a.logger.Warn().
			Int("expected_pages", info.PageHint).
			Int("result_pages", len(res.Pages)).
			Msg("Engine page count differs from preflight hint")
	}

	if len(res.Degradations) > 0 {
		a.logger.Warn().
			Int("regions", len(res.Degradations)).
			Ints("pages", res.DegradedPages()).
			Strs("capabilities", res.DegradedCapabilities()).
			Msg("Conversion degraded on some pages")
	}

	return res, nil
}

// normalize maps the engine's native document into the Result shape,
// preserving page, table and figure ordering exactly as returned.
func (a *Adapter) normalize(doc *engine.Document, sourcePath string) *Result {
	res := &Result{
		SourcePath:    sourcePath,
		EngineName:    a.engine.Name(),
		EngineSeconds: doc.Timings.PipelineSeconds,
	}

	for _, p := range doc.Pages {
		res.Pages = append(res.Pages, Page{Number: p.PageNo, Text: p.Text})
	}

	for _, t := range doc.Tables {
		res.Tables = append(res.Tables, Table{
			Page:    t.PageNo,
			NumRows: t.NumRows,
			NumCols: t.NumCols,
			Cells:   t.Cells,
			Caption: t.Caption,
		})
	}

	for _, pic := range doc.Pictures {
		res.Figures = append(res.Figures, Figure{
			Page:     pic.PageNo,
			Label:    pic.Label,
			Caption:  pic.Caption,
			ImagePNG: pic.ImagePNG,
		})
	}

	for _, e := range doc.Errors {
		res.Degradations = append(res.Degradations, Degradation{
			Page:       e.PageNo,
			Capability: e.Component,
			Message:    e.Message,
		})
	}

	res.Blocks = a.buildBlocks(doc, res)
	res.FullText = joinPageText(res.Pages)

	return res
}

// buildBlocks derives the structure tree from the body sequence. Every
// table and figure ends up in the tree exactly once: body references are
// used where the engine provides them, and any table or figure the body
// never mentions is appended afterwards so no detection is lost.
func (a *Adapter) buildBlocks(doc *engine.Document, res *Result) []Block {
	var blocks []Block
	tableSeen := make(map[int]bool, len(res.Tables))
	figureSeen := make(map[int]bool, len(res.Figures))

	appendTable := func(idx, page int) {
		blocks = append(blocks, Block{
			Kind:        BlockTable,
			Text:        FlattenTable(res.Tables[idx].Cells),
			Page:        page,
			TableIndex:  idx,
			FigureIndex: -1,
		})
		tableSeen[idx] = true
	}
	appendFigure := func(idx, page int) {
		blocks = append(blocks, Block{
			Kind:        BlockFigure,
			Text:        res.Figures[idx].Caption,
			Page:        page,
			TableIndex:  -1,
			FigureIndex: idx,
		})
		figureSeen[idx] = true
	}

	for _, item := range doc.Body {
		switch item.Kind {
		case engine.ItemTable:
			if item.TableIndex == nil || *item.TableIndex < 0 || *item.TableIndex >= len(res.Tables) || tableSeen[*item.TableIndex] {
				a.logger.Warn().Int("page", item.PageNo).Msg("Skipping body item with bad table reference")
				continue
			}
			appendTable(*item.TableIndex, item.PageNo)
		case engine.ItemPicture:
			if item.PictureIndex == nil || *item.PictureIndex < 0 || *item.PictureIndex >= len(res.Figures) || figureSeen[*item.PictureIndex] {
				a.logger.Warn().Int("page", item.PageNo).Msg("Skipping body item with bad figure reference")
				continue
			}
			appendFigure(*item.PictureIndex, item.PageNo)
		case engine.ItemSectionHeader:
			level := item.Level
			if level < 1 {
				level = 1
			}
			blocks = append(blocks, Block{Kind: BlockHeading, Level: level, Text: item.Text, Page: item.PageNo, TableIndex: -1, FigureIndex: -1})
		case engine.ItemListItem:
			blocks = append(blocks, Block{Kind: BlockListItem, Text: item.Text, Page: item.PageNo, TableIndex: -1, FigureIndex: -1})
		case engine.ItemCode:
			blocks = append(blocks, Block{Kind: BlockCode, Text: item.Text, Page: item.PageNo, TableIndex: -1, FigureIndex: -1})
		case engine.ItemFormula:
			blocks = append(blocks, Block{Kind: BlockFormula, Text: item.Text, Page: item.PageNo, TableIndex: -1, FigureIndex: -1})
		default:
			blocks = append(blocks, Block{Kind: BlockText, Text: item.Text, Page: item.PageNo, TableIndex: -1, FigureIndex: -1})
		}
	}

	// Engines without a structured export emit no body at all; fall back to
	// one text block per page.
	if len(doc.Body) == 0 {
		for _, p := range res.Pages {
			blocks = append(blocks, Block{Kind: BlockText, Text: p.Text, Page: p.Number, TableIndex: -1, FigureIndex: -1})
		}
	}

	for i, t := range res.Tables {
		if !tableSeen[i] {
			appendTable(i, t.Page)
		}
	}
	for i, f := range res.Figures {
		if !figureSeen[i] {
			appendFigure(i, f.Page)
		}
	}

	return blocks
}

// joinPageText concatenates raw page text with blank-line separators.
func joinPageText(pages []Page) string {
	var parts []string
	for _, p := range pages {
		if p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}
