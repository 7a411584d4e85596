package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/docanvil/docanvil/cmd/docanvil/ui"
	"github.com/docanvil/docanvil/internal/convert"
	"github.com/docanvil/docanvil/internal/observability"
	"github.com/docanvil/docanvil/internal/orchestrator"
	"github.com/docanvil/docanvil/internal/output"
)

var (
	batchOutputDir  string
	batchArtifacts  string
	batchWorkers    int
	batchTimeout    time.Duration
	batchNoCache    bool
	batchRetryNoOCR bool
	batchXLSX       bool
	batchImages     bool
)

var batchCmd = &cobra.Command{
	Use:   "batch <pdf-file-or-dir>...",
	Short: "Convert multiple PDF documents concurrently",
	Long: `Convert every given PDF, and every PDF inside given directories, using a
bounded worker pool. Each document converts independently: one failure
never stops the rest of the batch.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVarP(&batchOutputDir, "output", "o", "", "output directory (default from config)")
	batchCmd.Flags().StringVar(&batchArtifacts, "artifacts", "", "model artifacts directory (default from config)")
	batchCmd.Flags().IntVar(&batchWorkers, "workers", 0, "concurrent conversions (default from config)")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 0, "per-document engine timeout (default from config)")
	batchCmd.Flags().BoolVar(&batchNoCache, "no-cache", false, "bypass the result cache")
	batchCmd.Flags().BoolVar(&batchRetryNoOCR, "retry-without-ocr", false, "on engine failure, retry once with OCR disabled")
	batchCmd.Flags().BoolVar(&batchXLSX, "xlsx", false, "also write extracted tables as workbooks")
	batchCmd.Flags().BoolVar(&batchImages, "images", false, "also export figure images")
	rootCmd.AddCommand(batchCmd)
}

// collectSources expands file and directory arguments into a sorted list
// of PDF paths.
func collectSources(args []string) ([]string, error) {
	seen := make(map[string]bool)
	var sources []string

	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			sources = append(sources, path)
		}
	}

	for _, arg := range args {
		fi, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", arg, err)
		}
		if !fi.IsDir() {
			add(arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", arg, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
				continue
			}
			add(filepath.Join(arg, e.Name()))
		}
	}

	sort.Strings(sources)
	return sources, nil
}

type batchResult struct {
	source  string
	summary *convert.Summary
	err     error
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if batchOutputDir != "" {
		cfg.Output.Dir = batchOutputDir
	}
	if batchArtifacts != "" {
		cfg.Artifacts.Dir = batchArtifacts
	}
	if batchWorkers > 0 {
		cfg.Batch.Workers = batchWorkers
	}
	if batchTimeout > 0 {
		cfg.Pipeline.Timeout = batchTimeout
	}
	if cmd.Flags().Changed("retry-without-ocr") {
		cfg.Pipeline.RetryWithoutOCR = batchRetryNoOCR
	}
	if cmd.Flags().Changed("xlsx") {
		cfg.Output.TablesXLSX = batchXLSX
	}
	if cmd.Flags().Changed("images") {
		cfg.Output.FigureImages = batchImages
	}

	logger := newLogger(cfg)
	ui.Init(noColor, verbose)

	sources, err := collectSources(args)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return fmt.Errorf("no PDF documents found")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var recorder orchestrator.RunRecorder
	store, closeStore, err := openRunStore(ctx, cfg)
	if err != nil {
		ui.Warning("Run history unavailable: %v", err)
	} else {
		recorder = store
		defer closeStore()
	}

	cacheClient := openCache(cfg, logger)
	if cacheClient != nil {
		defer cacheClient.Close()
	}

	runner := buildRunner(cfg, logger, recorder, cacheClient)

	ui.Info("Converting %d document(s) with %d worker(s)", len(sources), cfg.Batch.Workers)

	startedAt := time.Now().UTC()
	progress := ui.NewBatchProgress()
	bar := progress.AddBar("converting", int64(len(sources)))

	results := make([]batchResult, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Batch.Workers)

	for i, source := range sources {
		g.Go(func() error {
			report, err := runner.Run(gctx, orchestrator.RunRequest{
				SourcePath:       source,
				OutputDir:        cfg.Output.Dir,
				Pipeline:         pipelineRequest(cfg.Pipeline),
				Timeout:          runTimeout(cfg.Pipeline),
				AllowOCRFallback: cfg.Pipeline.RetryWithoutOCR,
				DisableCache:     batchNoCache,
				WriteSummary:     cfg.Output.WriteSummary,
				TablesXLSX:       cfg.Output.TablesXLSX,
				ExportImages:     cfg.Output.FigureImages,
			})
			results[i] = batchResult{source: source, err: err}
			if report != nil {
				results[i].summary = report.Summary
			}
			bar.Increment()
			// Individual failures are reported at the end, not propagated:
			// returning an error here would cancel the remaining documents.
			return nil
		})
	}

	_ = g.Wait()
	progress.Close()

	writeBatchSummary(cfg.Output.Dir, logger, startedAt, results)

	return printBatchResults(results)
}

type batchDocument struct {
	Source          string  `json:"source"`
	RunID           string  `json:"run_id,omitempty"`
	Status          string  `json:"status"`
	Pages           int     `json:"pages,omitempty"`
	Tables          int     `json:"tables,omitempty"`
	Figures         int     `json:"figures,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Error           string  `json:"error,omitempty"`
}

type batchSummary struct {
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     time.Time       `json:"completed_at"`
	DurationSeconds float64         `json:"duration_seconds"`
	Total           int             `json:"total"`
	Succeeded       int             `json:"succeeded"`
	Failed          int             `json:"failed"`
	Documents       []batchDocument `json:"documents"`
}

// writeBatchSummary records the aggregate outcome alongside the per-document
// artifacts. A write failure is reported but never fails the batch.
func writeBatchSummary(dir string, logger *observability.Logger, startedAt time.Time, results []batchResult) {
	completedAt := time.Now().UTC()
	agg := batchSummary{
		StartedAt:       startedAt,
		CompletedAt:     completedAt,
		DurationSeconds: completedAt.Sub(startedAt).Seconds(),
		Total:           len(results),
		Documents:       make([]batchDocument, 0, len(results)),
	}

	for _, r := range results {
		doc := batchDocument{Source: r.source}
		if r.err != nil {
			agg.Failed++
			doc.Status = string(convert.RunStatusFailed)
			doc.Error = r.err.Error()
		} else {
			agg.Succeeded++
			doc.RunID = r.summary.RunID
			doc.Status = string(r.summary.Status)
			doc.Pages = r.summary.Pages
			doc.Tables = r.summary.Tables
			doc.Figures = r.summary.Figures
			doc.DurationSeconds = r.summary.DurationSeconds
		}
		agg.Documents = append(agg.Documents, doc)
	}

	st := output.NewWriter(dir, logger).WriteJSON("batch_summary.json", agg)
	if st.Err != nil {
		ui.Warning("Batch summary not written: %v", st.Err)
	}
}

// printBatchResults renders the per-document outcome table and returns an
// error if any document failed.
func printBatchResults(results []batchResult) error {
	var failed int
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		name := filepath.Base(r.source)
		if r.err != nil {
			failed++
			rows = append(rows, []string{name, "failed", r.err.Error()})
			continue
		}
		sum := r.summary
		detail := fmt.Sprintf("%d pages, %d tables, %s",
			sum.Pages, sum.Tables, ui.FormatDuration(sum.Duration()))
		rows = append(rows, []string{name, string(sum.Status), detail})
	}

	ui.Section("Batch Results")
	ui.Table([]string{"Document", "Status", "Detail"}, rows)
	ui.Newline()

	if failed > 0 {
		ui.Error("%d of %d conversions failed", failed, len(results))
		return fmt.Errorf("%d of %d conversions failed", failed, len(results))
	}

	ui.Success("All %d conversions completed", len(results))
	return nil
}
