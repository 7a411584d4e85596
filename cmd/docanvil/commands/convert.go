package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/docanvil/docanvil/cmd/docanvil/ui"
	"github.com/docanvil/docanvil/internal/config"
	"github.com/docanvil/docanvil/internal/convert"
	"github.com/docanvil/docanvil/internal/orchestrator"
	"github.com/docanvil/docanvil/internal/pipeline"
)

var (
	convertOutputDir    string
	convertArtifacts    string
	convertTables       bool
	convertOCR          bool
	convertFigures      bool
	convertChunks       bool
	convertCode         bool
	convertDevice       string
	convertOCRLangs     []string
	convertThreads      int
	convertChunkSize    int
	convertChunkOverlap int
	convertTimeout      time.Duration
	convertRetryNoOCR   bool
	convertNoCache      bool
	convertXLSX         bool
	convertImages       bool
	convertNoSummary    bool
	convertNoHistory    bool
)

var convertCmd = &cobra.Command{
	Use:   "convert <pdf-file>",
	Short: "Convert a PDF document to structured text artifacts",
	Long: `Convert a PDF document into structured JSON, Markdown and plain text
artifacts. Capabilities beyond layout analysis are enabled per run and
require their model artifacts to be installed locally; a missing model
fails the run before the engine starts.`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringVarP(&convertOutputDir, "output", "o", "", "output directory (default from config)")
	convertCmd.Flags().StringVar(&convertArtifacts, "artifacts", "", "model artifacts directory (default from config)")
	convertCmd.Flags().BoolVar(&convertTables, "tables", true, "enable table structure recovery")
	convertCmd.Flags().BoolVar(&convertOCR, "ocr", false, "enable OCR for scanned pages")
	convertCmd.Flags().BoolVar(&convertFigures, "figures", false, "enable figure classification")
	convertCmd.Flags().BoolVar(&convertChunks, "chunks", false, "emit retrieval chunks")
	convertCmd.Flags().BoolVar(&convertCode, "code", false, "enable code and formula enrichment")
	convertCmd.Flags().StringVar(&convertDevice, "device", "", "accelerator preference: auto, gpu or cpu")
	convertCmd.Flags().StringSliceVar(&convertOCRLangs, "ocr-lang", nil, "OCR languages")
	convertCmd.Flags().IntVar(&convertThreads, "threads", 0, "engine worker threads")
	convertCmd.Flags().IntVar(&convertChunkSize, "chunk-size", 0, "chunk size in characters")
	convertCmd.Flags().IntVar(&convertChunkOverlap, "chunk-overlap", -1, "chunk overlap in characters")
	convertCmd.Flags().DurationVar(&convertTimeout, "timeout", 0, "engine timeout (default from config)")
	convertCmd.Flags().BoolVar(&convertRetryNoOCR, "retry-without-ocr", false, "on engine failure, retry once with OCR disabled")
	convertCmd.Flags().BoolVar(&convertNoCache, "no-cache", false, "bypass the result cache")
	convertCmd.Flags().BoolVar(&convertXLSX, "xlsx", false, "also write extracted tables as a workbook")
	convertCmd.Flags().BoolVar(&convertImages, "images", false, "also export figure images")
	convertCmd.Flags().BoolVar(&convertNoSummary, "no-summary", false, "skip the run summary artifact")
	convertCmd.Flags().BoolVar(&convertNoHistory, "no-history", false, "skip run history recording")
	rootCmd.AddCommand(convertCmd)
}

// applyConvertFlags overlays explicitly-set flags onto the config defaults.
func applyConvertFlags(cmd *cobra.Command, cfg *config.Config) {
	if convertArtifacts != "" {
		cfg.Artifacts.Dir = convertArtifacts
	}

	p := &cfg.Pipeline
	if cmd.Flags().Changed("tables") {
		p.TableStructure = convertTables
	}
	if cmd.Flags().Changed("ocr") {
		p.OCR = convertOCR
	}
	if cmd.Flags().Changed("figures") {
		p.FigureClassification = convertFigures
	}
	if cmd.Flags().Changed("chunks") {
		p.Chunking = convertChunks
	}
	if cmd.Flags().Changed("code") {
		p.CodeFormula = convertCode
	}
	if convertDevice != "" {
		p.Device = convertDevice
	}
	if len(convertOCRLangs) > 0 {
		p.OCRLanguages = convertOCRLangs
	}
	if convertThreads > 0 {
		p.Threads = convertThreads
	}
	if convertChunkSize > 0 {
		p.ChunkSize = convertChunkSize
	}
	if convertChunkOverlap >= 0 {
		p.ChunkOverlap = convertChunkOverlap
	}
	if convertTimeout > 0 {
		p.Timeout = convertTimeout
	}
	if cmd.Flags().Changed("retry-without-ocr") {
		p.RetryWithoutOCR = convertRetryNoOCR
	}

	o := &cfg.Output
	if convertOutputDir != "" {
		o.Dir = convertOutputDir
	}
	if cmd.Flags().Changed("xlsx") {
		o.TablesXLSX = convertXLSX
	}
	if cmd.Flags().Changed("images") {
		o.FigureImages = convertImages
	}
	if convertNoSummary {
		o.WriteSummary = false
	}
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyConvertFlags(cmd, cfg)

	logger := newLogger(cfg)
	ui.Init(noColor, verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var recorder orchestrator.RunRecorder
	if !convertNoHistory {
		store, closeStore, err := openRunStore(ctx, cfg)
		if err != nil {
			ui.Warning("Run history unavailable: %v", err)
		} else {
			recorder = store
			defer closeStore()
		}
	}

	cacheClient := openCache(cfg, logger)
	if cacheClient != nil {
		defer cacheClient.Close()
	}

	runner := buildRunner(cfg, logger, recorder, cacheClient)

	sourcePath := args[0]
	req := orchestrator.RunRequest{
		SourcePath:       sourcePath,
		OutputDir:        cfg.Output.Dir,
		Pipeline:         pipelineRequest(cfg.Pipeline),
		Timeout:          runTimeout(cfg.Pipeline),
		AllowOCRFallback: cfg.Pipeline.RetryWithoutOCR,
		DisableCache:     convertNoCache,
		WriteSummary:     cfg.Output.WriteSummary,
		TablesXLSX:       cfg.Output.TablesXLSX,
		ExportImages:     cfg.Output.FigureImages,
	}

	spin := ui.NewSpinner(fmt.Sprintf("Converting %s...", filepath.Base(sourcePath)))
	spin.Start()
	report, err := runner.Run(ctx, req)
	spin.Stop()

	if err != nil {
		return describeRunError(err)
	}

	printSummary(report.Summary)
	return nil
}

// describeRunError turns run errors into actionable CLI messages.
func describeRunError(err error) error {
	var capErr *pipeline.CapabilityUnavailableError
	if errors.As(err, &capErr) {
		if capErr.Path != "" {
			return fmt.Errorf("capability %q is not installed: expected model artifacts at %s\nRun 'docanvil models list' to see what is available", capErr.Capability, capErr.Path)
		}
		return fmt.Errorf("capability %q is not installed\nRun 'docanvil models list' to see what is available", capErr.Capability)
	}

	var srcErr *convert.SourceError
	if errors.As(err, &srcErr) {
		if srcErr.IsNotFound() {
			return fmt.Errorf("source document not found: %s", srcErr.Path)
		}
		return fmt.Errorf("source document unreadable (is it a PDF?): %s", srcErr.Path)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("conversion timed out; raise --timeout for large documents")
	}

	var engErr *convert.EngineError
	if errors.As(err, &engErr) {
		return fmt.Errorf("conversion engine failed: %v", engErr.Err)
	}

	return err
}

// printSummary renders the run summary and per-artifact outcomes.
func printSummary(sum *convert.Summary) {
	status := string(sum.Status)
	switch sum.Status {
	case convert.RunStatusCompleted:
		ui.Success("Conversion completed in %s", ui.FormatDuration(sum.Duration()))
	case convert.RunStatusCompletedDegraded:
		ui.Warning("Conversion completed with degraded pages in %s", ui.FormatDuration(sum.Duration()))
	default:
		ui.Error("Conversion %s", status)
	}

	ui.Section("Conversion Summary")
	cacheState := "miss"
	if sum.CacheHit {
		cacheState = "hit"
	}
	ui.Table([]string{"Metric", "Value"}, [][]string{
		{"Run ID", sum.RunID},
		{"Source", sum.Source},
		{"Status", status},
		{"Pages", fmt.Sprintf("%d", sum.Pages)},
		{"Tables", fmt.Sprintf("%d", sum.Tables)},
		{"Figures", fmt.Sprintf("%d", sum.Figures)},
		{"Characters", fmt.Sprintf("%d", sum.Characters)},
		{"Engine", sum.EngineName},
		{"Device", sum.Device},
		{"Capabilities", strings.Join(sum.ExecutedCapabilities, ", ")},
		{"Cache", cacheState},
		{"Output", sum.OutputDir},
	})

	for _, n := range sum.Notices {
		ui.Warning("%s downgraded from %s to %s: %s", n.Aspect, n.From, n.To, n.Reason)
	}

	if len(sum.DegradedPages) > 0 {
		pages := make([]string, len(sum.DegradedPages))
		for i, p := range sum.DegradedPages {
			pages[i] = fmt.Sprintf("%d", p)
		}
		ui.Warning("Pages with degraded extraction: %s", strings.Join(pages, ", "))
	}

	if len(sum.Artifacts) > 0 {
		ui.Newline()
		rows := make([][]string, 0, len(sum.Artifacts))
		for _, a := range sum.Artifacts {
			state := "written"
			detail := ui.FormatBytes(a.Bytes)
			if a.Error != "" {
				state = "failed"
				detail = a.Error
			}
			rows = append(rows, []string{a.Name, state, detail})
		}
		ui.Table([]string{"Artifact", "State", "Detail"}, rows)
	}

	if failed := sum.FailedArtifacts(); len(failed) > 0 {
		ui.Newline()
		ui.Warning("%d artifact(s) could not be written; the rest of the run is intact", len(failed))
	}
}
