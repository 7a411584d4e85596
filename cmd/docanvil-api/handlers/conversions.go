package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/docanvil/docanvil/internal/artifact"
	"github.com/docanvil/docanvil/internal/config"
	"github.com/docanvil/docanvil/internal/convert"
	"github.com/docanvil/docanvil/internal/observability"
	"github.com/docanvil/docanvil/internal/orchestrator"
	"github.com/docanvil/docanvil/internal/pipeline"
	"github.com/docanvil/docanvil/internal/runstore"
)

// maxUploadBytes bounds in-memory multipart parsing; larger files spill to
// temp files.
const maxUploadBytes = 64 << 20

// ConversionHandler handles conversion lifecycle requests. Conversions run
// asynchronously: the POST returns a run ID immediately and the caller
// polls the run's summary.
type ConversionHandler struct {
	logger     *observability.Logger
	runner     *orchestrator.Runner
	store      *runstore.Store
	defaults   config.PipelineConfig
	output     config.OutputConfig
	uploadDir  string
	outputRoot string
	sem        chan struct{}
}

// NewConversionHandler creates a conversion handler. workers bounds the
// number of concurrent conversions.
func NewConversionHandler(logger *observability.Logger, runner *orchestrator.Runner, store *runstore.Store, cfg *config.Config, uploadDir string, workers int) *ConversionHandler {
	if workers < 1 {
		workers = 1
	}
	return &ConversionHandler{
		logger:     logger.WithComponent("conversions"),
		runner:     runner,
		store:      store,
		defaults:   cfg.Pipeline,
		output:     cfg.Output,
		uploadDir:  uploadDir,
		outputRoot: cfg.Output.Dir,
		sem:        make(chan struct{}, workers),
	}
}

// ConversionOptionsDTO carries per-run overrides of the configured pipeline
// defaults. Pointer fields distinguish "absent" from "false".
type ConversionOptionsDTO struct {
	TableStructure       *bool    `json:"table_structure,omitempty"`
	OCR                  *bool    `json:"ocr,omitempty"`
	FigureClassification *bool    `json:"figure_classification,omitempty"`
	CodeFormula          *bool    `json:"code_formula,omitempty"`
	Chunking             *bool    `json:"chunking,omitempty"`
	Device               string   `json:"device,omitempty"`
	OCRLanguages         []string `json:"ocr_languages,omitempty"`
	ChunkSize            int      `json:"chunk_size,omitempty"`
	ChunkOverlap         *int     `json:"chunk_overlap,omitempty"`
	RetryWithoutOCR      *bool    `json:"retry_without_ocr,omitempty"`
	DisableCache         bool     `json:"disable_cache,omitempty"`
	TablesXLSX           *bool    `json:"tables_xlsx,omitempty"`
	ExportImages         *bool    `json:"export_images,omitempty"`
}

// ConversionRequestDTO is the JSON request body for path-based conversions.
type ConversionRequestDTO struct {
	SourcePath string                `json:"source_path"`
	Options    *ConversionOptionsDTO `json:"options,omitempty"`
}

// ConversionAcceptedDTO is the 202 response for a started conversion.
type ConversionAcceptedDTO struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Source    string `json:"source"`
	OutputDir string `json:"output_dir"`
}

// Create handles POST /api/v1/conversions. The body is either JSON naming
// a server-local source path, or multipart/form-data with a "file" part
// and an optional "options" JSON part.
func (h *ConversionHandler) Create(w http.ResponseWriter, r *http.Request) {
	runID := uuid.New().String()

	var (
		sourcePath string
		opts       *ConversionOptionsDTO
		err        error
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		sourcePath, opts, err = h.acceptUpload(r, runID)
	} else {
		sourcePath, opts, err = h.acceptPathRequest(r)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversion request", err.Error())
		return
	}

	req := h.buildRunRequest(runID, sourcePath, opts)

	// Capability errors surface now, not after the 202: once the run ID is
	// handed out the caller would only learn of them by polling.
	if err := h.runner.CheckConfig(req); err != nil {
		var capErr *pipeline.CapabilityUnavailableError
		if errors.As(err, &capErr) {
			writeError(w, http.StatusUnprocessableEntity, "capability unavailable", capErr.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid pipeline configuration", err.Error())
		return
	}

	// Pre-register the run so polls issued right after the 202 find it.
	pending := convert.NewSummary(runID, sourcePath)
	pending.OutputDir = req.OutputDir
	if err := h.store.SaveRun(r.Context(), pending); err != nil {
		writeError(w, http.StatusInternalServerError, "record run", err.Error())
		return
	}

	go h.runAsync(req)

	h.logger.Info().
		Str("run_id", runID).
		Str("source", sourcePath).
		Msg("Conversion accepted")

	writeJSON(w, http.StatusAccepted, ConversionAcceptedDTO{
		ID:        runID,
		Status:    string(convert.RunStatusRunning),
		Source:    sourcePath,
		OutputDir: req.OutputDir,
	})
}

// acceptUpload stores the uploaded PDF under the run's upload directory.
func (h *ConversionHandler) acceptUpload(r *http.Request, runID string) (string, *ConversionOptionsDTO, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", nil, fmt.Errorf("parse multipart form: %w", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, fmt.Errorf("missing file part: %w", err)
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "" || name == "." {
		name = "document.pdf"
	}

	dir := filepath.Join(h.uploadDir, runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", nil, fmt.Errorf("create upload dir: %w", err)
	}

	path := filepath.Join(dir, name)
	dst, err := os.Create(path)
	if err != nil {
		return "", nil, fmt.Errorf("store upload: %w", err)
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		return "", nil, fmt.Errorf("store upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", nil, fmt.Errorf("store upload: %w", err)
	}

	var opts *ConversionOptionsDTO
	if raw := r.FormValue("options"); raw != "" {
		opts = &ConversionOptionsDTO{}
		if err := json.Unmarshal([]byte(raw), opts); err != nil {
			return "", nil, fmt.Errorf("parse options: %w", err)
		}
	}

	return path, opts, nil
}

// acceptPathRequest reads a JSON body naming a server-local source.
func (h *ConversionHandler) acceptPathRequest(r *http.Request) (string, *ConversionOptionsDTO, error) {
	var dto ConversionRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		return "", nil, fmt.Errorf("parse request body: %w", err)
	}
	if dto.SourcePath == "" {
		return "", nil, fmt.Errorf("source_path is required")
	}
	return dto.SourcePath, dto.Options, nil
}

// buildRunRequest overlays request options onto the configured defaults.
// Each run writes into its own subdirectory so concurrent conversions of
// same-named documents cannot clobber each other.
func (h *ConversionHandler) buildRunRequest(runID, sourcePath string, opts *ConversionOptionsDTO) orchestrator.RunRequest {
	p := h.defaults
	out := h.output

	if opts != nil {
		if opts.TableStructure != nil {
			p.TableStructure = *opts.TableStructure
		}
		if opts.OCR != nil {
			p.OCR = *opts.OCR
		}
		if opts.FigureClassification != nil {
			p.FigureClassification = *opts.FigureClassification
		}
		if opts.CodeFormula != nil {
			p.CodeFormula = *opts.CodeFormula
		}
		if opts.Chunking != nil {
			p.Chunking = *opts.Chunking
		}
		if opts.Device != "" {
			p.Device = opts.Device
		}
		if len(opts.OCRLanguages) > 0 {
			p.OCRLanguages = opts.OCRLanguages
		}
		if opts.ChunkSize > 0 {
			p.ChunkSize = opts.ChunkSize
		}
		if opts.ChunkOverlap != nil && *opts.ChunkOverlap >= 0 {
			p.ChunkOverlap = *opts.ChunkOverlap
		}
		if opts.RetryWithoutOCR != nil {
			p.RetryWithoutOCR = *opts.RetryWithoutOCR
		}
		if opts.TablesXLSX != nil {
			out.TablesXLSX = *opts.TablesXLSX
		}
		if opts.ExportImages != nil {
			out.FigureImages = *opts.ExportImages
		}
	}

	req := orchestrator.RunRequest{
		RunID:            runID,
		SourcePath:       sourcePath,
		OutputDir:        filepath.Join(h.outputRoot, runID),
		Pipeline:         pipelineRequestFromConfig(p),
		Timeout:          engineTimeout(p),
		AllowOCRFallback: p.RetryWithoutOCR,
		WriteSummary:     out.WriteSummary,
		TablesXLSX:       out.TablesXLSX,
		ExportImages:     out.FigureImages,
	}
	if opts != nil {
		req.DisableCache = opts.DisableCache
	}
	return req
}

// runAsync executes the conversion under the worker semaphore. The HTTP
// request context is long gone by the time the run executes, so the run
// gets its own.
func (h *ConversionHandler) runAsync(req orchestrator.RunRequest) {
	h.sem <- struct{}{}
	defer func() { <-h.sem }()

	if _, err := h.runner.Run(context.Background(), req); err != nil {
		h.logger.Error().
			Err(err).
			Str("run_id", req.RunID).
			Str("source", req.SourcePath).
			Msg("Conversion failed")
	}
}

// Get handles GET /api/v1/conversions/{runID}.
func (h *ConversionHandler) Get(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if _, err := uuid.Parse(runID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id", runID)
		return
	}

	sum, err := h.store.GetRun(r.Context(), runID)
	if errors.Is(err, runstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found", runID)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load run", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, sum)
}

// List handles GET /api/v1/conversions with limit/offset paging.
func (h *ConversionHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	runs, err := h.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list runs", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":   runs,
		"limit":  limit,
		"offset": offset,
	})
}

// queryInt reads an integer query parameter with a default.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

// pipelineRequestFromConfig maps pipeline config to a per-run request.
// Layout is implicit; the builder demands it for every run.
func pipelineRequestFromConfig(p config.PipelineConfig) pipeline.Request {
	var caps []artifact.Capability
	if p.TableStructure {
		caps = append(caps, artifact.TableStructure)
	}
	if p.OCR {
		caps = append(caps, artifact.OCR)
	}
	if p.FigureClassification {
		caps = append(caps, artifact.FigureClassification)
	}
	if p.CodeFormula {
		caps = append(caps, artifact.CodeFormula)
	}
	if p.Chunking {
		caps = append(caps, artifact.Chunking)
	}
	return pipeline.Request{
		Capabilities: caps,
		Device:       pipeline.Device(p.Device),
		OCRLanguages: p.OCRLanguages,
		Threads:      p.Threads,
		ChunkSize:    p.ChunkSize,
		ChunkOverlap: p.ChunkOverlap,
	}
}

// Ensure a stable engine timeout default even if config validation was
// bypassed programmatically.
func engineTimeout(p config.PipelineConfig) time.Duration {
	if p.Timeout <= 0 {
		return 10 * time.Minute
	}
	return p.Timeout
}
