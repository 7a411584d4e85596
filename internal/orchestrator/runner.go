// Package orchestrator drives complete conversion runs: configuration,
// source preflight, engine invocation, projection, artifact writes and run
// accounting.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docanvil/docanvil/internal/artifact"
	"github.com/docanvil/docanvil/internal/cache"
	"github.com/docanvil/docanvil/internal/convert"
	"github.com/docanvil/docanvil/internal/metrics"
	"github.com/docanvil/docanvil/internal/observability"
	"github.com/docanvil/docanvil/internal/output"
	"github.com/docanvil/docanvil/internal/pipeline"
	"github.com/docanvil/docanvil/internal/project"
)

// RunRecorder persists run summaries. runstore.Store implements it; a nil
// recorder disables history.
type RunRecorder interface {
	SaveRun(ctx context.Context, sum *convert.Summary) error
	UpdateRun(ctx context.Context, sum *convert.Summary) error
}

// RunRequest describes one conversion run.
type RunRequest struct {
	SourcePath string
	OutputDir  string
	Pipeline   pipeline.Request

	// RunID lets the caller fix the run identifier up front, which async
	// callers need to hand out before the run completes. Empty means a
	// fresh one is generated.
	RunID string

	// Timeout bounds the engine call only; zero means no limit. A timed-out
	// engine call fails the run, no partial result is recoverable.
	Timeout time.Duration

	// AllowOCRFallback retries a whole-document engine failure exactly once
	// with OCR disabled, on the suspicion that OCR caused the failure.
	AllowOCRFallback bool

	DisableCache bool
	WriteSummary bool
	TablesXLSX   bool
	ExportImages bool
}

// Report is the outcome of a completed run.
type Report struct {
	Summary *convert.Summary
	Result  *convert.Result
}

// RunnerConfig wires a Runner's collaborators. Cache, Recorder and Metrics
// are optional.
type RunnerConfig struct {
	Bundle   *artifact.Bundle
	Builder  *pipeline.Builder
	Adapter  *convert.Adapter
	Cache    cache.Client
	Recorder RunRecorder
	Metrics  *metrics.Metrics
	Logger   *observability.Logger
	CacheTTL time.Duration
}

// Runner executes conversion runs. It holds no per-run state, so one Runner
// may serve concurrent runs; the shared artifact bundle is read-only.
type Runner struct {
	bundle   *artifact.Bundle
	builder  *pipeline.Builder
	adapter  *convert.Adapter
	cache    cache.Client
	recorder RunRecorder
	metrics  *metrics.Metrics
	logger   *observability.Logger
	cacheTTL time.Duration
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New("docanvil")
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Runner{
		bundle:   cfg.Bundle,
		builder:  cfg.Builder,
		adapter:  cfg.Adapter,
		cache:    cfg.Cache,
		recorder: cfg.Recorder,
		metrics:  m,
		logger:   logger.WithComponent("orchestrator"),
		cacheTTL: ttl,
	}
}

// Run executes one conversion end to end. Configuration and source errors
// fail before the engine is ever invoked; engine failures fail the run with
// no partial output; degraded pages and failed artifact writes are recorded
// in the summary without failing the run.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*Report, error) {
	runID := req.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	ctx = observability.ContextWithRunID(ctx, runID)
	logger := r.logger.WithRun(runID)

	sum := convert.NewSummary(runID, req.SourcePath)
	sum.OutputDir = req.OutputDir
	sum.RequestedCapabilities = capabilityNames(req.Pipeline.Capabilities)

	r.metrics.StartRun()
	r.saveRun(ctx, logger, sum)

	logger.Info().
		Str("source", req.SourcePath).
		Strs("capabilities", sum.RequestedCapabilities).
		Str("device", string(req.Pipeline.Device)).
		Msg("Run started")

	cfg, err := r.builder.Build(req.Pipeline, r.bundle)
	if err != nil {
		return nil, r.failRun(logger, sum, err)
	}

	info, err := convert.Preflight(req.SourcePath)
	if err != nil {
		return nil, r.failRun(logger, sum, err)
	}
	sum.SourceSHA256 = info.SHA256

	res, finalCfg, err := r.convert(ctx, logger, req, cfg, info)
	if err != nil {
		return nil, r.failRun(logger, sum, err)
	}
	sum.CacheHit = res.cacheHit
	sum.Device = string(finalCfg.Device)
	sum.Notices = finalCfg.Notices
	sum.ExecutedCapabilities = capabilityNames(finalCfg.Capabilities)

	r.project(ctx, logger, req, finalCfg, res.result, sum)

	status := convert.RunStatusCompleted
	if sum.Degraded() {
		status = convert.RunStatusCompletedDegraded
	}
	sum.Complete(status)

	if req.WriteSummary {
		writer := output.NewWriter(req.OutputDir, logger)
		st := writer.WriteJSON(output.NamesFor(req.SourcePath).Summary, sum)
		r.recordArtifact(sum, st)
	}

	r.updateRun(logger, sum)
	r.metrics.FinishRun(string(status), sum.Duration())
	r.metrics.RecordDocument(sum.Pages, sum.Tables, sum.Figures, len(sum.DegradedPages))

	logger.Info().
		Str("status", string(status)).
		Int("pages", sum.Pages).
		Int("tables", sum.Tables).
		Int("figures", sum.Figures).
		Dur("duration", sum.Duration()).
		Bool("cache_hit", sum.CacheHit).
		Msg("Run finished")

	return &Report{Summary: sum, Result: res.result}, nil
}

// CheckConfig builds the pipeline configuration for a request without
// executing it. Callers that accept work asynchronously use it to reject
// misconfigured requests before handing out a run ID.
func (r *Runner) CheckConfig(req RunRequest) error {
	_, err := r.builder.Build(req.Pipeline, r.bundle)
	return err
}

type convertOutcome struct {
	result   *convert.Result
	cacheHit bool
}

// convert produces the normalized result, from cache when possible,
// otherwise through the engine with the bounded OCR-disable retry. The
// returned config is the one the result was produced under.
func (r *Runner) convert(ctx context.Context, logger *observability.Logger, req RunRequest, cfg *pipeline.Config, info *convert.SourceInfo) (convertOutcome, *pipeline.Config, error) {
	if res := r.cacheLookup(ctx, logger, req, cfg, info); res != nil {
		return convertOutcome{result: res, cacheHit: true}, cfg, nil
	}

	res, err := r.invokeEngine(ctx, req, cfg)
	if err != nil {
		var engineErr *convert.EngineError
		if errors.As(err, &engineErr) && req.AllowOCRFallback && cfg.Enabled(artifact.OCR) {
			logger.Warn().
				Err(err).
				Msg("Engine failed, retrying once with OCR disabled")
			retryCfg := cfg.WithoutOCR()
			res, err = r.invokeEngine(ctx, req, retryCfg)
			if err != nil {
				r.metrics.RecordEngineFailure(r.adapter.EngineName())
				return convertOutcome{}, cfg, err
			}
			r.cacheStore(ctx, logger, req, retryCfg, info, res)
			return convertOutcome{result: res}, retryCfg, nil
		}
		if engineErr != nil {
			r.metrics.RecordEngineFailure(r.adapter.EngineName())
		}
		return convertOutcome{}, cfg, err
	}

	r.cacheStore(ctx, logger, req, cfg, info, res)
	return convertOutcome{result: res}, cfg, nil
}

// invokeEngine runs the adapter once, bounded by the request timeout.
func (r *Runner) invokeEngine(ctx context.Context, req RunRequest, cfg *pipeline.Config) (*convert.Result, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	return r.adapter.Convert(ctx, cfg, req.SourcePath, req.ExportImages)
}

// project computes the projections concurrently and writes every artifact,
// recording per-artifact outcomes in the summary.
func (r *Runner) project(ctx context.Context, logger *observability.Logger, req RunRequest, cfg *pipeline.Config, res *convert.Result, sum *convert.Summary) {
	sum.Pages = len(res.Pages)
	sum.Tables = len(res.Tables)
	sum.Figures = len(res.Figures)
	sum.Characters = res.CharCount()
	sum.EngineName = res.EngineName
	sum.EngineSeconds = res.EngineSeconds
	sum.Degradations = res.Degradations
	sum.DegradedPages = res.DegradedPages()

	chunking := cfg.Enabled(artifact.Chunking)

	var (
		doc    *project.StructuredDoc
		md     string
		txt    string
		chunks []project.Chunk
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		doc = project.Structured(res)
		return nil
	})
	g.Go(func() error {
		md = project.Markdown(res)
		return nil
	})
	g.Go(func() error {
		txt = project.PlainText(res)
		return nil
	})
	if chunking {
		g.Go(func() error {
			chunks = project.Chunks(res, cfg.ChunkSize, cfg.ChunkOverlap)
			return nil
		})
	}
	_ = g.Wait()

	writer := output.NewWriter(req.OutputDir, logger)
	names := output.NamesFor(req.SourcePath)

	r.recordArtifact(sum, writer.WriteJSON(names.Structured, doc))
	r.recordArtifact(sum, writer.WriteText(names.Markdown, md))
	r.recordArtifact(sum, writer.WriteText(names.PlainText, txt))
	if chunking && len(chunks) > 0 {
		r.recordArtifact(sum, writer.WriteJSON(names.Chunks, chunks))
	}
	if req.TablesXLSX && len(res.Tables) > 0 {
		r.recordArtifact(sum, writer.WriteTablesXLSX(names.TablesXLSX, res.Tables))
	}
	if req.ExportImages {
		entries, statuses := writer.WriteFigureImages(output.Stem(req.SourcePath), res.Figures)
		for _, st := range statuses {
			r.recordArtifact(sum, st)
		}
		if len(entries) > 0 {
			r.recordArtifact(sum, writer.WriteJSON(names.Images, entries))
		}
	}
}

func (r *Runner) recordArtifact(sum *convert.Summary, st output.Status) {
	r.metrics.RecordArtifactWrite(st.OK())
	as := convert.ArtifactStatus{Name: st.Name, Path: st.Path, Bytes: st.Bytes}
	if st.Err != nil {
		as.Error = st.Err.Error()
	}
	sum.Artifacts = append(sum.Artifacts, as)
}

func (r *Runner) cacheKey(req RunRequest, cfg *pipeline.Config, info *convert.SourceInfo) string {
	fp := cfg.Fingerprint()
	if req.ExportImages {
		// Image payloads are only present when the run asked for them.
		fp += "+img"
	}
	return cache.ResultKey(info.SHA256, fp)
}

func (r *Runner) cacheLookup(ctx context.Context, logger *observability.Logger, req RunRequest, cfg *pipeline.Config, info *convert.SourceInfo) *convert.Result {
	if r.cache == nil || req.DisableCache {
		return nil
	}

	key := r.cacheKey(req, cfg, info)
	data, err := r.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warn().Err(err).Msg("Result cache lookup failed")
		}
		r.metrics.RecordCacheLookup(false)
		return nil
	}

	var res convert.Result
	if err := json.Unmarshal(data, &res); err != nil {
		logger.Warn().Err(err).Msg("Discarding undecodable cached result")
		_ = r.cache.Delete(ctx, key)
		r.metrics.RecordCacheLookup(false)
		return nil
	}

	r.metrics.RecordCacheLookup(true)
	logger.Info().Str("sha256", info.SHA256).Msg("Result served from cache")
	return &res
}

func (r *Runner) cacheStore(ctx context.Context, logger *observability.Logger, req RunRequest, cfg *pipeline.Config, info *convert.SourceInfo, res *convert.Result) {
	if r.cache == nil || req.DisableCache {
		return
	}

	data, err := json.Marshal(res)
	if err != nil {
		logger.Warn().Err(err).Msg("Result cache encode failed")
		return
	}
	if err := r.cache.Set(ctx, r.cacheKey(req, cfg, info), data, r.cacheTTL); err != nil {
		logger.Warn().Err(err).Msg("Result cache store failed")
	}
}

func (r *Runner) saveRun(ctx context.Context, logger *observability.Logger, sum *convert.Summary) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.SaveRun(ctx, sum); err != nil {
		logger.Warn().Err(err).Msg("Run history save failed")
	}
}

// updateRun records the final summary. It uses a fresh context because the
// run's own context may already be cancelled.
func (r *Runner) updateRun(logger *observability.Logger, sum *convert.Summary) {
	if r.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.recorder.UpdateRun(ctx, sum); err != nil {
		logger.Warn().Err(err).Msg("Run history update failed")
	}
}

func (r *Runner) failRun(logger *observability.Logger, sum *convert.Summary, err error) error {
	sum.Error = err.Error()
	sum.Complete(convert.RunStatusFailed)
	r.updateRun(logger, sum)
	r.metrics.FinishRun(string(convert.RunStatusFailed), sum.Duration())

	logger.Error().Err(err).Msg("Run failed")
	return err
}

func capabilityNames(caps []artifact.Capability) []string {
	seen := make(map[artifact.Capability]bool, len(caps))
	names := make([]string, 0, len(caps))
	for _, c := range caps {
		if seen[c] {
			continue
		}
		seen[c] = true
		names = append(names, string(c))
	}
	return names
}
