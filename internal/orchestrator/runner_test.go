package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docanvil/docanvil/internal/artifact"
	"github.com/docanvil/docanvil/internal/cache"
	"github.com/docanvil/docanvil/internal/convert"
	"github.com/docanvil/docanvil/internal/engine"
	"github.com/docanvil/docanvil/internal/pipeline"
)

type mockEngine struct {
	mu    sync.Mutex
	calls int
	fn    func(req engine.Request) (*engine.Document, error)
}

func (m *mockEngine) Name() string { return "mock-engine" }

func (m *mockEngine) Convert(ctx context.Context, req engine.Request) (*engine.Document, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	doc, err := m.fn(req)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return doc, err
}

func (m *mockEngine) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type memoryRecorder struct {
	mu      sync.Mutex
	saves   []convert.RunStatus
	updates []convert.RunStatus
	last    convert.Summary
}

func (m *memoryRecorder) SaveRun(ctx context.Context, sum *convert.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, sum.Status)
	return nil
}

func (m *memoryRecorder) UpdateRun(ctx context.Context, sum *convert.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, sum.Status)
	m.last = *sum
	return nil
}

// engineDoc fabricates a successful engine result with tables and figures
// spread round-robin across pages.
func engineDoc(pages, tables, figures int) *engine.Document {
	doc := &engine.Document{
		Schema:  "engine.document.v1",
		Status:  engine.StatusSuccess,
		Name:    "report",
		Timings: engine.Timings{PipelineSeconds: 2.5},
	}
	for p := 1; p <= pages; p++ {
		doc.Pages = append(doc.Pages, engine.Page{PageNo: p, Text: fmt.Sprintf("Body text of page %d.", p)})
	}
	for i := 0; i < tables; i++ {
		doc.Tables = append(doc.Tables, engine.Table{
			PageNo:  (i % pages) + 1,
			NumRows: 2,
			NumCols: 2,
			Cells:   [][]string{{"name", "value"}, {fmt.Sprintf("row%d", i), "x"}},
		})
	}
	for i := 0; i < figures; i++ {
		doc.Pictures = append(doc.Pictures, engine.Picture{PageNo: (i % pages) + 1, Label: "chart"})
	}
	return doc
}

func writeWeights(t *testing.T, root string, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		p := filepath.Join(root, d)
		require.NoError(t, os.MkdirAll(p, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(p, "model.safetensors"), []byte("weights"), 0644))
	}
}

func writeSourcePDF(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\nfixture body\n%%EOF\n"), 0644))
	return path
}

type runnerEnv struct {
	eng    *mockEngine
	runner *Runner
	rec    *memoryRecorder
	outDir string
	source string
}

// newRunnerEnv builds a runner against a real artifact tree containing the
// given model directories, a mock engine, and an in-memory recorder.
func newRunnerEnv(t *testing.T, eng *mockEngine, modelDirs ...string) *runnerEnv {
	t.Helper()

	root := t.TempDir()
	writeWeights(t, root, modelDirs...)
	bundle := artifact.NewResolver(nil).Resolve(root)

	rec := &memoryRecorder{}
	runner := NewRunner(RunnerConfig{
		Bundle:   bundle,
		Builder:  pipeline.NewBuilder(pipeline.StaticProbe(false), nil),
		Adapter:  convert.NewAdapter(eng, nil),
		Recorder: rec,
	})

	return &runnerEnv{
		eng:    eng,
		runner: runner,
		rec:    rec,
		outDir: t.TempDir(),
		source: writeSourcePDF(t, t.TempDir()),
	}
}

func (e *runnerEnv) request(caps ...artifact.Capability) RunRequest {
	return RunRequest{
		SourcePath: e.source,
		OutputDir:  e.outDir,
		Pipeline:   pipeline.Request{Capabilities: caps},
	}
}

func TestRunner_CapabilityUnavailableBeforeEngine(t *testing.T) {
	eng := &mockEngine{fn: func(engine.Request) (*engine.Document, error) {
		return engineDoc(1, 0, 0), nil
	}}
	env := newRunnerEnv(t, eng, "layout") // no tableformer weights

	_, err := env.runner.Run(context.Background(), env.request(artifact.TableStructure))

	var capErr *pipeline.CapabilityUnavailableError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, artifact.TableStructure, capErr.Capability)
	assert.Zero(t, eng.callCount(), "no engine invocation may happen on a configuration error")
	assert.Equal(t, []convert.RunStatus{convert.RunStatusFailed}, env.rec.updates)
}

func TestRunner_SourceErrorsBeforeEngine(t *testing.T) {
	eng := &mockEngine{fn: func(engine.Request) (*engine.Document, error) {
		return engineDoc(1, 0, 0), nil
	}}
	env := newRunnerEnv(t, eng, "layout")

	req := env.request()
	req.SourcePath = filepath.Join(t.TempDir(), "nope.pdf")
	_, err := env.runner.Run(context.Background(), req)

	var srcErr *convert.SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.True(t, srcErr.IsNotFound())
	assert.Zero(t, eng.callCount())

	req.SourcePath = t.TempDir() // a directory is unreadable as a document
	_, err = env.runner.Run(context.Background(), req)
	require.ErrorAs(t, err, &srcErr)
	assert.False(t, srcErr.IsNotFound())
	assert.Zero(t, eng.callCount())
}

func TestRunner_PartialDegradationRecorded(t *testing.T) {
	doc := engineDoc(5, 0, 0)
	doc.Status = engine.StatusPartial
	doc.Tables = []engine.Table{
		{PageNo: 2, NumRows: 1, NumCols: 1, Cells: [][]string{{"a"}}},
		{PageNo: 4, NumRows: 1, NumCols: 1, Cells: [][]string{{"b"}}},
	}
	doc.Errors = []engine.Error{
		{PageNo: 3, Component: "table-structure", Message: "cell matching failed"},
	}
	eng := &mockEngine{fn: func(engine.Request) (*engine.Document, error) { return doc, nil }}
	env := newRunnerEnv(t, eng, "layout", "tableformer")

	req := env.request(artifact.TableStructure)
	req.WriteSummary = true
	report, err := env.runner.Run(context.Background(), req)
	require.NoError(t, err)

	sum := report.Summary
	assert.Equal(t, convert.RunStatusCompletedDegraded, sum.Status)
	assert.Equal(t, 5, sum.Pages)
	assert.Equal(t, 2, sum.Tables)
	assert.Equal(t, []int{3}, sum.DegradedPages)
	require.Len(t, sum.Degradations, 1)
	assert.Equal(t, "table-structure", sum.Degradations[0].Capability)

	assert.Empty(t, report.Result.TablesForPage(3))
	assert.Len(t, report.Result.TablesForPage(2), 1)

	// The persisted summary distinguishes degraded success on its own.
	data, err := os.ReadFile(filepath.Join(env.outDir, "report_summary.json"))
	require.NoError(t, err)
	var onDisk convert.Summary
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, convert.RunStatusCompletedDegraded, onDisk.Status)
	assert.Equal(t, []int{3}, onDisk.DegradedPages)
}

func TestRunner_EndToEndCountsAndArtifacts(t *testing.T) {
	eng := &mockEngine{fn: func(engine.Request) (*engine.Document, error) {
		return engineDoc(32, 20, 3), nil
	}}
	env := newRunnerEnv(t, eng, "layout", "tableformer", "figure_classifier")

	report, err := env.runner.Run(context.Background(),
		env.request(artifact.TableStructure, artifact.FigureClassification))
	require.NoError(t, err)

	sum := report.Summary
	assert.Equal(t, convert.RunStatusCompleted, sum.Status)
	assert.Equal(t, 32, sum.Pages)
	assert.Equal(t, 20, sum.Tables)
	assert.Equal(t, 3, sum.Figures)
	assert.Positive(t, sum.Characters)
	assert.Equal(t, "mock-engine", sum.EngineName)
	assert.Equal(t, 1, eng.callCount())

	for _, name := range []string{"report_content.json", "report_content.md", "report_text.txt"} {
		info, err := os.Stat(filepath.Join(env.outDir, name))
		require.NoError(t, err, name)
		assert.Positive(t, info.Size(), name)
	}
	for _, a := range sum.Artifacts {
		assert.Empty(t, a.Error, a.Name)
	}
}

func TestRunner_IdempotentArtifacts(t *testing.T) {
	eng := &mockEngine{fn: func(engine.Request) (*engine.Document, error) {
		return engineDoc(4, 2, 1), nil
	}}
	env := newRunnerEnv(t, eng, "layout", "tableformer", "figure_classifier")
	req := env.request(artifact.TableStructure, artifact.FigureClassification)

	_, err := env.runner.Run(context.Background(), req)
	require.NoError(t, err)
	firstJSON, err := os.ReadFile(filepath.Join(env.outDir, "report_content.json"))
	require.NoError(t, err)
	firstMD, err := os.ReadFile(filepath.Join(env.outDir, "report_content.md"))
	require.NoError(t, err)

	_, err = env.runner.Run(context.Background(), req)
	require.NoError(t, err)
	secondJSON, err := os.ReadFile(filepath.Join(env.outDir, "report_content.json"))
	require.NoError(t, err)
	secondMD, err := os.ReadFile(filepath.Join(env.outDir, "report_content.md"))
	require.NoError(t, err)

	assert.Equal(t, firstJSON, secondJSON)
	assert.Equal(t, firstMD, secondMD)
}

func TestRunner_OCRFallbackRetriesOnce(t *testing.T) {
	eng := &mockEngine{fn: func(req engine.Request) (*engine.Document, error) {
		if req.Enabled(artifact.OCR) {
			return nil, fmt.Errorf("ocr model crashed")
		}
		return engineDoc(3, 0, 0), nil
	}}
	env := newRunnerEnv(t, eng, "layout", "easyocr")

	req := env.request(artifact.OCR)
	req.AllowOCRFallback = true
	report, err := env.runner.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, eng.callCount())
	sum := report.Summary
	assert.Contains(t, sum.RequestedCapabilities, "ocr")
	assert.NotContains(t, sum.ExecutedCapabilities, "ocr")

	var ocrNotice bool
	for _, n := range sum.Notices {
		if n.Aspect == "ocr" && n.To == "disabled" {
			ocrNotice = true
		}
	}
	assert.True(t, ocrNotice, "the fallback must be recorded, never silent")
}

func TestRunner_NoRetryWithoutOptIn(t *testing.T) {
	eng := &mockEngine{fn: func(engine.Request) (*engine.Document, error) {
		return nil, fmt.Errorf("engine exploded")
	}}
	env := newRunnerEnv(t, eng, "layout", "easyocr")

	_, err := env.runner.Run(context.Background(), env.request(artifact.OCR))

	var engErr *convert.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, 1, eng.callCount())
	assert.Equal(t, []convert.RunStatus{convert.RunStatusFailed}, env.rec.updates)
}

func TestRunner_RetryIsBounded(t *testing.T) {
	eng := &mockEngine{fn: func(engine.Request) (*engine.Document, error) {
		return nil, fmt.Errorf("engine exploded")
	}}
	env := newRunnerEnv(t, eng, "layout", "easyocr")

	req := env.request(artifact.OCR)
	req.AllowOCRFallback = true
	_, err := env.runner.Run(context.Background(), req)

	require.Error(t, err)
	assert.Equal(t, 2, eng.callCount(), "exactly one retry, then the run fails")
}

func TestRunner_CacheHitSkipsEngine(t *testing.T) {
	eng := &mockEngine{fn: func(engine.Request) (*engine.Document, error) {
		return engineDoc(2, 1, 0), nil
	}}
	env := newRunnerEnv(t, eng, "layout", "tableformer")

	mem := cache.NewMemoryClient(16)
	defer mem.Close()
	env.runner.cache = mem

	req := env.request(artifact.TableStructure)
	first, err := env.runner.Run(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Summary.CacheHit)
	assert.Equal(t, 1, eng.callCount())

	req.OutputDir = t.TempDir()
	second, err := env.runner.Run(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Summary.CacheHit)
	assert.Equal(t, 1, eng.callCount(), "a cached result must not reinvoke the engine")

	assert.FileExists(t, filepath.Join(req.OutputDir, "report_content.json"))
	assert.Equal(t, first.Summary.Pages, second.Summary.Pages)
	assert.Equal(t, first.Summary.Tables, second.Summary.Tables)
}

func TestRunner_WriteFailureDoesNotFailRun(t *testing.T) {
	doc := engineDoc(1, 0, 1)
	doc.Pictures[0].ImagePNG = []byte{0x89, 'P', 'N', 'G'}
	eng := &mockEngine{fn: func(engine.Request) (*engine.Document, error) { return doc, nil }}
	env := newRunnerEnv(t, eng, "layout", "figure_classifier")

	// A plain file blocks the images subdirectory.
	require.NoError(t, os.WriteFile(filepath.Join(env.outDir, "images"), []byte("in the way"), 0644))

	req := env.request(artifact.FigureClassification)
	req.ExportImages = true
	report, err := env.runner.Run(context.Background(), req)
	require.NoError(t, err, "artifact write failures are per-artifact, not fatal")

	sum := report.Summary
	assert.Equal(t, convert.RunStatusCompleted, sum.Status)
	require.Len(t, sum.FailedArtifacts(), 1)
	assert.Contains(t, sum.FailedArtifacts()[0].Name, "figure")
	assert.FileExists(t, filepath.Join(env.outDir, "report_content.md"))
}

func TestRunner_GPUFallbackIsNoticeNotError(t *testing.T) {
	eng := &mockEngine{fn: func(engine.Request) (*engine.Document, error) {
		return engineDoc(1, 0, 0), nil
	}}
	env := newRunnerEnv(t, eng, "layout")

	req := env.request()
	req.Pipeline.Device = pipeline.DeviceGPU
	report, err := env.runner.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "cpu", report.Summary.Device)
	var fallback bool
	for _, n := range report.Summary.Notices {
		if n.Aspect == "accelerator" && n.To == "cpu" {
			fallback = true
		}
	}
	assert.True(t, fallback)
}

func TestRunner_ChunksWrittenWhenEnabled(t *testing.T) {
	eng := &mockEngine{fn: func(engine.Request) (*engine.Document, error) {
		return engineDoc(3, 0, 0), nil
	}}
	env := newRunnerEnv(t, eng, "layout")

	req := env.request(artifact.Chunking)
	req.Pipeline.ChunkSize = 16
	req.Pipeline.ChunkOverlap = 4
	report, err := env.runner.Run(context.Background(), req)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(env.outDir, "report_chunks.json"))
	require.NoError(t, err)
	var chunks []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &chunks))
	assert.NotEmpty(t, chunks)
	assert.Contains(t, report.Summary.ExecutedCapabilities, "chunking")
}

func TestRunner_RecorderSeesLifecycle(t *testing.T) {
	eng := &mockEngine{fn: func(engine.Request) (*engine.Document, error) {
		return engineDoc(2, 0, 0), nil
	}}
	env := newRunnerEnv(t, eng, "layout")

	_, err := env.runner.Run(context.Background(), env.request())
	require.NoError(t, err)

	require.Equal(t, []convert.RunStatus{convert.RunStatusRunning}, env.rec.saves)
	require.Equal(t, []convert.RunStatus{convert.RunStatusCompleted}, env.rec.updates)
	assert.NotEmpty(t, env.rec.last.RunID)
	assert.False(t, env.rec.last.CompletedAt.IsZero())
	assert.GreaterOrEqual(t, env.rec.last.DurationSeconds, 0.0)
}

func TestRunner_EngineTimeoutFailsRun(t *testing.T) {
	eng := &mockEngine{fn: func(engine.Request) (*engine.Document, error) {
		time.Sleep(200 * time.Millisecond)
		return engineDoc(1, 0, 0), nil
	}}
	env := newRunnerEnv(t, eng, "layout")

	req := env.request()
	req.Timeout = 20 * time.Millisecond
	_, err := env.runner.Run(context.Background(), req)

	require.Error(t, err)
	assert.Equal(t, []convert.RunStatus{convert.RunStatusFailed}, env.rec.updates)
	assert.NoFileExists(t, filepath.Join(env.outDir, "report_content.json"))
}
