package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docanvil/docanvil/internal/artifact"
	"github.com/docanvil/docanvil/internal/config"
	"github.com/docanvil/docanvil/internal/convert"
	"github.com/docanvil/docanvil/internal/engine"
	"github.com/docanvil/docanvil/internal/observability"
	"github.com/docanvil/docanvil/internal/orchestrator"
	"github.com/docanvil/docanvil/internal/pipeline"
	"github.com/docanvil/docanvil/internal/runstore"
)

type stubEngine struct{}

func (s *stubEngine) Name() string { return "stub-engine" }

func (s *stubEngine) Convert(_ context.Context, req engine.Request) (*engine.Document, error) {
	return &engine.Document{
		Schema: "docanvil/v1",
		Status: engine.StatusSuccess,
		Name:   filepath.Base(req.SourcePath),
		Pages: []engine.Page{
			{PageNo: 1, Text: "First page body."},
			{PageNo: 2, Text: "Second page body."},
		},
		Tables: []engine.Table{
			{PageNo: 1, NumRows: 1, NumCols: 2, Cells: [][]string{{"k", "v"}}},
		},
		Timings: engine.Timings{PipelineSeconds: 0.2},
	}, nil
}

type testAPI struct {
	server *httptest.Server
	store  *runstore.Store
	outDir string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	// One connection keeps the in-memory database shared between the
	// request goroutines and the async run goroutine.
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := runstore.New(db, "sqlite")
	require.NoError(t, store.Migrate(context.Background()))

	root := t.TempDir()
	for _, dir := range []string{"layout", "tableformer"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(root, dir, "model.safetensors"), []byte("weights"), 0644))
	}

	cfg := config.DefaultConfig()
	cfg.Artifacts.Dir = root
	cfg.Output.Dir = t.TempDir()
	cfg.Output.FigureImages = false

	logger := observability.NewLogger(observability.LogConfig{Level: "error", Format: "json"})

	bundle := artifact.NewResolver(logger).Resolve(root)
	runner := orchestrator.NewRunner(orchestrator.RunnerConfig{
		Bundle:   bundle,
		Builder:  pipeline.NewBuilder(pipeline.StaticProbe(false), logger),
		Adapter:  convert.NewAdapter(&stubEngine{}, logger),
		Recorder: store,
		Logger:   logger,
	})

	h := NewConversionHandler(logger, runner, store, cfg, t.TempDir(), 2)

	r := chi.NewRouter()
	r.Route("/api/v1/conversions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{runID}", h.Get)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testAPI{server: srv, store: store, outDir: cfg.Output.Dir}
}

func (a *testAPI) url(path string) string {
	return a.server.URL + "/api/v1/conversions" + path
}

func writeSourcePDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\nfixture body\n%%EOF\n"), 0644))
	return path
}

func (a *testAPI) getRun(t *testing.T, id string) (*convert.Summary, int) {
	t.Helper()
	resp, err := http.Get(a.url("/" + id))
	require.NoError(t, err)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode
	}
	var sum convert.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sum))
	return &sum, resp.StatusCode
}

func TestCreate_RequiresSourcePath(t *testing.T) {
	api := newTestAPI(t)

	resp, err := http.Post(api.url("/"), "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "invalid conversion request", body["error"])
	assert.Contains(t, body["detail"], "source_path")
}

func TestGet_UnknownRunIs404(t *testing.T) {
	api := newTestAPI(t)

	_, status := api.getRun(t, uuid.New().String())
	assert.Equal(t, http.StatusNotFound, status)
}

func TestGet_MalformedRunIDIs400(t *testing.T) {
	api := newTestAPI(t)

	_, status := api.getRun(t, "no-such-run")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCreate_UnavailableCapabilityIs422(t *testing.T) {
	api := newTestAPI(t)

	// The fixture installs layout and tableformer weights only, so OCR is
	// a capability the server cannot honor.
	payload := `{"source_path": "/data/report.pdf", "options": {"ocr": true}}`
	resp, err := http.Post(api.url("/"), "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "capability unavailable", body["error"])
	assert.Contains(t, body["detail"], "ocr")
}

func TestCreate_RunsAsynchronously(t *testing.T) {
	api := newTestAPI(t)
	source := writeSourcePDF(t)

	payload := fmt.Sprintf(`{"source_path": %q}`, source)
	resp, err := http.Post(api.url("/"), "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted ConversionAcceptedDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	require.NotEmpty(t, accepted.ID)
	assert.Equal(t, "running", accepted.Status)
	assert.Equal(t, source, accepted.Source)

	// The pre-registered run is visible before completion.
	sum, status := api.getRun(t, accepted.ID)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, sum)

	require.Eventually(t, func() bool {
		sum, status = api.getRun(t, accepted.ID)
		return status == http.StatusOK && sum.Status == convert.RunStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 2, sum.Pages)
	assert.Equal(t, 1, sum.Tables)
	assert.Equal(t, "stub-engine", sum.EngineName)
	assert.NotEmpty(t, sum.Artifacts)

	// Each run writes into its own subdirectory.
	assert.Equal(t, filepath.Join(api.outDir, accepted.ID), sum.OutputDir)
	_, err = os.Stat(filepath.Join(sum.OutputDir, "report_content.json"))
	assert.NoError(t, err)
}

func TestCreate_AcceptsMultipartUpload(t *testing.T) {
	api := newTestAPI(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "scan.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4\nuploaded body\n%%EOF\n"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("options", `{"table_structure": false}`))
	require.NoError(t, mw.Close())

	resp, err := http.Post(api.url("/"), mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted ConversionAcceptedDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	assert.Equal(t, "scan.pdf", filepath.Base(accepted.Source))

	var sum *convert.Summary
	require.Eventually(t, func() bool {
		var status int
		sum, status = api.getRun(t, accepted.ID)
		return status == http.StatusOK && sum.Status == convert.RunStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 2, sum.Pages)
}

func TestCreate_RejectsMalformedOptions(t *testing.T) {
	api := newTestAPI(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "scan.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4\n%%EOF\n"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("options", `{"ocr": "yes"}`))
	require.NoError(t, mw.Close())

	resp, err := http.Post(api.url("/"), mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestList_ReturnsNewestFirst(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()

	older := convert.NewSummary("run-older", "/data/a.pdf")
	older.StartedAt = time.Now().UTC().Add(-time.Hour)
	older.Complete(convert.RunStatusCompleted)
	require.NoError(t, api.store.SaveRun(ctx, older))

	newer := convert.NewSummary("run-newer", "/data/b.pdf")
	newer.Complete(convert.RunStatusCompleted)
	require.NoError(t, api.store.SaveRun(ctx, newer))

	resp, err := http.Get(api.url("/"))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Runs   []*convert.Summary `json:"runs"`
		Limit  int                `json:"limit"`
		Offset int                `json:"offset"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Runs, 2)
	assert.Equal(t, "run-newer", body.Runs[0].RunID)
	assert.Equal(t, "run-older", body.Runs[1].RunID)
	assert.Equal(t, 20, body.Limit)
}
