package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docanvil/docanvil/internal/artifact"
	"github.com/docanvil/docanvil/internal/observability"
)

func TestModelsList(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "layout"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "layout", "model.pt"), []byte("weights"), 0644))

	logger := observability.NewLogger(observability.LogConfig{Level: "error", Format: "json"})
	bundle := artifact.NewResolver(logger).Resolve(root)
	h := NewModelsHandler(logger, bundle)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/models", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body ModelListDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))

	assert.Equal(t, root, body.Root)
	assert.Contains(t, body.Available, "layout")
	assert.NotContains(t, body.Available, "ocr")

	byCapability := make(map[string]ModelEntryDTO, len(body.Models))
	for _, m := range body.Models {
		byCapability[m.Capability] = m
	}

	layout := byCapability["layout"]
	assert.True(t, layout.Available)
	assert.Equal(t, filepath.Join(root, "layout"), layout.Path)
	assert.Equal(t, 1, layout.WeightFiles)

	ocr := byCapability["ocr"]
	assert.False(t, ocr.Available)
	assert.Equal(t, filepath.Join(root, "easyocr"), ocr.ExpectedPath)
}
