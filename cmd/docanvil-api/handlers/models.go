package handlers

import (
	"net/http"

	"github.com/docanvil/docanvil/internal/artifact"
	"github.com/docanvil/docanvil/internal/observability"
)

// ModelsHandler reports which model artifacts are installed. The bundle is
// resolved once at startup; installing models requires a restart.
type ModelsHandler struct {
	logger *observability.Logger
	bundle *artifact.Bundle
}

// NewModelsHandler creates a models handler.
func NewModelsHandler(logger *observability.Logger, bundle *artifact.Bundle) *ModelsHandler {
	return &ModelsHandler{
		logger: logger.WithComponent("models"),
		bundle: bundle,
	}
}

// ModelEntryDTO describes one capability's artifact state.
type ModelEntryDTO struct {
	Capability   string `json:"capability"`
	Available    bool   `json:"available"`
	Path         string `json:"path,omitempty"`
	ExpectedPath string `json:"expected_path,omitempty"`
	WeightFiles  int    `json:"weight_files,omitempty"`
	SizeBytes    int64  `json:"size_bytes,omitempty"`
	Version      string `json:"version,omitempty"`
}

// ModelListDTO is the response for GET /api/v1/models.
type ModelListDTO struct {
	Root      string          `json:"root"`
	Models    []ModelEntryDTO `json:"models"`
	Available []string        `json:"available_capabilities"`
}

// List handles GET /api/v1/models.
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	entries := h.bundle.Entries()

	models := make([]ModelEntryDTO, 0, len(entries))
	for _, e := range entries {
		dto := ModelEntryDTO{
			Capability:  string(e.Capability),
			Available:   e.Available,
			WeightFiles: e.WeightFiles,
			SizeBytes:   e.SizeBytes,
			Version:     e.Version,
		}
		if e.Available {
			dto.Path = e.Path
		} else {
			dto.ExpectedPath = h.bundle.ExpectedPath(e.Capability)
		}
		models = append(models, dto)
	}

	available := h.bundle.AvailableCapabilities()
	names := make([]string, 0, len(available))
	for _, c := range available {
		names = append(names, string(c))
	}

	writeJSON(w, http.StatusOK, ModelListDTO{
		Root:      h.bundle.Root(),
		Models:    models,
		Available: names,
	})
}
