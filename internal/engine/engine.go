// Package engine defines the boundary to the external document-conversion
// engine.
//
// The engine is a black box invoked once per conversion: docanvil writes a
// JSON request file, runs the engine command with the request and result
// paths as arguments, and reads the native result document back from the
// result file. The engine's environment is forced offline; model weights
// must already be on disk. Nothing in this package interprets the native
// result beyond decoding it; normalization into docanvil's own result
// model happens at the adapter boundary in internal/convert.
package engine

import (
	"context"

	"github.com/docanvil/docanvil/internal/artifact"
	"github.com/docanvil/docanvil/internal/pipeline"
)

// Request is the engine invocation payload for one source document.
type Request struct {
	SourcePath    string            `json:"source_path"`
	ArtifactsPath string            `json:"artifacts_path"`
	Capabilities  []string          `json:"capabilities"`
	Device        string            `json:"device"`
	OCRLanguages  []string          `json:"ocr_languages"`
	Threads       int               `json:"threads"`
	Offline       bool              `json:"offline"`
	ArtifactPaths map[string]string `json:"artifact_paths,omitempty"`
	ExportImages  bool              `json:"export_images"`
}

// NewRequest builds an engine request from a resolved pipeline config.
func NewRequest(sourcePath string, cfg *pipeline.Config, exportImages bool) Request {
	req := Request{
		SourcePath:    sourcePath,
		ArtifactsPath: cfg.ArtifactRoot,
		Device:        string(cfg.Device),
		OCRLanguages:  cfg.OCRLanguages,
		Threads:       cfg.Threads,
		Offline:       cfg.Offline,
		ExportImages:  exportImages,
	}
	for _, c := range cfg.Capabilities {
		req.Capabilities = append(req.Capabilities, string(c))
	}
	if len(cfg.ArtifactPaths) > 0 {
		req.ArtifactPaths = make(map[string]string, len(cfg.ArtifactPaths))
		for c, p := range cfg.ArtifactPaths {
			req.ArtifactPaths[string(c)] = p
		}
	}
	return req
}

// Enabled reports whether the request carries a capability.
func (r Request) Enabled(c artifact.Capability) bool {
	for _, name := range r.Capabilities {
		if name == string(c) {
			return true
		}
	}
	return false
}

// Engine converts one source document per call. Implementations must invoke
// the underlying converter exactly once per Convert call and must not retry
// internally.
type Engine interface {
	// Name identifies the engine for logs and summaries.
	Name() string
	// Convert runs the engine against the request. The call blocks until
	// the engine finishes or ctx expires; there is no mid-run cancellation
	// beyond killing the engine process.
	Convert(ctx context.Context, req Request) (*Document, error)
}
