// Package output persists run artifacts under deterministic names.
//
// Every write is independent: one artifact failing to persist never aborts
// the remaining writes, and existing files at the same path are overwritten
// without prompting so reruns are idempotent at the filesystem level.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docanvil/docanvil/internal/observability"
)

// Names lists the deterministic artifact file names for one source document.
type Names struct {
	Structured string
	Markdown   string
	PlainText  string
	Summary    string
	Chunks     string
	TablesXLSX string
	Images     string
}

// Stem returns the source file name without directory or extension.
func Stem(sourcePath string) string {
	base := filepath.Base(sourcePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// NamesFor derives the artifact names for a source document path.
func NamesFor(sourcePath string) Names {
	stem := Stem(sourcePath)
	return Names{
		Structured: stem + "_content.json",
		Markdown:   stem + "_content.md",
		PlainText:  stem + "_text.txt",
		Summary:    stem + "_summary.json",
		Chunks:     stem + "_chunks.json",
		TablesXLSX: stem + "_tables.xlsx",
		Images:     stem + "_images.json",
	}
}

// Status reports the outcome of one artifact write.
type Status struct {
	Name  string
	Path  string
	Bytes int64
	Err   error
}

// OK reports whether the artifact was persisted.
func (s Status) OK() bool {
	return s.Err == nil
}

// Writer persists artifacts into one output directory, creating it on first
// write.
type Writer struct {
	dir    string
	logger *observability.Logger
}

func NewWriter(dir string, logger *observability.Logger) *Writer {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &Writer{dir: dir, logger: logger.WithComponent("output")}
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.dir
}

// WriteJSON marshals v with stable two-space indentation and persists it.
func (w *Writer) WriteJSON(name string, v interface{}) Status {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		st := Status{Name: name, Err: fmt.Errorf("marshal %s: %w", name, err)}
		w.logger.Error().Str("artifact", name).Err(st.Err).Msg("Artifact write failed")
		return st
	}
	return w.WriteBytes(name, append(data, '\n'))
}

// WriteText persists a text artifact.
func (w *Writer) WriteText(name, content string) Status {
	return w.WriteBytes(name, []byte(content))
}

// WriteBytes persists raw bytes under name, which may contain a relative
// subdirectory. The write overwrites any existing file at the same path.
func (w *Writer) WriteBytes(name string, data []byte) Status {
	path := filepath.Join(w.dir, name)
	st := Status{Name: name, Path: path}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		st.Err = fmt.Errorf("create output dir: %w", err)
		w.logger.Error().Str("artifact", name).Err(st.Err).Msg("Artifact write failed")
		return st
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		st.Err = fmt.Errorf("write %s: %w", name, err)
		w.logger.Error().Str("artifact", name).Err(st.Err).Msg("Artifact write failed")
		return st
	}

	st.Bytes = int64(len(data))
	w.logger.Debug().Str("artifact", name).Int64("bytes", st.Bytes).Msg("Artifact written")
	return st
}
