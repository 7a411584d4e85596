// Package artifact locates and validates local model artifacts.
//
// Detection is a read-only filesystem probe against a single root directory:
// one subdirectory per capability, each expected to hold at least one model
// weight file. A capability whose directory or weights are absent is reported
// unavailable; nothing here ever reaches for the network.
package artifact

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/docanvil/docanvil/internal/observability"
)

// Capability names one discrete document-understanding function.
type Capability string

const (
	// Layout is the base page-layout model every conversion needs.
	Layout Capability = "layout"
	// TableStructure recovers row/column structure of detected tables.
	TableStructure Capability = "table-structure"
	// OCR recognizes text on scanned or image-only pages.
	OCR Capability = "ocr"
	// FigureClassification labels detected pictures.
	FigureClassification Capability = "figure-classification"
	// CodeFormula recognizes code listings and formulas.
	CodeFormula Capability = "code-formula"
	// Chunking splits extracted text into overlapping windows. Pure
	// software, needs no model artifact.
	Chunking Capability = "chunking"
)

// capabilityDirs maps artifact-backed capabilities to their subdirectory
// under the artifact root. The names follow the engine's model layout.
var capabilityDirs = map[Capability]string{
	Layout:               "layout",
	TableStructure:       "tableformer",
	OCR:                  "easyocr",
	FigureClassification: "figure_classifier",
	CodeFormula:          "code_formula",
}

// weightExtensions are the file extensions recognized as model weights.
var weightExtensions = map[string]bool{
	".pt":          true,
	".pth":         true,
	".bin":         true,
	".safetensors": true,
	".onnx":        true,
}

// Known returns all capabilities in stable display order.
func Known() []Capability {
	return []Capability{Layout, TableStructure, OCR, FigureClassification, CodeFormula, Chunking}
}

// RequiresArtifact reports whether a capability needs on-disk model weights.
func RequiresArtifact(c Capability) bool {
	_, ok := capabilityDirs[c]
	return ok
}

// Valid reports whether c names a known capability.
func Valid(c Capability) bool {
	for _, known := range Known() {
		if c == known {
			return true
		}
	}
	return false
}

// Entry describes one capability's resolution outcome. Size and version are
// best-effort, advisory only.
type Entry struct {
	Capability  Capability
	Path        string
	Available   bool
	WeightFiles int
	SizeBytes   int64
	Version     string
}

// Bundle is the read-only result of one artifact resolution. Resolve it once
// per process; concurrent reads are safe afterwards.
type Bundle struct {
	root    string
	entries map[Capability]Entry
}

// Root returns the artifact root directory the bundle was resolved from.
func (b *Bundle) Root() string {
	return b.root
}

// Available reports whether a capability can be enabled. Capabilities that
// need no artifact are always available.
func (b *Bundle) Available(c Capability) bool {
	if !RequiresArtifact(c) {
		return Valid(c)
	}
	return b.entries[c].Available
}

// Entry returns the resolution outcome for an artifact-backed capability.
func (b *Bundle) Entry(c Capability) (Entry, bool) {
	e, ok := b.entries[c]
	return e, ok
}

// Entries returns all artifact-backed entries in stable order.
func (b *Bundle) Entries() []Entry {
	out := make([]Entry, 0, len(b.entries))
	for _, c := range Known() {
		if e, ok := b.entries[c]; ok {
			out = append(out, e)
		}
	}
	return out
}

// AvailableCapabilities returns every capability currently usable.
func (b *Bundle) AvailableCapabilities() []Capability {
	var out []Capability
	for _, c := range Known() {
		if b.Available(c) {
			out = append(out, c)
		}
	}
	return out
}

// ExpectedPath returns where a capability's artifacts are looked for, whether
// or not they exist. Used in error messages.
func (b *Bundle) ExpectedPath(c Capability) string {
	if dir, ok := capabilityDirs[c]; ok {
		return filepath.Join(b.root, dir)
	}
	return ""
}

// Resolver probes artifact roots.
type Resolver struct {
	logger *observability.Logger
}

// NewResolver creates a Resolver.
func NewResolver(logger *observability.Logger) *Resolver {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &Resolver{logger: logger}
}

// Resolve probes root for every artifact-backed capability and returns the
// resulting bundle. A missing root is not an error: every capability comes
// back unavailable and callers decide whether that is fatal.
func (r *Resolver) Resolve(root string) *Bundle {
	b := &Bundle{
		root:    root,
		entries: make(map[Capability]Entry, len(capabilityDirs)),
	}

	for _, c := range Known() {
		dir, ok := capabilityDirs[c]
		if !ok {
			continue
		}
		entry := probeDir(c, filepath.Join(root, dir))
		b.entries[c] = entry

		r.logger.Debug().
			Str("capability", string(c)).
			Str("path", entry.Path).
			Bool("available", entry.Available).
			Int("weight_files", entry.WeightFiles).
			Msg("Artifact probe")
	}

	r.logger.Info().
		Str("root", root).
		Strs("available", capabilityNames(b.AvailableCapabilities())).
		Msg("Artifacts resolved")

	return b
}

// probeDir inspects one capability directory. Weights may sit in nested
// subdirectories, so the whole tree is walked.
func probeDir(c Capability, path string) Entry {
	entry := Entry{Capability: c, Path: path}

	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return entry
	}

	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if weightExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			entry.WeightFiles++
			if fi, err := d.Info(); err == nil {
				entry.SizeBytes += fi.Size()
			}
		}
		return nil
	})

	entry.Available = entry.WeightFiles > 0
	entry.Version = readVersion(path)
	return entry
}

// readVersion reads an advisory version marker if the capability ships one.
func readVersion(path string) string {
	data, err := os.ReadFile(filepath.Join(path, "version.txt"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// capabilityNames converts capabilities to strings for logging.
func capabilityNames(caps []Capability) []string {
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = string(c)
	}
	sort.Strings(out)
	return out
}

// ParseCapability converts a user-supplied name to a Capability.
func ParseCapability(s string) (Capability, bool) {
	c := Capability(strings.ToLower(strings.TrimSpace(s)))
	if Valid(c) {
		return c, true
	}
	// Accept a few common aliases from flags and API payloads.
	switch c {
	case "tables", "table", "tableformer":
		return TableStructure, true
	case "figures", "figure", "picture-classification":
		return FigureClassification, true
	case "easyocr":
		return OCR, true
	case "chunk", "chunks":
		return Chunking, true
	case "formula", "code":
		return CodeFormula, true
	}
	return "", false
}
