// Package pipeline assembles per-run conversion configurations from resolved
// artifacts and caller options.
//
// A Config is built once per conversion request and treated as read-only
// afterwards. Requesting a capability whose artifacts are missing is a hard
// configuration error; accelerator preference is advisory and downgrades to
// CPU with a recorded notice instead of failing.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/docanvil/docanvil/internal/artifact"
	"github.com/docanvil/docanvil/internal/observability"
)

// Request carries caller-supplied options for one conversion run.
type Request struct {
	Capabilities []artifact.Capability
	Device       Device
	OCRLanguages []string
	Threads      int
	ChunkSize    int
	ChunkOverlap int
}

// Notice records one advisory downgrade applied while building a Config.
type Notice struct {
	Aspect string `json:"aspect"` // "accelerator" or a capability name
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// CapabilityUnavailableError reports a requested capability whose model
// artifacts are missing. Raised before any engine work begins.
type CapabilityUnavailableError struct {
	Capability artifact.Capability
	Path       string
}

// Error implements error.
func (e *CapabilityUnavailableError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("capability %q unavailable", e.Capability)
	}
	return fmt.Sprintf("capability %q unavailable: no model artifacts at %s", e.Capability, e.Path)
}

// Config is a fully-resolved pipeline configuration for one run. Read-only
// after Build; copy it rather than mutating.
type Config struct {
	Capabilities  []artifact.Capability
	Device        Device // resolved, gpu or cpu
	OCRLanguages  []string
	Threads       int
	ChunkSize     int
	ChunkOverlap  int
	Offline       bool // always true, remote services are categorically disallowed
	ArtifactRoot  string
	ArtifactPaths map[artifact.Capability]string
	Notices       []Notice
}

// Enabled reports whether a capability is enabled in this config.
func (c *Config) Enabled(cap artifact.Capability) bool {
	for _, e := range c.Capabilities {
		if e == cap {
			return true
		}
	}
	return false
}

// WithoutOCR returns a copy of the config with the OCR capability removed.
// Used by the bounded engine-failure fallback.
func (c *Config) WithoutOCR() *Config {
	clone := *c
	clone.Capabilities = nil
	for _, cap := range c.Capabilities {
		if cap != artifact.OCR {
			clone.Capabilities = append(clone.Capabilities, cap)
		}
	}
	clone.ArtifactPaths = make(map[artifact.Capability]string, len(c.ArtifactPaths))
	for k, v := range c.ArtifactPaths {
		if k != artifact.OCR {
			clone.ArtifactPaths[k] = v
		}
	}
	clone.Notices = append(append([]Notice{}, c.Notices...), Notice{
		Aspect: string(artifact.OCR),
		From:   "enabled",
		To:     "disabled",
		Reason: "engine failure retry with ocr disabled",
	})
	return &clone
}

// Fingerprint returns a stable digest of everything in the config that can
// influence conversion output. Used as part of result cache keys.
func (c *Config) Fingerprint() string {
	caps := make([]string, len(c.Capabilities))
	for i, cap := range c.Capabilities {
		caps[i] = string(cap)
	}
	sort.Strings(caps)

	var sb strings.Builder
	sb.WriteString("caps=" + strings.Join(caps, ","))
	sb.WriteString(";langs=" + strings.Join(c.OCRLanguages, ","))
	sb.WriteString(fmt.Sprintf(";chunk=%d/%d", c.ChunkSize, c.ChunkOverlap))
	sb.WriteString(";root=" + c.ArtifactRoot)

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:8])
}

// Builder turns Requests into Configs against a resolved artifact bundle.
type Builder struct {
	probe  Probe
	logger *observability.Logger
}

// NewBuilder creates a Builder. A nil probe falls back to SystemProbe.
func NewBuilder(probe Probe, logger *observability.Logger) *Builder {
	if probe == nil {
		probe = SystemProbe{}
	}
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &Builder{probe: probe, logger: logger}
}

// Build validates the request against the bundle and resolves a Config.
//
// Every requested capability must be available; a missing one fails the
// build with CapabilityUnavailableError rather than silently dropping it.
// Layout is an implicit requirement of every run. GPU preference downgrades
// to CPU with a notice when no accelerator is detected.
func (b *Builder) Build(req Request, bundle *artifact.Bundle) (*Config, error) {
	caps := dedupe(req.Capabilities)
	for _, c := range caps {
		if !artifact.Valid(c) {
			return nil, fmt.Errorf("unknown capability %q", c)
		}
	}

	// Layout underpins every conversion whether or not the caller names it.
	if !bundle.Available(artifact.Layout) {
		return nil, &CapabilityUnavailableError{
			Capability: artifact.Layout,
			Path:       bundle.ExpectedPath(artifact.Layout),
		}
	}

	for _, c := range caps {
		if !bundle.Available(c) {
			return nil, &CapabilityUnavailableError{
				Capability: c,
				Path:       bundle.ExpectedPath(c),
			}
		}
	}

	cfg := &Config{
		Capabilities: caps,
		OCRLanguages: req.OCRLanguages,
		Threads:      req.Threads,
		ChunkSize:    req.ChunkSize,
		ChunkOverlap: req.ChunkOverlap,
		Offline:      true,
		ArtifactRoot: bundle.Root(),
	}
	if len(cfg.OCRLanguages) == 0 {
		cfg.OCRLanguages = []string{"en"}
	}
	if cfg.Threads <= 0 {
		cfg.Threads = 8
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 512
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 8
	}

	cfg.ArtifactPaths = map[artifact.Capability]string{
		artifact.Layout: bundle.ExpectedPath(artifact.Layout),
	}
	for _, c := range caps {
		if artifact.RequiresArtifact(c) {
			cfg.ArtifactPaths[c] = bundle.ExpectedPath(c)
		}
	}

	cfg.Device = b.resolveDevice(req.Device, cfg)

	b.logger.Debug().
		Strs("capabilities", capabilityStrings(cfg.Capabilities)).
		Str("device", string(cfg.Device)).
		Strs("languages", cfg.OCRLanguages).
		Msg("Pipeline config built")

	return cfg, nil
}

// resolveDevice turns the advisory preference into a concrete device,
// recording a fallback notice when GPU was preferred but absent.
func (b *Builder) resolveDevice(pref Device, cfg *Config) Device {
	if pref == "" {
		pref = DeviceAuto
	}
	if pref == DeviceCPU {
		return DeviceCPU
	}

	if b.probe.GPUAvailable() {
		return DeviceGPU
	}

	cfg.Notices = append(cfg.Notices, Notice{
		Aspect: "accelerator",
		From:   string(pref),
		To:     string(DeviceCPU),
		Reason: "no gpu detected",
	})
	b.logger.Warn().
		Str("requested", string(pref)).
		Msg("GPU not detected, falling back to CPU")
	return DeviceCPU
}

func dedupe(caps []artifact.Capability) []artifact.Capability {
	seen := make(map[artifact.Capability]bool, len(caps))
	var out []artifact.Capability
	for _, c := range caps {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

func capabilityStrings(caps []artifact.Capability) []string {
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = string(c)
	}
	return out
}
