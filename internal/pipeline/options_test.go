package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docanvil/docanvil/internal/artifact"
)

// resolveBundle builds a bundle with the given artifact-backed capabilities
// present on disk.
func resolveBundle(t *testing.T, caps ...artifact.Capability) *artifact.Bundle {
	t.Helper()
	root := t.TempDir()
	dirs := map[artifact.Capability]string{
		artifact.Layout:               "layout",
		artifact.TableStructure:       "tableformer",
		artifact.OCR:                  "easyocr",
		artifact.FigureClassification: "figure_classifier",
		artifact.CodeFormula:          "code_formula",
	}
	for _, c := range caps {
		dir := filepath.Join(root, dirs[c])
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "model.safetensors"), []byte{1}, 0o644))
	}
	return artifact.NewResolver(nil).Resolve(root)
}

func TestBuild_RequestedCapabilityMissing(t *testing.T) {
	bundle := resolveBundle(t, artifact.Layout) // no tableformer on disk
	b := NewBuilder(StaticProbe(false), nil)

	_, err := b.Build(Request{
		Capabilities: []artifact.Capability{artifact.TableStructure},
	}, bundle)

	var capErr *CapabilityUnavailableError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, artifact.TableStructure, capErr.Capability)
	assert.Contains(t, capErr.Path, "tableformer")
	assert.Contains(t, capErr.Error(), "table-structure")
}

func TestBuild_LayoutImplicitlyRequired(t *testing.T) {
	bundle := resolveBundle(t, artifact.TableStructure) // layout weights absent

	_, err := NewBuilder(StaticProbe(false), nil).Build(Request{}, bundle)

	var capErr *CapabilityUnavailableError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, artifact.Layout, capErr.Capability)
}

func TestBuild_NoSilentDowngrade(t *testing.T) {
	bundle := resolveBundle(t, artifact.Layout)

	cfg, err := NewBuilder(StaticProbe(false), nil).Build(Request{
		Capabilities: []artifact.Capability{artifact.OCR},
	}, bundle)

	assert.Error(t, err)
	assert.Nil(t, cfg, "a missing capability must fail the build, not drop the capability")
}

func TestBuild_GPUFallbackIsNoticeNotError(t *testing.T) {
	bundle := resolveBundle(t, artifact.Layout)

	cfg, err := NewBuilder(StaticProbe(false), nil).Build(Request{
		Device: DeviceGPU,
	}, bundle)

	require.NoError(t, err)
	assert.Equal(t, DeviceCPU, cfg.Device)
	require.Len(t, cfg.Notices, 1)
	assert.Equal(t, "accelerator", cfg.Notices[0].Aspect)
	assert.Equal(t, "gpu", cfg.Notices[0].From)
	assert.Equal(t, "cpu", cfg.Notices[0].To)
}

func TestBuild_GPUSelectedWhenDetected(t *testing.T) {
	bundle := resolveBundle(t, artifact.Layout)

	cfg, err := NewBuilder(StaticProbe(true), nil).Build(Request{Device: DeviceAuto}, bundle)

	require.NoError(t, err)
	assert.Equal(t, DeviceGPU, cfg.Device)
	assert.Empty(t, cfg.Notices)
}

func TestBuild_CPUForcedSkipsProbe(t *testing.T) {
	bundle := resolveBundle(t, artifact.Layout)

	cfg, err := NewBuilder(StaticProbe(true), nil).Build(Request{Device: DeviceCPU}, bundle)

	require.NoError(t, err)
	assert.Equal(t, DeviceCPU, cfg.Device)
	assert.Empty(t, cfg.Notices)
}

func TestBuild_Defaults(t *testing.T) {
	bundle := resolveBundle(t, artifact.Layout)

	cfg, err := NewBuilder(StaticProbe(false), nil).Build(Request{}, bundle)

	require.NoError(t, err)
	assert.True(t, cfg.Offline, "offline enforcement is always on")
	assert.Equal(t, []string{"en"}, cfg.OCRLanguages)
	assert.Equal(t, 8, cfg.Threads)
	assert.Equal(t, 512, cfg.ChunkSize)
	assert.Equal(t, 64, cfg.ChunkOverlap)
	assert.Contains(t, cfg.ArtifactPaths, artifact.Layout)
}

func TestBuild_ChunkingNeedsNoArtifact(t *testing.T) {
	bundle := resolveBundle(t, artifact.Layout)

	cfg, err := NewBuilder(StaticProbe(false), nil).Build(Request{
		Capabilities: []artifact.Capability{artifact.Chunking},
	}, bundle)

	require.NoError(t, err)
	assert.True(t, cfg.Enabled(artifact.Chunking))
	_, hasPath := cfg.ArtifactPaths[artifact.Chunking]
	assert.False(t, hasPath)
}

func TestBuild_UnknownCapability(t *testing.T) {
	bundle := resolveBundle(t, artifact.Layout)

	_, err := NewBuilder(StaticProbe(false), nil).Build(Request{
		Capabilities: []artifact.Capability{"telepathy"},
	}, bundle)

	assert.Error(t, err)
	var capErr *CapabilityUnavailableError
	assert.False(t, errors.As(err, &capErr), "unknown names are rejected as invalid, not unavailable")
}

func TestConfig_WithoutOCR(t *testing.T) {
	bundle := resolveBundle(t, artifact.Layout, artifact.OCR, artifact.TableStructure)

	cfg, err := NewBuilder(StaticProbe(false), nil).Build(Request{
		Capabilities: []artifact.Capability{artifact.OCR, artifact.TableStructure},
	}, bundle)
	require.NoError(t, err)

	downgraded := cfg.WithoutOCR()

	assert.True(t, cfg.Enabled(artifact.OCR), "original config untouched")
	assert.False(t, downgraded.Enabled(artifact.OCR))
	assert.True(t, downgraded.Enabled(artifact.TableStructure))
	_, hasOCRPath := downgraded.ArtifactPaths[artifact.OCR]
	assert.False(t, hasOCRPath)
	require.NotEmpty(t, downgraded.Notices)
	assert.Equal(t, string(artifact.OCR), downgraded.Notices[len(downgraded.Notices)-1].Aspect)
}

func TestConfig_FingerprintStableAndSensitive(t *testing.T) {
	bundle := resolveBundle(t, artifact.Layout, artifact.TableStructure)
	b := NewBuilder(StaticProbe(false), nil)

	cfg1, err := b.Build(Request{Capabilities: []artifact.Capability{artifact.TableStructure}}, bundle)
	require.NoError(t, err)
	cfg2, err := b.Build(Request{Capabilities: []artifact.Capability{artifact.TableStructure}}, bundle)
	require.NoError(t, err)
	cfg3, err := b.Build(Request{}, bundle)
	require.NoError(t, err)

	assert.Equal(t, cfg1.Fingerprint(), cfg2.Fingerprint())
	assert.NotEqual(t, cfg1.Fingerprint(), cfg3.Fingerprint())
}

func TestParseDevice(t *testing.T) {
	d, err := ParseDevice("GPU")
	require.NoError(t, err)
	assert.Equal(t, DeviceGPU, d)

	d, err = ParseDevice("cuda")
	require.NoError(t, err)
	assert.Equal(t, DeviceGPU, d)

	d, err = ParseDevice("")
	require.NoError(t, err)
	assert.Equal(t, DeviceAuto, d)

	_, err = ParseDevice("quantum")
	assert.Error(t, err)
}
