package convert

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreflight_MissingFile(t *testing.T) {
	_, err := Preflight(filepath.Join(t.TempDir(), "absent.pdf"))

	var srcErr *SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.True(t, srcErr.IsNotFound())
	assert.Contains(t, err.Error(), "source not found")
}

func TestPreflight_DirectoryIsUnreadable(t *testing.T) {
	_, err := Preflight(t.TempDir())

	var srcErr *SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.False(t, srcErr.IsNotFound())
	assert.Equal(t, SourceUnreadable, srcErr.Reason)
}

func TestPreflight_RejectsNonPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.pdf")
	require.NoError(t, os.WriteFile(path, []byte("just some text, wrong format"), 0644))

	_, err := Preflight(path)

	var srcErr *SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, SourceUnreadable, srcErr.Reason)
}

func TestPreflight_ValidDocument(t *testing.T) {
	content := []byte("%PDF-1.4\nminimal fixture\n%%EOF\n")
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, content, 0644))

	info, err := Preflight(path)
	require.NoError(t, err)

	assert.Equal(t, path, info.Path)
	assert.Equal(t, int64(len(content)), info.SizeBytes)
	want := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(want[:]), info.SHA256)
	// Not a parseable PDF body, so the page hint stays at zero.
	assert.Zero(t, info.PageHint)
}

func TestPreflight_HeaderAfterJunkAccepted(t *testing.T) {
	content := append([]byte("\xef\xbb\xbfsome generator junk\n"), []byte("%PDF-1.5\nbody\n%%EOF\n")...)
	path := filepath.Join(t.TempDir(), "junk.pdf")
	require.NoError(t, os.WriteFile(path, content, 0644))

	info, err := Preflight(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), info.SizeBytes)
}
