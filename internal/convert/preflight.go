package convert

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/ledongthuc/pdf"
)

// SourceInfo describes a validated source document. PageHint is advisory:
// zero means the page count could not be determined up front, which is not
// an error (the engine has its own parser).
type SourceInfo struct {
	Path      string
	SizeBytes int64
	SHA256    string
	PageHint  int
}

// pdfMagic must appear near the start of the file. Some generators prepend
// junk before the header, so the probe scans the first kilobyte.
var pdfMagic = []byte("%PDF-")

// Preflight validates a source document before any engine work: the path
// must exist, be a readable regular file, and look like a PDF. The content
// digest feeds result caching; the page count is a best-effort hint from the
// embedded cross-reference table.
func Preflight(path string) (*SourceInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &SourceError{Path: path, Reason: SourceNotFound, Err: err}
		}
		return nil, &SourceError{Path: path, Reason: SourceUnreadable, Err: err}
	}
	if fi.IsDir() {
		return nil, &SourceError{Path: path, Reason: SourceUnreadable}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &SourceError{Path: path, Reason: SourceUnreadable, Err: err}
	}
	defer f.Close()

	head := make([]byte, 1024)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return nil, &SourceError{Path: path, Reason: SourceUnreadable, Err: err}
	}
	if !bytes.Contains(head[:n], pdfMagic) {
		return nil, &SourceError{Path: path, Reason: SourceUnreadable}
	}

	hasher := sha256.New()
	hasher.Write(head[:n])
	if _, err := io.Copy(hasher, f); err != nil {
		return nil, &SourceError{Path: path, Reason: SourceUnreadable, Err: err}
	}

	info := &SourceInfo{
		Path:      path,
		SizeBytes: fi.Size(),
		SHA256:    hex.EncodeToString(hasher.Sum(nil)),
	}
	info.PageHint = countPages(path)
	return info, nil
}

// countPages reads the page count from the PDF structure. Parse failures
// yield zero; an odd cross-reference table is the engine's problem, not a
// reason to refuse the document.
func countPages(path string) (pages int) {
	defer func() {
		if recover() != nil {
			pages = 0
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	return r.NumPage()
}
