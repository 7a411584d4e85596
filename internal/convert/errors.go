package convert

import "fmt"

// Source error reasons.
const (
	// SourceNotFound means the source path does not exist.
	SourceNotFound = "not_found"
	// SourceUnreadable means the path exists but cannot be used: unreadable
	// bytes, a directory, or not a PDF at all.
	SourceUnreadable = "unreadable"
)

// SourceError reports an invalid source document, raised before any engine
// invocation.
type SourceError struct {
	Path   string
	Reason string
	Err    error
}

// Error implements error.
func (e *SourceError) Error() string {
	switch e.Reason {
	case SourceNotFound:
		return fmt.Sprintf("source not found: %s", e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("source unreadable: %s: %v", e.Path, e.Err)
		}
		return fmt.Sprintf("source unreadable: %s", e.Path)
	}
}

// Unwrap returns the underlying cause.
func (e *SourceError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether the source was missing entirely.
func (e *SourceError) IsNotFound() bool {
	return e.Reason == SourceNotFound
}

// EngineError reports an unrecoverable whole-document engine failure. No
// partial output exists for the run.
type EngineError struct {
	Engine string
	Err    error
}

// Error implements error.
func (e *EngineError) Error() string {
	return fmt.Sprintf("conversion engine %s failed: %v", e.Engine, e.Err)
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Err
}
