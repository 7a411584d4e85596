package convert

import (
	"time"

	"github.com/docanvil/docanvil/internal/pipeline"
)

// RunStatus represents the lifecycle state of a conversion run.
type RunStatus string

const (
	RunStatusRunning           RunStatus = "running"
	RunStatusCompleted         RunStatus = "completed"
	RunStatusCompletedDegraded RunStatus = "completed_degraded"
	RunStatusFailed            RunStatus = "failed"
)

// ArtifactStatus reports one output artifact write in the final summary.
type ArtifactStatus struct {
	Name  string `json:"name"`
	Path  string `json:"path,omitempty"`
	Bytes int64  `json:"bytes,omitempty"`
	Error string `json:"error,omitempty"`
}

// Summary is the machine-readable record of one conversion run. It is
// assembled while the run executes and immutable once the run completes.
//
// RequestedCapabilities is what the caller asked for; ExecutedCapabilities
// is what the final pipeline ran with, which differs when the bounded
// OCR-disable retry fired. Page-level capability losses stay visible in
// Degradations, so "fully succeeded" and "succeeded with N degraded pages"
// are distinguishable from the summary alone.
type Summary struct {
	RunID                 string            `json:"run_id"`
	Source                string            `json:"source"`
	SourceSHA256          string            `json:"source_sha256,omitempty"`
	Status                RunStatus         `json:"status"`
	Pages                 int               `json:"pages"`
	Tables                int               `json:"tables"`
	Figures               int               `json:"figures"`
	Characters            int               `json:"characters"`
	StartedAt             time.Time         `json:"started_at"`
	CompletedAt           time.Time         `json:"completed_at,omitempty"`
	DurationSeconds       float64           `json:"duration_seconds"`
	EngineSeconds         float64           `json:"engine_seconds,omitempty"`
	EngineName            string            `json:"engine,omitempty"`
	Device                string            `json:"device,omitempty"`
	RequestedCapabilities []string          `json:"requested_capabilities"`
	ExecutedCapabilities  []string          `json:"executed_capabilities"`
	Notices               []pipeline.Notice `json:"notices,omitempty"`
	DegradedPages         []int             `json:"degraded_pages,omitempty"`
	Degradations          []Degradation     `json:"degradations,omitempty"`
	CacheHit              bool              `json:"cache_hit,omitempty"`
	OutputDir             string            `json:"output_dir,omitempty"`
	Artifacts             []ArtifactStatus  `json:"artifacts,omitempty"`
	Error                 string            `json:"error,omitempty"`
}

// NewSummary starts the summary of a new run.
func NewSummary(runID, source string) *Summary {
	return &Summary{
		RunID:     runID,
		Source:    source,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
}

// Complete stamps the final status and wall-clock duration.
func (s *Summary) Complete(status RunStatus) {
	s.CompletedAt = time.Now().UTC()
	s.DurationSeconds = s.CompletedAt.Sub(s.StartedAt).Seconds()
	s.Status = status
}

// Degraded reports whether any page or capability degraded during the run.
func (s *Summary) Degraded() bool {
	return len(s.Degradations) > 0
}

// FailedArtifacts returns the artifact writes that did not persist.
func (s *Summary) FailedArtifacts() []ArtifactStatus {
	var failed []ArtifactStatus
	for _, a := range s.Artifacts {
		if a.Error != "" {
			failed = append(failed, a)
		}
	}
	return failed
}

// Duration returns the wall-clock duration as a time.Duration.
func (s *Summary) Duration() time.Duration {
	return time.Duration(s.DurationSeconds * float64(time.Second))
}
