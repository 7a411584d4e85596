package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/docanvil/docanvil/internal/observability"
)

// Subprocess runs the conversion engine as an external command:
//
//	<command> --request <request.json> --result <result.json>
//
// stdout/stderr are captured for error context only; the result document
// travels through the result file, which keeps large payloads off the pipe.
type Subprocess struct {
	command string
	workDir string
	logger  *observability.Logger
}

// NewSubprocess creates a subprocess engine. workDir holds the request and
// result temp files; empty means the system temp dir.
func NewSubprocess(command, workDir string, logger *observability.Logger) *Subprocess {
	if workDir == "" {
		workDir = os.TempDir()
	}
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &Subprocess{command: command, workDir: workDir, logger: logger}
}

// Name implements Engine.
func (s *Subprocess) Name() string {
	return filepath.Base(s.command)
}

// Convert implements Engine. The engine process inherits the parent
// environment with offline enforcement variables forced on top, so that a
// misconfigured engine cannot quietly fetch models over the network.
func (s *Subprocess) Convert(ctx context.Context, req Request) (*Document, error) {
	reqFile, err := os.CreateTemp(s.workDir, "docanvil-req-*.json")
	if err != nil {
		return nil, fmt.Errorf("create request file: %w", err)
	}
	reqPath := reqFile.Name()
	defer os.Remove(reqPath)

	enc := json.NewEncoder(reqFile)
	if err := enc.Encode(req); err != nil {
		reqFile.Close()
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if err := reqFile.Close(); err != nil {
		return nil, fmt.Errorf("close request file: %w", err)
	}

	resFile, err := os.CreateTemp(s.workDir, "docanvil-doc-*.json")
	if err != nil {
		return nil, fmt.Errorf("create result file: %w", err)
	}
	resPath := resFile.Name()
	resFile.Close()
	defer os.Remove(resPath)

	cmd := exec.CommandContext(ctx, s.command,
		"--request", reqPath,
		"--result", resPath,
	)
	cmd.Env = append(os.Environ(),
		"HF_HUB_OFFLINE=1",
		"TRANSFORMERS_OFFLINE=1",
		"DOCLING_ARTIFACTS_PATH="+req.ArtifactsPath,
	)

	s.logger.Debug().
		Str("command", s.command).
		Str("source", req.SourcePath).
		Strs("capabilities", req.Capabilities).
		Str("device", req.Device).
		Msg("Invoking conversion engine")

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("engine %s: %w", s.Name(), ctx.Err())
		}
		return nil, fmt.Errorf("engine %s failed: %w, output: %s", s.Name(), err, string(output))
	}

	data, err := os.ReadFile(resPath)
	if err != nil {
		return nil, fmt.Errorf("read engine result: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode engine result: %w", err)
	}
	if doc.Status == "" {
		return nil, fmt.Errorf("engine result missing status")
	}

	return &doc, nil
}
