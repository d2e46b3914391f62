package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// CommandRunner runs an external tool and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec. The process is killed when ctx
// is done.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, toolNotFound(name, err)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("%s failed: %w", name, err)
		}
		return nil, fmt.Errorf("%s failed: %w: %s", name, err, msg)
	}
	return stdout.Bytes(), nil
}

func toolNotFound(name string, cause error) error {
	return rerrors.New(rerrors.ErrCodeToolNotFound, name+" not found in PATH", cause).
		WithSuggestion(InstallHint(name))
}

// InstallHint tells how to get the external tool name.
func InstallHint(name string) string {
	switch {
	case strings.Contains(name, "pdftotext"):
		return "Install poppler (brew install poppler, apt install poppler-utils) or set extract.pdftotext"
	case strings.Contains(name, "tesseract"):
		return "Install tesseract (brew install tesseract, apt install tesseract-ocr) or set extract.tesseract"
	}
	return "Install " + name + " and make sure it is on PATH"
}

// runTool maps runner failures onto the extraction taxonomy.
func runTool(ctx context.Context, r CommandRunner, path, name string, args ...string) ([]byte, error) {
	out, err := r.Run(ctx, name, args...)
	if err == nil {
		return out, nil
	}
	if rerrors.HasCode(err, rerrors.ErrCodeToolNotFound) || ctx.Err() != nil {
		return nil, err
	}
	if errors.Is(err, exec.ErrNotFound) {
		return nil, toolNotFound(name, err)
	}
	return nil, corruptInput(path, err)
}
