package preflight

import (
	"context"
	"os/exec"
	"time"

	"github.com/Aman-CERP/recall/internal/config"
	"github.com/Aman-CERP/recall/internal/embed"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed successfully.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status as its lower-case name.
func (s CheckStatus) MarshalText() ([]byte, error) {
	switch s {
	case StatusPass:
		return []byte("pass"), nil
	case StatusWarn:
		return []byte("warn"), nil
	case StatusFail:
		return []byte("fail"), nil
	default:
		return []byte("unknown"), nil
	}
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// DefaultEmbedderTimeout bounds the embedder check.
const DefaultEmbedderTimeout = 5 * time.Second

// Checker performs preflight validation checks.
type Checker struct {
	embedder        embed.Embedder
	embedderTimeout time.Duration
	tools           []tool
	lookPath        func(string) (string, error)
}

// Option configures a Checker.
type Option func(*Checker)

// WithEmbedder checks e in RunAll. Without it the embedder check is skipped.
func WithEmbedder(e embed.Embedder) Option {
	return func(c *Checker) {
		c.embedder = e
	}
}

// WithEmbedderTimeout overrides DefaultEmbedderTimeout.
func WithEmbedderTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.embedderTimeout = d
		}
	}
}

// WithExtractTools takes the tool names from cfg instead of the defaults.
func WithExtractTools(cfg config.ExtractConfig) Option {
	return func(c *Checker) {
		c.tools = extractTools(cfg)
	}
}

// WithLookPath replaces exec.LookPath.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(c *Checker) {
		c.lookPath = fn
	}
}

// New creates a new Checker with the given options.
func New(opts ...Option) *Checker {
	c := &Checker{
		embedderTimeout: DefaultEmbedderTimeout,
		tools:           extractTools(config.ExtractConfig{}),
		lookPath:        exec.LookPath,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs all preflight checks against dataDir and returns the results.
func (c *Checker) RunAll(ctx context.Context, dataDir string) []CheckResult {
	var results []CheckResult

	results = append(results, c.CheckDiskSpace(dataDir))
	results = append(results, c.CheckWritePermissions(dataDir))
	results = append(results, c.CheckFileDescriptors())

	// search falls back to lexical-only without an embedder
	if c.embedder != nil {
		results = append(results, c.CheckEmbedder(ctx))
	}
	results = append(results, c.CheckExtractTools()...)

	return results
}

// HasCriticalFailures returns true if any required check failed.
func HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns a summary status string for the results.
func SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	hasCriticalFailure := false

	for _, r := range results {
		if r.IsCritical() {
			hasCriticalFailure = true
		}
		if r.Status == StatusWarn || (r.Status == StatusFail && !r.Required) {
			hasWarnings = true
		}
	}

	if hasCriticalFailure {
		return "failed"
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}
