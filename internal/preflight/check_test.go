package preflight

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/recall/internal/config"
	"github.com/Aman-CERP/recall/internal/embed"
)

type offlineEmbedder struct{ embed.Embedder }

func (offlineEmbedder) ModelName() string                 { return "nomic-embed-text" }
func (offlineEmbedder) Available(ctx context.Context) bool { return false }

func allTools(name string) (string, error) { return "/usr/bin/" + name, nil }

func noTools(string) (string, error) { return "", errors.New("executable file not found") }

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusPass, "PASS"},
		{StatusWarn, "WARN"},
		{StatusFail, "FAIL"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestCheckResult_IsCritical(t *testing.T) {
	tests := []struct {
		name     string
		result   CheckResult
		expected bool
	}{
		{
			name:     "required pass is not critical",
			result:   CheckResult{Status: StatusPass, Required: true},
			expected: false,
		},
		{
			name:     "required fail is critical",
			result:   CheckResult{Status: StatusFail, Required: true},
			expected: true,
		},
		{
			name:     "optional fail is not critical",
			result:   CheckResult{Status: StatusFail, Required: false},
			expected: false,
		},
		{
			name:     "required warn is not critical",
			result:   CheckResult{Status: StatusWarn, Required: true},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.IsCritical())
		})
	}
}

func TestCheckResult_JSON(t *testing.T) {
	data, err := json.Marshal(CheckResult{Name: "embedder", Status: StatusWarn, Message: "down"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"embedder","status":"warn","message":"down","required":false}`, string(data))
}

func TestSummaryStatus(t *testing.T) {
	pass := CheckResult{Status: StatusPass, Required: true}
	warn := CheckResult{Status: StatusWarn}
	fail := CheckResult{Status: StatusFail, Required: true}

	assert.Equal(t, "ready", SummaryStatus([]CheckResult{pass}))
	assert.Equal(t, "ready_with_warnings", SummaryStatus([]CheckResult{pass, warn}))
	assert.Equal(t, "failed", SummaryStatus([]CheckResult{pass, warn, fail}))
	assert.False(t, HasCriticalFailures([]CheckResult{pass, warn}))
	assert.True(t, HasCriticalFailures([]CheckResult{fail}))
}

func TestRunAll_HealthyHost(t *testing.T) {
	// Given a writable data dir that does not exist yet and every tool on PATH
	dataDir := filepath.Join(t.TempDir(), "recall", "data")
	c := New(WithEmbedder(embed.NewStaticEmbedder()), WithLookPath(allTools))

	// When running all checks
	results := c.RunAll(context.Background(), dataDir)

	// Then nothing is critical and every check is reported
	var names []string
	for _, r := range results {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"disk_space", "write_permissions", "file_descriptors", "embedder", "pdftotext", "tesseract"}, names)
	assert.False(t, HasCriticalFailures(results))
	assert.DirExists(t, dataDir)

	// And the test file is cleaned up
	entries, err := os.ReadDir(dataDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunAll_WithoutEmbedderSkipsCheck(t *testing.T) {
	c := New(WithLookPath(allTools))

	results := c.RunAll(context.Background(), t.TempDir())

	for _, r := range results {
		assert.NotEqual(t, "embedder", r.Name)
	}
}

func TestCheckDiskSpace_MissingDirUsesAncestor(t *testing.T) {
	base := t.TempDir()

	result := New().CheckDiskSpace(filepath.Join(base, "a", "b"))

	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, base, result.Details)
	assert.Contains(t, result.Message, "free")
}

func TestCheckWritePermissions_ReadOnly(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	// Given a read-only parent directory
	parent := t.TempDir()
	require.NoError(t, os.Chmod(parent, 0o555))
	t.Cleanup(func() { _ = os.Chmod(parent, 0o755) })

	// When checking a data dir inside it
	result := New().CheckWritePermissions(filepath.Join(parent, "data"))

	// Then the check fails critically
	assert.Equal(t, StatusFail, result.Status)
	assert.True(t, result.IsCritical())
}

func TestCheckEmbedder(t *testing.T) {
	t.Run("available", func(t *testing.T) {
		result := New(WithEmbedder(embed.NewStaticEmbedder())).CheckEmbedder(context.Background())

		assert.Equal(t, StatusPass, result.Status)
		assert.Contains(t, result.Message, "ready")
	})

	t.Run("unavailable warns", func(t *testing.T) {
		result := New(WithEmbedder(offlineEmbedder{})).CheckEmbedder(context.Background())

		assert.Equal(t, StatusWarn, result.Status)
		assert.False(t, result.IsCritical())
		assert.Contains(t, result.Message, "lexical-only")
		assert.Contains(t, result.Details, "ollama pull nomic-embed-text")
	})
}

func TestCheckExtractTools(t *testing.T) {
	t.Run("missing tools warn with install hints", func(t *testing.T) {
		results := New(WithLookPath(noTools)).CheckExtractTools()

		require.Len(t, results, 2)
		for _, r := range results {
			assert.Equal(t, StatusWarn, r.Status)
			assert.NotEmpty(t, r.Details)
		}
		assert.Contains(t, results[0].Message, "PDF files")
		assert.Contains(t, results[1].Message, "images")
	})

	t.Run("configured binaries are looked up", func(t *testing.T) {
		var looked []string
		lookPath := func(name string) (string, error) {
			looked = append(looked, name)
			return name, nil
		}
		c := New(
			WithExtractTools(config.ExtractConfig{PDFToText: "/opt/poppler/pdftotext"}),
			WithLookPath(lookPath),
		)

		results := c.CheckExtractTools()

		assert.Equal(t, []string{"/opt/poppler/pdftotext", "tesseract"}, looked)
		assert.Equal(t, StatusPass, results[0].Status)
	})
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 bytes", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "100.0 MB", formatBytes(MinDiskSpaceBytes))
	assert.Equal(t, "2.0 GB", formatBytes(2*1024*1024*1024))
}
