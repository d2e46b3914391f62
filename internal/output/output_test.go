package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_StatusLines(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		want  string
	}{
		{"status", func(w *Writer) { w.Status("->", "Checking embedder") }, "-> Checking embedder\n"},
		{"status without icon", func(w *Writer) { w.Status("", "detail") }, "   detail\n"},
		{"statusf", func(w *Writer) { w.Statusf("#", "Found %d files in %s", 42, "/notes") }, "# Found 42 files in /notes\n"},
		{"success", func(w *Writer) { w.Successf("Indexed %d documents", 3) }, "✓ Indexed 3 documents\n"},
		{"warning", func(w *Writer) { w.Warning("Embedder not available") }, "! Embedder not available\n"},
		{"error", func(w *Writer) { w.Errorf("failed: %s", "boom") }, "✗ failed: boom\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.write(NewPlain(buf))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestNew_BufferIsNotATerminal(t *testing.T) {
	// Given: a writer over a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a header
	w.Header("Index Status")

	// Then: no escape sequences are written
	assert.Equal(t, "Index Status\n", buf.String())
	assert.False(t, IsTTY(buf))
}

func TestWriter_Field_PadsLabels(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewPlain(buf)

	w.Field("Documents", 10, 12)
	w.Field("Vectors", 10, 11)

	assert.Equal(t, "  Documents:  12\n  Vectors:    11\n", buf.String())
}

func TestWriter_JSON(t *testing.T) {
	buf := &bytes.Buffer{}

	require.NoError(t, NewPlain(buf).JSON(map[string]int{"documents": 2}))

	assert.Equal(t, "{\n  \"documents\": 2\n}\n", buf.String())
}

func TestWriter_Code_IndentsLines(t *testing.T) {
	buf := &bytes.Buffer{}

	NewPlain(buf).Code("a\nb")

	assert.Equal(t, "\n  a\n  b\n\n", buf.String())
}

func TestWriter_Progress(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := NewPlain(buf)

	// When: printing progress at 50% and with a zero total
	w.Progress(50, 100, "Indexing files")
	w.Progress(0, 0, "ignored")

	// Then: only the first call prints
	assert.Contains(t, buf.String(), "50%")
	assert.Contains(t, buf.String(), "Indexing files")
	assert.NotContains(t, buf.String(), "ignored")
}

func TestProgressBar_Render(t *testing.T) {
	tests := []struct {
		name     string
		current  int
		total    int
		width    int
		wantFull int
	}{
		{"0 percent", 0, 100, 10, 0},
		{"50 percent", 50, 100, 10, 5},
		{"100 percent", 100, 100, 10, 10},
		{"over 100 percent", 150, 100, 10, 10},
		{"25 percent", 25, 100, 20, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := renderProgressBar(tt.current, tt.total, tt.width)

			assert.Equal(t, tt.wantFull, strings.Count(bar, "█"))
			assert.Equal(t, tt.width, len([]rune(bar)))
		})
	}
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "never", FormatTime(time.Time{}))
	assert.Equal(t, "just now", FormatTime(time.Now().Add(-10*time.Second)))
	assert.Equal(t, "1 minute ago", FormatTime(time.Now().Add(-90*time.Second)))
	assert.Equal(t, "3 hours ago", FormatTime(time.Now().Add(-3*time.Hour-time.Minute)))
	assert.Equal(t, "2 days ago", FormatTime(time.Now().Add(-49*time.Hour)))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "2.0 MB", FormatBytes(2<<20))
	assert.Equal(t, "1.0 GB", FormatBytes(1<<30))
}

func TestStyles_NoColorRendersVerbatim(t *testing.T) {
	s := GetStyles(true)
	assert.Equal(t, "text", s.Header.Render("text"))
	assert.Equal(t, "text", s.Match.Render("text"))
	assert.True(t, DefaultStyles().Header.GetBold())
}
