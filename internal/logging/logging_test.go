package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestDefaultLogDir_HonorsHomeEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv(HomeEnv, home)

	if got := DefaultLogDir(); got != filepath.Join(home, "logs") {
		t.Errorf("DefaultLogDir = %s, want %s", got, filepath.Join(home, "logs"))
	}
	if filepath.Base(DefaultLogPath()) != "recall.log" {
		t.Errorf("DefaultLogPath should end with recall.log, got: %s", DefaultLogPath())
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected level 'info', got: %s", cfg.Level)
	}
	if cfg.MaxSizeMB != 10 {
		t.Errorf("expected MaxSizeMB 10, got: %d", cfg.MaxSizeMB)
	}
	if cfg.MaxFiles != 5 {
		t.Errorf("expected MaxFiles 5, got: %d", cfg.MaxFiles)
	}

	if dbg := DebugConfig(); dbg.Level != "debug" || !dbg.WriteToStderr {
		t.Errorf("unexpected debug config: %+v", dbg)
	}
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	logger, cleanup, err := Setup(Config{
		Level:     "debug",
		FilePath:  logPath,
		MaxSizeMB: 1,
		MaxFiles:  3,
	})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	logger.Debug("document_indexed", "id", "s1/msg/1")
	logger.Info("query_done", "results", 3)
	cleanup()

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	for _, want := range []string{`"msg":"document_indexed"`, `"id":"s1/msg/1"`, `"msg":"query_done"`} {
		if !strings.Contains(string(content), want) {
			t.Errorf("log missing %s:\n%s", want, content)
		}
	}
}

func TestSetup_LevelFiltering(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	logger, cleanup, err := Setup(Config{Level: "warn", FilePath: logPath, MaxSizeMB: 1, MaxFiles: 1})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("visible")
	cleanup()

	content, _ := os.ReadFile(logPath)
	if strings.Contains(string(content), "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(string(content), "visible") {
		t.Error("warn record should be written")
	}
}

func TestLevelFromString(t *testing.T) {
	tests := map[string]string{
		"debug":   "DEBUG",
		"INFO":    "INFO",
		"warning": "WARN",
		"error":   "ERROR",
		"bogus":   "INFO",
	}
	for in, want := range tests {
		if got := LevelFromString(in).String(); got != want {
			t.Errorf("LevelFromString(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestFindLogFile(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	if _, err := FindLogFile(""); err == nil {
		t.Error("expected error when no log file exists")
	}
	if _, err := FindLogFile("/nonexistent/recall.log"); err == nil {
		t.Error("expected error for missing explicit path")
	}

	if err := EnsureLogDir(); err != nil {
		t.Fatalf("EnsureLogDir failed: %v", err)
	}
	if err := os.WriteFile(DefaultLogPath(), []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := FindLogFile("")
	if err != nil || got != DefaultLogPath() {
		t.Errorf("FindLogFile = %q, %v", got, err)
	}
}

func TestRotatingWriter_Rotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "recall.log")

	w, err := NewRotatingWriter(logPath, 1, 2)
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	w.SetSyncEach(false)
	defer func() { _ = w.Close() }()

	chunk := []byte(strings.Repeat("x", 600*1024) + "\n")
	for i := 0; i < 4; i++ {
		if _, err := w.Write(chunk); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	for _, p := range []string{logPath, logPath + ".1", logPath + ".2"} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s to exist: %v", p, err)
		}
	}
	if _, err := os.Stat(logPath + ".3"); !os.IsNotExist(err) {
		t.Error("rotation should keep at most maxFiles rolled files")
	}
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	w, err := NewRotatingWriter(filepath.Join(t.TempDir(), "recall.log"), 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := w.Write([]byte("late\n")); err == nil {
		t.Error("expected write after close to fail")
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestRotatingWriter_ConcurrentWrites(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "recall.log")
	w, err := NewRotatingWriter(logPath, 1, 2)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, _ = fmt.Fprintf(w, "goroutine=%d line=%d\n", g, i)
			}
		}(g)
	}
	wg.Wait()
	_ = w.Close()

	content, _ := os.ReadFile(logPath)
	if got := strings.Count(string(content), "\n"); got != 400 {
		t.Errorf("expected 400 lines, got %d", got)
	}
}

func TestTail_FiltersAndLimits(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "recall.log")
	lines := []string{
		`{"time":"2026-01-02T10:00:00Z","level":"DEBUG","msg":"a"}`,
		`{"time":"2026-01-02T10:00:01Z","level":"WARN","msg":"b","path":"x.pdf"}`,
		`not json`,
		`{"time":"2026-01-02T10:00:02Z","level":"ERROR","msg":"c"}`,
		`{"time":"2026-01-02T10:00:03Z","level":"INFO","msg":"d"}`,
	}
	if err := os.WriteFile(logPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := Tail(logPath, 10, "warn")
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Msg != "b" || entries[1].Msg != "c" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[0].Attrs["path"] != "x.pdf" {
		t.Errorf("expected path attr, got %v", entries[0].Attrs)
	}

	all, _ := Tail(logPath, 2, "debug")
	if len(all) != 2 || all[1].Msg != "d" {
		t.Errorf("expected last two entries, got %+v", all)
	}

	var sb strings.Builder
	Format(&sb, entries[0])
	if !strings.Contains(sb.String(), "WARN  b path=x.pdf") {
		t.Errorf("unexpected format: %q", sb.String())
	}
}

func TestFollow_ReportsCompleteNewLines(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "recall.log")
	old := `{"time":"2026-01-02T10:00:00Z","level":"ERROR","msg":"old"}` + "\n"
	if err := os.WriteFile(logPath, []byte(old), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan Entry, 8)
	done := make(chan error, 1)
	go func() {
		done <- Follow(ctx, logPath, "warn", func(e Entry) { got <- e })
	}()

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	// give Follow time to seek past the old content
	time.Sleep(3 * followInterval)
	_, _ = f.WriteString(`{"time":"2026-01-02T10:00:01Z","level":"INFO","msg":"quiet"}` + "\n")
	_, _ = f.WriteString(`{"time":"2026-01-02T10:00:02Z","level":"WARN",`)
	time.Sleep(3 * followInterval)
	_, _ = f.WriteString(`"msg":"split"}` + "\n")

	select {
	case e := <-got:
		if e.Msg != "split" {
			t.Fatalf("expected the split warning, got %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for entry")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Follow returned %v", err)
	}
	if len(got) != 0 {
		t.Errorf("unexpected extra entries: %d", len(got))
	}
}
