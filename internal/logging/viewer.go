package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"
)

// followInterval is how often Follow polls the file for new lines.
const followInterval = 100 * time.Millisecond

// Entry is one parsed JSON log line.
type Entry struct {
	Time  time.Time
	Level string
	Msg   string
	Attrs map[string]any
	Raw   string
	Valid bool
}

// ParseLine decodes a slog JSON line. Lines that are not JSON are kept raw.
func ParseLine(line string) Entry {
	entry := Entry{Raw: line}

	var fields map[string]any
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return entry
	}

	entry.Valid = true
	if ts, ok := fields["time"].(string); ok {
		entry.Time, _ = time.Parse(time.RFC3339Nano, ts)
	}
	entry.Level, _ = fields["level"].(string)
	entry.Msg, _ = fields["msg"].(string)

	delete(fields, "time")
	delete(fields, "level")
	delete(fields, "msg")
	if len(fields) > 0 {
		entry.Attrs = fields
	}
	return entry
}

// Tail returns up to n trailing entries of the log at path whose level is
// at least minLevel. Invalid lines are only kept when minLevel is debug.
func Tail(path string, n int, minLevel string) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	threshold := parseLevel(minLevel)
	ring := make([]Entry, 0, n)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		entry := ParseLine(scanner.Text())
		if !keep(entry, threshold) {
			continue
		}
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	return ring, nil
}

func keep(e Entry, threshold slog.Level) bool {
	if !e.Valid {
		return threshold <= slog.LevelDebug
	}
	return parseLevel(e.Level) >= threshold
}

// Format writes e as a single human-readable line.
func Format(w io.Writer, e Entry) {
	if !e.Valid {
		_, _ = fmt.Fprintln(w, e.Raw)
		return
	}

	var sb strings.Builder
	sb.WriteString(e.Time.Format("15:04:05.000"))
	fmt.Fprintf(&sb, " %-5s %s", strings.ToUpper(e.Level), e.Msg)

	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, e.Attrs[k])
	}
	_, _ = fmt.Fprintln(w, sb.String())
}

// Follow calls fn for every entry appended to path at level minLevel or
// above, until ctx is done. A line is only reported once it is complete.
func Follow(ctx context.Context, path, minLevel string, fn func(Entry)) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	threshold := parseLevel(minLevel)
	reader := bufio.NewReader(file)
	ticker := time.NewTicker(followInterval)
	defer ticker.Stop()

	var partial strings.Builder
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		for {
			chunk, err := reader.ReadString('\n')
			partial.WriteString(chunk)
			if err != nil {
				break
			}
			line := strings.TrimSuffix(partial.String(), "\n")
			partial.Reset()
			if line == "" {
				continue
			}
			if entry := ParseLine(line); keep(entry, threshold) {
				fn(entry)
			}
		}
	}
}
