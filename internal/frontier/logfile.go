package frontier

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const maxLineBytes = 1 << 20

// readLines returns the non-blank lines of path. A missing file yields no lines.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from operator configuration.
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return lines, fmt.Errorf("scan %s: %w", path, err)
	}
	return lines, nil
}

// appendLines adds lines to the end of path, creating it when needed.
func appendLines(path string, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304
	if err != nil {
		return fmt.Errorf("open %s for append: %w", path, err)
	}
	w := bufio.NewWriter(f)
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			_ = f.Close()
			return fmt.Errorf("append %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// rewriteLines replaces path with lines via a temp file and rename so a crash
// never leaves a half-written log behind.
func rewriteLines(path string, lines []string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	w := bufio.NewWriter(tmp)
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
			return fmt.Errorf("write %s: %w", tmp.Name(), err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("flush %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// formatPending renders one pending record as "url|depth".
func formatPending(e Entry) string {
	return e.URL + "|" + strconv.Itoa(e.Depth)
}

// parsePending splits on the last '|'. Lines without a separator predate depth
// tracking and are read as depth 0.
func parsePending(line string) (Entry, error) {
	idx := strings.LastIndexByte(line, '|')
	if idx < 0 {
		return Entry{URL: line}, nil
	}
	rawURL := strings.TrimSpace(line[:idx])
	if rawURL == "" {
		return Entry{}, errors.New("empty url")
	}
	depth, err := strconv.Atoi(strings.TrimSpace(line[idx+1:]))
	if err != nil {
		return Entry{}, fmt.Errorf("parse depth: %w", err)
	}
	if depth < 0 {
		return Entry{}, fmt.Errorf("negative depth %d", depth)
	}
	return Entry{URL: rawURL, Depth: depth}, nil
}
