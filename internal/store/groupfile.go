package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IsFile reports whether source names an existing regular file.
func IsFile(source string) bool {
	info, err := os.Stat(source)
	return err == nil && info.Mode().IsRegular()
}

// LoadList reads VM names from source. If source is an existing file it is
// read one name per line and each line is taken verbatim apart from its line
// ending, since vSphere allows names with surrounding spaces. Otherwise it is
// split on commas and each entry is trimmed. Blank entries are dropped.
func LoadList(source string) ([]string, error) {
	if !IsFile(source) {
		return splitNames(strings.Split(source, ","), strings.TrimSpace), nil
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("failed to open group file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read group file: %w", err)
	}
	return splitNames(lines, func(line string) string {
		return strings.TrimRight(line, "\r")
	}), nil
}

// SaveList writes names to path, one per line.
func SaveList(path string, names []string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create group file directory: %w", err)
		}
	}
	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write group file: %w", err)
	}
	return nil
}

func splitNames(raw []string, clean func(string) string) []string {
	names := make([]string, 0, len(raw))
	for _, r := range raw {
		name := clean(r)
		if strings.TrimSpace(name) == "" {
			continue
		}
		names = append(names, name)
	}
	return names
}
