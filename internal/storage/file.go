package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure data directory: %w", err)
	}
	return nil
}

// readJSON decodes path into out. A missing or empty file leaves out untouched.
func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeJSONAtomic replaces path with the encoding of v via a temp file.
func writeJSONAtomic(path string, v any) error {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, bytes, 0o644); err != nil {
		return fmt.Errorf("write temp %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func trim[T any](entries []T, max int) []T {
	if max <= 0 || len(entries) <= max {
		return entries
	}
	out := make([]T, max)
	copy(out, entries[len(entries)-max:])
	return out
}

func tail[T any](entries []T, limit int) []T {
	start := 0
	if limit > 0 && len(entries) > limit {
		start = len(entries) - limit
	}
	if len(entries)-start == 0 {
		return nil
	}
	out := make([]T, len(entries)-start)
	copy(out, entries[start:])
	return out
}
