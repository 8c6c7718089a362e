// Package atomicio provides crash-safe JSON file read/write for the file
// storage adapter: write-temp-then-rename, backup-before-overwrite, and
// corrupt-file quarantine on parse failure.
package atomicio

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"memoryengine/internal/observability"
)

// WriteJSON serializes v as pretty-printed (two-space indent) UTF-8 JSON
// and writes it to path atomically: if path already exists its current
// content is first copied to path+".bak", then the new content is written
// to a temp file in the same directory and renamed over path.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	if existing, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+".bak", existing, 0o644); err != nil {
			log.Warn().Err(err).Str("file", path).Msg("atomicio: failed to write backup before overwrite")
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("file", path).Msg("atomicio: failed to read existing file before backup")
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp for %s: %w", path, err)
	}
	return nil
}

// ReadJSON reads and unmarshals path into v. If the file is missing, it
// returns os.ErrNotExist unchanged (callers treat "no record" as normal).
// If the file exists but fails to parse, the corrupt file is moved aside
// to path+".corrupt-<unixmillis>" and ReadJSON attempts recovery from
// path+".bak": the backup's value is decoded into v and no error is
// returned. If the backup is missing or also fails to parse, v is left
// undecoded and ReadJSON returns an error describing the corruption.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err == nil {
		return nil
	}

	ev := log.Warn().Str("file", path)
	if json.Valid(data) {
		// Parses as JSON but failed to unmarshal into the target type
		// (shape mismatch, not corruption) — safe to echo, redacted.
		ev = ev.RawJSON("raw", observability.RedactJSON(data))
	} else {
		ev = ev.Int("raw_bytes", len(data))
	}
	ev.Msg("atomicio: parse failure, attempting backup recovery")

	quarantine := fmt.Sprintf("%s.corrupt-%d", path, time.Now().UnixMilli())
	if err := os.Rename(path, quarantine); err != nil {
		log.Warn().Err(err).Str("file", path).Msg("atomicio: failed to quarantine corrupt file")
	}

	backupData, err := os.ReadFile(path + ".bak")
	if err != nil {
		log.Warn().Str("file", path).Msg("atomicio: no recoverable backup")
		return fmt.Errorf("corrupt file %s has no backup to recover from", path)
	}
	if err := json.Unmarshal(backupData, v); err != nil {
		log.Warn().Err(err).Str("file", path).Msg("atomicio: backup also failed to parse")
		return fmt.Errorf("corrupt file %s: backup also failed to parse: %w", path, err)
	}
	return nil
}

// Delete removes path. A missing file is treated as success.
func Delete(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// ListJSONFiles returns the base names of every "*.json" entry directly
// under dir, sorted for deterministic iteration. A missing directory
// yields an empty list, not an error.
func ListJSONFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// EnsureDir creates dir (and parents) if missing. Idempotent.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return nil
}
