// Package file implements the file storage adapter: one directory per
// aggregate under a configurable base path, atomic JSON writes via
// atomicio, and the URL-encoded filename contract from the public spec.
package file

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"memoryengine/internal/memory/atomicio"
	"memoryengine/internal/memory/store"
)

// Bundle constructs a store.Bundle rooted at basePath. Directory layout
// and filenames are byte-compatible with the spec's documented file
// backend: sessions/, contexts/, histories/, compactions/, tasks/,
// subtask-runs/.
func Bundle(basePath string) store.Bundle {
	return store.Bundle{
		Sessions:    &sessionAdapter{dir: filepath.Join(basePath, "sessions")},
		Contexts:    &contextAdapter{dir: filepath.Join(basePath, "contexts")},
		Histories:   &historyAdapter{dir: filepath.Join(basePath, "histories")},
		Compactions: &compactionAdapter{dir: filepath.Join(basePath, "compactions")},
		Tasks:       &taskAdapter{dir: filepath.Join(basePath, "tasks")},
		SubTaskRuns: &subTaskRunAdapter{dir: filepath.Join(basePath, "subtask-runs")},
	}
}

func encode(key string) string { return url.QueryEscape(key) }

func decode(encoded string) (string, bool) {
	key, err := url.QueryUnescape(encoded)
	if err != nil {
		return "", false
	}
	return key, true
}

// loadAllKeyed scans dir for "<encoded key>.json" files (optionally under
// a prefix/suffix wrapper, e.g. "task-list-<key>.json"), decoding each
// into a fresh T via atomicio.ReadJSON. Malformed filenames and files
// that cannot be read or parsed (and have no usable .bak to recover
// from) are logged and skipped; the rest of the directory still loads.
func loadAllKeyed[T any](ctx context.Context, dir, prefix, suffix string) (map[string]T, error) {
	names, err := atomicio.ListJSONFiles(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(names))
	for _, name := range names {
		base := strings.TrimSuffix(name, ".json")
		if prefix != "" {
			if !strings.HasPrefix(base, prefix) {
				continue // not our file shape (e.g. legacy subtask-run left in tasks/)
			}
			base = strings.TrimPrefix(base, prefix)
		}
		if suffix != "" {
			if !strings.HasSuffix(base, suffix) {
				continue
			}
			base = strings.TrimSuffix(base, suffix)
		}
		key, ok := decode(base)
		if !ok {
			log.Warn().Str("file", name).Msg("file store: skipping malformed filename")
			continue
		}
		var v T
		if err := atomicio.ReadJSON(filepath.Join(dir, name), &v); err != nil {
			log.Warn().Err(err).Str("file", name).Msg("file store: skipping unreadable file")
			continue
		}
		out[key] = v
	}
	return out, nil
}

// --- sessions ---

type sessionAdapter struct{ dir string }

func (a *sessionAdapter) Prepare(ctx context.Context) error { return atomicio.EnsureDir(a.dir) }

func (a *sessionAdapter) LoadAll(ctx context.Context) (map[string]store.Session, error) {
	return loadAllKeyed[store.Session](ctx, a.dir, "", "")
}

func (a *sessionAdapter) Save(ctx context.Context, sessionID string, v store.Session) error {
	return atomicio.WriteJSON(filepath.Join(a.dir, encode(sessionID)+".json"), v)
}

func (a *sessionAdapter) Close(ctx context.Context) error { return nil }

// --- contexts ---

type contextAdapter struct{ dir string }

func (a *contextAdapter) Prepare(ctx context.Context) error { return atomicio.EnsureDir(a.dir) }

func (a *contextAdapter) LoadAll(ctx context.Context) (map[string]store.Context, error) {
	return loadAllKeyed[store.Context](ctx, a.dir, "", "")
}

func (a *contextAdapter) Save(ctx context.Context, sessionID string, v store.Context) error {
	return atomicio.WriteJSON(filepath.Join(a.dir, encode(sessionID)+".json"), v)
}

func (a *contextAdapter) Close(ctx context.Context) error { return nil }

// --- histories ---

type historyAdapter struct{ dir string }

func (a *historyAdapter) Prepare(ctx context.Context) error { return atomicio.EnsureDir(a.dir) }

func (a *historyAdapter) LoadAll(ctx context.Context) (map[string][]store.HistoryMessage, error) {
	return loadAllKeyed[[]store.HistoryMessage](ctx, a.dir, "", "")
}

func (a *historyAdapter) Save(ctx context.Context, sessionID string, v []store.HistoryMessage) error {
	return atomicio.WriteJSON(filepath.Join(a.dir, encode(sessionID)+".json"), v)
}

func (a *historyAdapter) Close(ctx context.Context) error { return nil }

// --- compactions ---

type compactionAdapter struct{ dir string }

func (a *compactionAdapter) Prepare(ctx context.Context) error { return atomicio.EnsureDir(a.dir) }

func (a *compactionAdapter) LoadAll(ctx context.Context) (map[string][]store.CompactionRecord, error) {
	return loadAllKeyed[[]store.CompactionRecord](ctx, a.dir, "", "")
}

func (a *compactionAdapter) Save(ctx context.Context, sessionID string, v []store.CompactionRecord) error {
	return atomicio.WriteJSON(filepath.Join(a.dir, encode(sessionID)+".json"), v)
}

func (a *compactionAdapter) Close(ctx context.Context) error { return nil }

// --- tasks ---

const taskPrefix = "task-list-"

type taskAdapter struct{ dir string }

func (a *taskAdapter) Prepare(ctx context.Context) error { return atomicio.EnsureDir(a.dir) }

func (a *taskAdapter) LoadAll(ctx context.Context) (map[string][]store.TaskData, error) {
	return loadAllKeyed[[]store.TaskData](ctx, a.dir, taskPrefix, "")
}

// SaveBySession writes the session's task list sorted by CreatedAt
// ascending. Saving an empty list deletes the file instead of writing
// "[]", matching the spec's explicit empty-list-deletes-file rule.
func (a *taskAdapter) SaveBySession(ctx context.Context, sessionID string, tasks []store.TaskData) error {
	path := filepath.Join(a.dir, fmt.Sprintf("%s%s.json", taskPrefix, encode(sessionID)))
	if len(tasks) == 0 {
		return atomicio.Delete(path)
	}
	sorted := make([]store.TaskData, len(tasks))
	copy(sorted, tasks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })
	return atomicio.WriteJSON(path, sorted)
}

func (a *taskAdapter) Close(ctx context.Context) error { return nil }

// --- subtask runs ---

const subTaskRunPrefix = "subtask-run-"

type subTaskRunAdapter struct{ dir string }

func (a *subTaskRunAdapter) Prepare(ctx context.Context) error { return atomicio.EnsureDir(a.dir) }

func (a *subTaskRunAdapter) LoadAll(ctx context.Context) (map[string]store.SubTaskRunData, error) {
	return loadAllKeyed[store.SubTaskRunData](ctx, a.dir, subTaskRunPrefix, "")
}

func (a *subTaskRunAdapter) Save(ctx context.Context, runID string, v store.SubTaskRunData) error {
	path := filepath.Join(a.dir, fmt.Sprintf("%s%s.json", subTaskRunPrefix, encode(runID)))
	return atomicio.WriteJSON(path, v)
}

func (a *subTaskRunAdapter) Delete(ctx context.Context, runID string) error {
	path := filepath.Join(a.dir, fmt.Sprintf("%s%s.json", subTaskRunPrefix, encode(runID)))
	return atomicio.Delete(path)
}

func (a *subTaskRunAdapter) Close(ctx context.Context) error { return nil }
