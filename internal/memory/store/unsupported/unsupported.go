// Package unsupported provides the uniform "not implemented" shape for
// adapter types that are declared in configuration but have no backing
// implementation yet.
package unsupported

import (
	"context"
	"fmt"

	"memoryengine/internal/memory/store"
)

// Bundle returns a store.Bundle where every operation fails with a
// BackendUnsupported-flavored error naming the requested backend kind.
// Prepare fails eagerly so misconfiguration surfaces at startup rather
// than on first use.
func Bundle(kind string) store.Bundle {
	return store.Bundle{
		Sessions:    sessionAdapter{kind},
		Contexts:    contextAdapter{kind},
		Histories:   historyAdapter{kind},
		Compactions: compactionAdapter{kind},
		Tasks:       taskAdapter{kind},
		SubTaskRuns: subTaskRunAdapter{kind},
	}
}

func unsupportedErr(kind string) error {
	return fmt.Errorf("backend %q has no implementation yet", kind)
}

type sessionAdapter struct{ kind string }

func (a sessionAdapter) Prepare(ctx context.Context) error { return unsupportedErr(a.kind) }
func (a sessionAdapter) Close(ctx context.Context) error   { return nil }
func (a sessionAdapter) LoadAll(ctx context.Context) (map[string]store.Session, error) {
	return nil, unsupportedErr(a.kind)
}
func (a sessionAdapter) Save(ctx context.Context, sessionID string, v store.Session) error {
	return unsupportedErr(a.kind)
}

type contextAdapter struct{ kind string }

func (a contextAdapter) Prepare(ctx context.Context) error { return unsupportedErr(a.kind) }
func (a contextAdapter) Close(ctx context.Context) error   { return nil }
func (a contextAdapter) LoadAll(ctx context.Context) (map[string]store.Context, error) {
	return nil, unsupportedErr(a.kind)
}
func (a contextAdapter) Save(ctx context.Context, sessionID string, v store.Context) error {
	return unsupportedErr(a.kind)
}

type historyAdapter struct{ kind string }

func (a historyAdapter) Prepare(ctx context.Context) error { return unsupportedErr(a.kind) }
func (a historyAdapter) Close(ctx context.Context) error   { return nil }
func (a historyAdapter) LoadAll(ctx context.Context) (map[string][]store.HistoryMessage, error) {
	return nil, unsupportedErr(a.kind)
}
func (a historyAdapter) Save(ctx context.Context, sessionID string, v []store.HistoryMessage) error {
	return unsupportedErr(a.kind)
}

type compactionAdapter struct{ kind string }

func (a compactionAdapter) Prepare(ctx context.Context) error { return unsupportedErr(a.kind) }
func (a compactionAdapter) Close(ctx context.Context) error   { return nil }
func (a compactionAdapter) LoadAll(ctx context.Context) (map[string][]store.CompactionRecord, error) {
	return nil, unsupportedErr(a.kind)
}
func (a compactionAdapter) Save(ctx context.Context, sessionID string, v []store.CompactionRecord) error {
	return unsupportedErr(a.kind)
}

type taskAdapter struct{ kind string }

func (a taskAdapter) Prepare(ctx context.Context) error { return unsupportedErr(a.kind) }
func (a taskAdapter) Close(ctx context.Context) error   { return nil }
func (a taskAdapter) LoadAll(ctx context.Context) (map[string][]store.TaskData, error) {
	return nil, unsupportedErr(a.kind)
}
func (a taskAdapter) SaveBySession(ctx context.Context, sessionID string, tasks []store.TaskData) error {
	return unsupportedErr(a.kind)
}

type subTaskRunAdapter struct{ kind string }

func (a subTaskRunAdapter) Prepare(ctx context.Context) error { return unsupportedErr(a.kind) }
func (a subTaskRunAdapter) Close(ctx context.Context) error   { return nil }
func (a subTaskRunAdapter) LoadAll(ctx context.Context) (map[string]store.SubTaskRunData, error) {
	return nil, unsupportedErr(a.kind)
}
func (a subTaskRunAdapter) Save(ctx context.Context, runID string, v store.SubTaskRunData) error {
	return unsupportedErr(a.kind)
}
func (a subTaskRunAdapter) Delete(ctx context.Context, runID string) error {
	return unsupportedErr(a.kind)
}

var (
	_ store.SessionPort     = sessionAdapter{}
	_ store.ContextPort     = contextAdapter{}
	_ store.HistoryPort     = historyAdapter{}
	_ store.CompactionPort  = compactionAdapter{}
	_ store.TaskPort        = taskAdapter{}
	_ store.SubTaskRunPort  = subTaskRunAdapter{}
)
