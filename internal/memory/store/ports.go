// Package store defines the storage adapter contract: one port interface
// per aggregate, plus a Bundle that groups all six and a uniform close.
// Concrete adapters live in the file, docstore, tiered, and unsupported
// subpackages; the orchestrator depends only on this package's types.
package store

import "context"

// SessionPort persists Session aggregates keyed by sessionId.
type SessionPort interface {
	Prepare(ctx context.Context) error
	LoadAll(ctx context.Context) (map[string]Session, error)
	Save(ctx context.Context, sessionID string, v Session) error
	Close(ctx context.Context) error
}

// ContextPort persists Context aggregates keyed by sessionId.
type ContextPort interface {
	Prepare(ctx context.Context) error
	LoadAll(ctx context.Context) (map[string]Context, error)
	Save(ctx context.Context, sessionID string, v Context) error
	Close(ctx context.Context) error
}

// HistoryPort persists the append-only HistoryMessage list, keyed by
// sessionId, for the whole list at once (the list is small relative to
// an individual message write frequency and is always rewritten whole by
// the file/docstore adapters, matching the spec's per-session JSON blob).
type HistoryPort interface {
	Prepare(ctx context.Context) error
	LoadAll(ctx context.Context) (map[string][]HistoryMessage, error)
	Save(ctx context.Context, sessionID string, v []HistoryMessage) error
	Close(ctx context.Context) error
}

// CompactionPort persists the CompactionRecord list keyed by sessionId.
type CompactionPort interface {
	Prepare(ctx context.Context) error
	LoadAll(ctx context.Context) (map[string][]CompactionRecord, error)
	Save(ctx context.Context, sessionID string, v []CompactionRecord) error
	Close(ctx context.Context) error
}

// TaskPort persists TaskData, saved whole per session (saveBySession).
type TaskPort interface {
	Prepare(ctx context.Context) error
	LoadAll(ctx context.Context) (map[string][]TaskData, error)
	SaveBySession(ctx context.Context, sessionID string, tasks []TaskData) error
	Close(ctx context.Context) error
}

// SubTaskRunPort persists SubTaskRunData keyed by its own runId.
type SubTaskRunPort interface {
	Prepare(ctx context.Context) error
	LoadAll(ctx context.Context) (map[string]SubTaskRunData, error)
	Save(ctx context.Context, runID string, v SubTaskRunData) error
	Delete(ctx context.Context, runID string) error
	Close(ctx context.Context) error
}

// Bundle groups one port per aggregate. Adapters construct a Bundle;
// the tiered adapter composes several Bundles into one by routing each
// port to a different underlying tier.
type Bundle struct {
	Sessions     SessionPort
	Contexts     ContextPort
	Histories    HistoryPort
	Compactions  CompactionPort
	Tasks        TaskPort
	SubTaskRuns  SubTaskRunPort
}

// PrepareAll calls Prepare on every port in the bundle.
func (b Bundle) PrepareAll(ctx context.Context) error {
	if err := b.Sessions.Prepare(ctx); err != nil {
		return err
	}
	if err := b.Contexts.Prepare(ctx); err != nil {
		return err
	}
	if err := b.Histories.Prepare(ctx); err != nil {
		return err
	}
	if err := b.Compactions.Prepare(ctx); err != nil {
		return err
	}
	if err := b.Tasks.Prepare(ctx); err != nil {
		return err
	}
	if err := b.SubTaskRuns.Prepare(ctx); err != nil {
		return err
	}
	return nil
}

// Close releases all adapter resources, deduplicating ports by identity
// so a port value that appears in several slots is closed once. Distinct
// ports that share one underlying connection (the docstore and redistier
// adapters) each call Close; those adapters tolerate the repeated call.
func (b Bundle) Close(ctx context.Context) error {
	closers := []interface {
		Close(context.Context) error
	}{b.Sessions, b.Contexts, b.Histories, b.Compactions, b.Tasks, b.SubTaskRuns}

	seen := make(map[any]bool, len(closers))
	var firstErr error
	for _, c := range closers {
		if c == nil || seen[c] {
			continue
		}
		seen[c] = true
		if err := c.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
