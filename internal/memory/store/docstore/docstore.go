// Package docstore implements the document-store adapter: one collection
// per aggregate, upsert-by-id, with the concrete driver loaded lazily by
// name so the engine does not hard-depend on any particular database
// client at compile time. Concrete drivers live in the mongodriver and
// pgdriver subpackages and register themselves via Register when a
// caller imports them for side effect.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"memoryengine/internal/memory/store"
)

// Driver is the minimal operation set a document database client must
// provide. Both the Mongo and Postgres drivers implement it; callers
// never see it directly.
type Driver interface {
	// Upsert replaces-or-inserts doc at id within collection.
	Upsert(ctx context.Context, collection, id string, doc any) error
	// LoadAll returns every document in collection, keyed by id, as raw
	// JSON so the generic adapter can unmarshal into the right type.
	LoadAll(ctx context.Context, collection string) (map[string]json.RawMessage, error)
	Delete(ctx context.Context, collection, id string) error
	Close(ctx context.Context) error
}

// DriverFactory constructs a Driver from a resolved Config.
type DriverFactory func(ctx context.Context, cfg Config) (Driver, error)

var registry = map[string]DriverFactory{}

// Register makes a driver factory available under name (e.g. "mongo",
// "postgres"). Driver subpackages call this from an init() so that
// importing memoryengine/internal/memory/store/docstore/mongodriver for
// side effect is what "loads the module" at the Go level.
func Register(name string, factory DriverFactory) {
	registry[name] = factory
}

// Config configures the document-store adapter. ConnectionString, DBName,
// and CollectionPrefix each resolve from the corresponding field if set,
// else from the named environment variable, in that precedence.
type Config struct {
	ConnectionString       string
	DBName                 string
	CollectionPrefix       string
	ModuleName             string
	ModuleLoader           DriverFactory
	ClientOptions          map[string]any
	ConnectionEnvKey       string
	DBNameEnvKey           string
	CollectionPrefixEnvKey string
}

func resolve(value, envKey string) string {
	if value != "" {
		return value
	}
	if envKey != "" {
		return os.Getenv(envKey)
	}
	return ""
}

func (c Config) resolved() Config {
	out := c
	out.ConnectionString = resolve(c.ConnectionString, c.ConnectionEnvKey)
	out.DBName = resolve(c.DBName, c.DBNameEnvKey)
	if out.DBName == "" {
		out.DBName = "agent_memory"
	}
	out.CollectionPrefix = resolve(c.CollectionPrefix, c.CollectionPrefixEnvKey)
	if out.CollectionPrefix == "" {
		out.CollectionPrefix = "memory_"
	}
	return out
}

// Bundle builds a store.Bundle backed by the driver named by
// cfg.ModuleName (or cfg.ModuleLoader directly, which takes precedence
// when set). If the named module was never registered, Prepare on the
// returned bundle's ports fails with an actionable BackendUnavailable
// error naming the expected Go import.
func Bundle(cfg Config) store.Bundle {
	resolved := cfg.resolved()
	d := &lazyDriver{cfg: resolved}
	prefix := resolved.CollectionPrefix
	return store.Bundle{
		Sessions:    &payloadAdapter[store.Session]{driver: d, collection: prefix + "sessions"},
		Contexts:    &payloadAdapter[store.Context]{driver: d, collection: prefix + "contexts"},
		Histories:   &payloadAdapter[[]store.HistoryMessage]{driver: d, collection: prefix + "histories"},
		Compactions: &payloadAdapter[[]store.CompactionRecord]{driver: d, collection: prefix + "compactions"},
		Tasks:       &taskAdapter{driver: d, collection: prefix + "tasks"},
		SubTaskRuns: &payloadAdapter[store.SubTaskRunData]{driver: d, collection: prefix + "subtask_runs"},
	}
}

// lazyDriver defers actual driver construction to the first Prepare
// call, since Driver construction typically dials a network connection
// and prepare() is the documented place for that per the store port
// contract (§4.2: "prepare() idempotent resource setup").
type lazyDriver struct {
	cfg    Config
	driver Driver
}

func (l *lazyDriver) ensure(ctx context.Context) error {
	if l.driver != nil {
		return nil
	}
	factory := l.cfg.ModuleLoader
	if factory == nil {
		var ok bool
		factory, ok = registry[l.cfg.ModuleName]
		if !ok {
			return fmt.Errorf(
				"document-store module %q is not registered; import memoryengine/internal/memory/store/docstore/%sdriver for side effect to enable it",
				l.cfg.ModuleName, strings.ToLower(l.cfg.ModuleName))
		}
	}
	drv, err := factory(ctx, l.cfg)
	if err != nil {
		return fmt.Errorf("construct document-store driver %q: %w", l.cfg.ModuleName, err)
	}
	l.driver = drv
	return nil
}

func (l *lazyDriver) close(ctx context.Context) error {
	if l.driver == nil {
		return nil
	}
	err := l.driver.Close(ctx)
	l.driver = nil
	return err
}

// payloadAdapter implements one of SessionPort/ContextPort/HistoryPort/
// CompactionPort/SubTaskRunPort for aggregate type T, stored as
// {_id: key, payload: T} documents.
type payloadAdapter[T any] struct {
	driver     *lazyDriver
	collection string
}

type payloadDoc[T any] struct {
	ID      string `json:"_id" bson:"_id"`
	Payload T      `json:"payload" bson:"payload"`
}

func (a *payloadAdapter[T]) Prepare(ctx context.Context) error { return a.driver.ensure(ctx) }
func (a *payloadAdapter[T]) Close(ctx context.Context) error   { return a.driver.close(ctx) }

func (a *payloadAdapter[T]) LoadAll(ctx context.Context) (map[string]T, error) {
	if err := a.driver.ensure(ctx); err != nil {
		return nil, err
	}
	raw, err := a.driver.driver.LoadAll(ctx, a.collection)
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(raw))
	for id, bytes := range raw {
		var doc payloadDoc[T]
		if err := json.Unmarshal(bytes, &doc); err != nil {
			continue // malformed document: skip, matching file adapter's per-record tolerance
		}
		out[id] = doc.Payload
	}
	return out, nil
}

func (a *payloadAdapter[T]) Save(ctx context.Context, key string, v T) error {
	if err := a.driver.ensure(ctx); err != nil {
		return err
	}
	return a.driver.driver.Upsert(ctx, a.collection, key, payloadDoc[T]{ID: key, Payload: v})
}

// Delete satisfies store.SubTaskRunPort when T = store.SubTaskRunData.
func (a *payloadAdapter[T]) Delete(ctx context.Context, key string) error {
	if err := a.driver.ensure(ctx); err != nil {
		return err
	}
	return a.driver.driver.Delete(ctx, a.collection, key)
}

// taskAdapter implements TaskPort. Task documents have the shape
// {_id: sessionId, tasks: [...]} so saveBySession replaces the whole
// document, per spec §4.4.
type taskAdapter struct {
	driver     *lazyDriver
	collection string
}

type taskDoc struct {
	ID    string           `json:"_id" bson:"_id"`
	Tasks []store.TaskData `json:"tasks" bson:"tasks"`
}

func (a *taskAdapter) Prepare(ctx context.Context) error { return a.driver.ensure(ctx) }
func (a *taskAdapter) Close(ctx context.Context) error   { return a.driver.close(ctx) }

func (a *taskAdapter) LoadAll(ctx context.Context) (map[string][]store.TaskData, error) {
	if err := a.driver.ensure(ctx); err != nil {
		return nil, err
	}
	raw, err := a.driver.driver.LoadAll(ctx, a.collection)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]store.TaskData, len(raw))
	for id, bytes := range raw {
		var doc taskDoc
		if err := json.Unmarshal(bytes, &doc); err != nil {
			continue
		}
		out[id] = doc.Tasks
	}
	return out, nil
}

func (a *taskAdapter) SaveBySession(ctx context.Context, sessionID string, tasks []store.TaskData) error {
	if err := a.driver.ensure(ctx); err != nil {
		return err
	}
	if len(tasks) == 0 {
		return a.driver.driver.Delete(ctx, a.collection, sessionID)
	}
	return a.driver.driver.Upsert(ctx, a.collection, sessionID, taskDoc{ID: sessionID, Tasks: tasks})
}

var (
	_ store.SessionPort    = (*payloadAdapter[store.Session])(nil)
	_ store.ContextPort    = (*payloadAdapter[store.Context])(nil)
	_ store.HistoryPort    = (*payloadAdapter[[]store.HistoryMessage])(nil)
	_ store.CompactionPort = (*payloadAdapter[[]store.CompactionRecord])(nil)
	_ store.SubTaskRunPort = (*payloadAdapter[store.SubTaskRunData])(nil)
	_ store.TaskPort       = (*taskAdapter)(nil)
)
