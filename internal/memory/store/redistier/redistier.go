// Package redistier implements a store.Bundle over go-redis/v9, intended
// as the short-term tier in a tiered.Bundle: hottest, bounded, cheapest
// to rebuild from History on a cache miss (per SPEC_FULL.md's hybrid
// tier guidance, the natural home for the live Context of an active
// session).
package redistier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"memoryengine/internal/memory/store"
)

// Bundle constructs a store.Bundle backed by client, with every key
// namespaced under prefix (default "memory:" when empty).
func Bundle(client *redis.Client, prefix string) store.Bundle {
	if prefix == "" {
		prefix = "memory:"
	}
	return store.Bundle{
		Sessions:    &payloadAdapter[store.Session]{client: client, ns: prefix + "sessions:"},
		Contexts:    &payloadAdapter[store.Context]{client: client, ns: prefix + "contexts:"},
		Histories:   &payloadAdapter[[]store.HistoryMessage]{client: client, ns: prefix + "histories:"},
		Compactions: &payloadAdapter[[]store.CompactionRecord]{client: client, ns: prefix + "compactions:"},
		Tasks:       &taskAdapter{client: client, ns: prefix + "tasks:"},
		SubTaskRuns: &payloadAdapter[store.SubTaskRunData]{client: client, ns: prefix + "subtask-runs:"},
	}
}

type payloadAdapter[T any] struct {
	client *redis.Client
	ns     string
}

func (a *payloadAdapter[T]) Prepare(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

func (a *payloadAdapter[T]) LoadAll(ctx context.Context) (map[string]T, error) {
	out := make(map[string]T)
	iter := a.client.Scan(ctx, 0, a.ns+"*", 0).Iterator()
	for iter.Next(ctx) {
		fullKey := iter.Val()
		id := fullKey[len(a.ns):]
		data, err := a.client.Get(ctx, fullKey).Bytes()
		if err != nil {
			continue
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			continue
		}
		out[id] = v
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *payloadAdapter[T]) Save(ctx context.Context, id string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return a.client.Set(ctx, a.ns+id, data, 0).Err()
}

func (a *payloadAdapter[T]) Delete(ctx context.Context, id string) error {
	return a.client.Del(ctx, a.ns+id).Err()
}

// Close closes the shared client; every port of a Bundle shares it, so a
// client already closed by a sibling port is not an error.
func (a *payloadAdapter[T]) Close(ctx context.Context) error {
	if err := a.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

// taskAdapter mirrors the file adapter's "empty list deletes the key"
// rule for a session's task list.
type taskAdapter struct {
	client *redis.Client
	ns     string
}

func (a *taskAdapter) Prepare(ctx context.Context) error { return a.client.Ping(ctx).Err() }

func (a *taskAdapter) LoadAll(ctx context.Context) (map[string][]store.TaskData, error) {
	inner := payloadAdapter[[]store.TaskData]{client: a.client, ns: a.ns}
	return inner.LoadAll(ctx)
}

func (a *taskAdapter) SaveBySession(ctx context.Context, sessionID string, tasks []store.TaskData) error {
	if len(tasks) == 0 {
		return a.client.Del(ctx, a.ns+sessionID).Err()
	}
	inner := payloadAdapter[[]store.TaskData]{client: a.client, ns: a.ns}
	return inner.Save(ctx, sessionID, tasks)
}

func (a *taskAdapter) Close(ctx context.Context) error { return nil }

// NewClient is a small convenience wrapper around redis.ParseURL so
// callers don't need to import go-redis directly just to build a
// connection from a configuration string.
func NewClient(addr string) (*redis.Client, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("parse redis url %q: %w", addr, err)
	}
	return redis.NewClient(opts), nil
}

var (
	_ store.SessionPort    = (*payloadAdapter[store.Session])(nil)
	_ store.ContextPort    = (*payloadAdapter[store.Context])(nil)
	_ store.HistoryPort    = (*payloadAdapter[[]store.HistoryMessage])(nil)
	_ store.CompactionPort = (*payloadAdapter[[]store.CompactionRecord])(nil)
	_ store.SubTaskRunPort = (*payloadAdapter[store.SubTaskRunData])(nil)
	_ store.TaskPort       = (*taskAdapter)(nil)
)
