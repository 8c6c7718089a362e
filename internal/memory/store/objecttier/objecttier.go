// Package objecttier implements a store.Bundle over any
// objectstore.ObjectStore (S3, S3-compatible, or the in-memory test
// double), intended as the long-term tier in a tiered.Bundle: cheapest
// to hold, most expensive to page back in, so only the aggregates a
// caller explicitly routes here should land in this tier (typically
// compactions and archived history, per SPEC_FULL.md's hybrid-routing
// guidance).
package objecttier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/url"
	"strings"

	"memoryengine/internal/memory/store"
	"memoryengine/internal/objectstore"
)

// Bundle constructs a store.Bundle with every aggregate keyed under its
// own prefix inside the given object store, e.g.
// "<prefix>sessions/<urlencode(sessionId)>.json".
func Bundle(os objectstore.ObjectStore, prefix string) store.Bundle {
	return store.Bundle{
		Sessions:    &payloadAdapter[store.Session]{os: os, dir: prefix + "sessions"},
		Contexts:    &payloadAdapter[store.Context]{os: os, dir: prefix + "contexts"},
		Histories:   &payloadAdapter[[]store.HistoryMessage]{os: os, dir: prefix + "histories"},
		Compactions: &payloadAdapter[[]store.CompactionRecord]{os: os, dir: prefix + "compactions"},
		Tasks:       &taskAdapter{os: os, dir: prefix + "tasks"},
		SubTaskRuns: &payloadAdapter[store.SubTaskRunData]{os: os, dir: prefix + "subtask-runs"},
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

func keyFor(dir, id string) string { return dir + "/" + encode(id) + ".json" }

// payloadAdapter is a generic single-document-per-key adapter, the
// object-store analogue of the file adapter's loadAllKeyed helper.
type payloadAdapter[T any] struct {
	os  objectstore.ObjectStore
	dir string
}

func (a *payloadAdapter[T]) Prepare(ctx context.Context) error { return nil }

func (a *payloadAdapter[T]) LoadAll(ctx context.Context) (map[string]T, error) {
	out := make(map[string]T)
	var token string
	for {
		res, err := a.os.List(ctx, objectstore.ListOptions{Prefix: a.dir + "/", ContinuationToken: token})
		if err != nil {
			return nil, err
		}
		for _, obj := range res.Objects {
			base := strings.TrimPrefix(obj.Key, a.dir+"/")
			base = strings.TrimSuffix(base, ".json")
			key, ok := decode(base)
			if !ok {
				continue
			}
			rc, _, err := a.os.Get(ctx, obj.Key)
			if err != nil {
				continue
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				continue
			}
			var v T
			if err := json.Unmarshal(data, &v); err != nil {
				continue
			}
			out[key] = v
		}
		if !res.IsTruncated {
			break
		}
		token = res.NextContinuationToken
	}
	return out, nil
}

func (a *payloadAdapter[T]) Save(ctx context.Context, id string, v T) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = a.os.Put(ctx, keyFor(a.dir, id), bytes.NewReader(data), objectstore.PutOptions{ContentType: "application/json"})
	return err
}

func (a *payloadAdapter[T]) Delete(ctx context.Context, id string) error {
	return a.os.Delete(ctx, keyFor(a.dir, id))
}

func (a *payloadAdapter[T]) Close(ctx context.Context) error { return nil }

// taskAdapter saves a session's task list as one object, deleting it
// when the list becomes empty (same rule as the file adapter).
type taskAdapter struct {
	os  objectstore.ObjectStore
	dir string
}

func (a *taskAdapter) Prepare(ctx context.Context) error { return nil }

func (a *taskAdapter) LoadAll(ctx context.Context) (map[string][]store.TaskData, error) {
	inner := payloadAdapter[[]store.TaskData]{os: a.os, dir: a.dir}
	return inner.LoadAll(ctx)
}

func (a *taskAdapter) SaveBySession(ctx context.Context, sessionID string, tasks []store.TaskData) error {
	if len(tasks) == 0 {
		return a.os.Delete(ctx, keyFor(a.dir, sessionID))
	}
	inner := payloadAdapter[[]store.TaskData]{os: a.os, dir: a.dir}
	return inner.Save(ctx, sessionID, tasks)
}

func (a *taskAdapter) Close(ctx context.Context) error { return nil }

var (
	_ store.SessionPort     = (*payloadAdapter[store.Session])(nil)
	_ store.ContextPort     = (*payloadAdapter[store.Context])(nil)
	_ store.HistoryPort     = (*payloadAdapter[[]store.HistoryMessage])(nil)
	_ store.CompactionPort  = (*payloadAdapter[[]store.CompactionRecord])(nil)
	_ store.SubTaskRunPort  = (*payloadAdapter[store.SubTaskRunData])(nil)
	_ store.TaskPort        = (*taskAdapter)(nil)
)
