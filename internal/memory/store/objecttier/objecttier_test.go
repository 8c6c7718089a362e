package objecttier

import (
	"context"
	"testing"
	"time"

	"memoryengine/internal/memory/store"
	"memoryengine/internal/objectstore"
)

func TestBundle_SessionRoundTrip(t *testing.T) {
	os := objectstore.NewMemoryStore()
	bundle := Bundle(os, "memory/")
	ctx := context.Background()

	if err := bundle.PrepareAll(ctx); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	s := store.Session{SessionID: "s1", SystemPrompt: "hi", Status: store.SessionActive, CreatedAt: time.Now()}
	if err := bundle.Sessions.Save(ctx, s.SessionID, s); err != nil {
		t.Fatalf("save session: %v", err)
	}

	loaded, err := bundle.Sessions.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	got, ok := loaded["s1"]
	if !ok {
		t.Fatalf("expected session s1 to round-trip, got %+v", loaded)
	}
	if got.SystemPrompt != "hi" {
		t.Fatalf("expected system prompt preserved, got %q", got.SystemPrompt)
	}
}

func TestBundle_TaskAdapterDeletesOnEmptyList(t *testing.T) {
	os := objectstore.NewMemoryStore()
	bundle := Bundle(os, "memory/")
	ctx := context.Background()

	tasks := []store.TaskData{{TaskID: "t1", SessionID: "s1", Status: "open"}}
	if err := bundle.Tasks.SaveBySession(ctx, "s1", tasks); err != nil {
		t.Fatalf("save tasks: %v", err)
	}
	loaded, err := bundle.Tasks.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load tasks: %v", err)
	}
	if len(loaded["s1"]) != 1 {
		t.Fatalf("expected one task persisted, got %+v", loaded)
	}

	if err := bundle.Tasks.SaveBySession(ctx, "s1", nil); err != nil {
		t.Fatalf("save empty tasks: %v", err)
	}
	loaded, err = bundle.Tasks.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load tasks after clearing: %v", err)
	}
	if _, ok := loaded["s1"]; ok {
		t.Fatalf("expected the task object to be deleted once the list is empty, got %+v", loaded)
	}
}

func TestBundle_IDsWithSpecialCharactersRoundTripViaURLEncoding(t *testing.T) {
	os := objectstore.NewMemoryStore()
	bundle := Bundle(os, "")
	ctx := context.Background()

	id := "session/with spaces+slashes"
	c := store.Context{SessionID: id, ContextID: "c1", Version: 1}
	if err := bundle.Contexts.Save(ctx, id, c); err != nil {
		t.Fatalf("save context: %v", err)
	}
	loaded, err := bundle.Contexts.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if _, ok := loaded[id]; !ok {
		t.Fatalf("expected id with special characters to round-trip through URL encoding, got keys %v", keys(loaded))
	}
}

func keys(m map[string]store.Context) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
