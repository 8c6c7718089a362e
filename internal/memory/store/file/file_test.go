package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"memoryengine/internal/memory/atomicio"
	"memoryengine/internal/memory/store"
)

func TestFileAdapterSessionRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := Bundle(t.TempDir())
	require.NoError(t, b.Sessions.Prepare(ctx))

	s := store.Session{SessionID: "s1", SystemPrompt: "p", Status: store.SessionActive}
	require.NoError(t, b.Sessions.Save(ctx, "s1", s))

	all, err := b.Sessions.LoadAll(ctx)
	require.NoError(t, err)
	require.Equal(t, s, all["s1"])
}

func TestFileAdapterURLEncodesKeysWithSlashes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	b := Bundle(dir)
	require.NoError(t, b.Contexts.Prepare(ctx))

	sid := "weird/session:id"
	require.NoError(t, b.Contexts.Save(ctx, sid, store.Context{SessionID: sid}))

	entries, err := os.ReadDir(filepath.Join(dir, "contexts"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotContains(t, entries[0].Name(), "/")

	all, err := b.Contexts.LoadAll(ctx)
	require.NoError(t, err)
	require.Contains(t, all, sid)
}

func TestTaskListSortedAndEmptyListDeletesFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	b := Bundle(dir)
	require.NoError(t, b.Tasks.Prepare(ctx))

	now := time.Now()
	tasks := []store.TaskData{
		{TaskID: "t2", SessionID: "s1", CreatedAt: now.Add(time.Minute)},
		{TaskID: "t1", SessionID: "s1", CreatedAt: now},
	}
	require.NoError(t, b.Tasks.SaveBySession(ctx, "s1", tasks))

	all, err := b.Tasks.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all["s1"], 2)
	require.Equal(t, "t1", all["s1"][0].TaskID)
	require.Equal(t, "t2", all["s1"][1].TaskID)

	require.NoError(t, b.Tasks.SaveBySession(ctx, "s1", nil))
	_, err = os.Stat(filepath.Join(dir, "tasks", "task-list-s1.json"))
	require.True(t, os.IsNotExist(err))
}

func TestLegacySubTaskRunFileInTasksDirIsIgnored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	b := Bundle(dir)
	require.NoError(t, b.Tasks.Prepare(ctx))

	// A sub-task-run file incorrectly placed in tasks/ must not surface
	// as a task list, and must not be migrated.
	path := filepath.Join(dir, "tasks", "subtask-run-r1.json")
	require.NoError(t, atomicio.WriteJSON(path, store.SubTaskRunData{RunID: "r1"}))

	all, err := b.Tasks.LoadAll(ctx)
	require.NoError(t, err)
	require.Empty(t, all)

	_, err = os.Stat(path)
	require.NoError(t, err, "legacy file must remain in place, unmigrated")
}

func TestCorruptContextFileRecoversFromBackup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	b := Bundle(dir)
	require.NoError(t, b.Contexts.Prepare(ctx))

	good := store.Context{SessionID: "s1", Messages: []store.Message{{MessageID: "u1", Role: store.RoleUser, Content: "hello"}}}
	require.NoError(t, b.Contexts.Save(ctx, "s1", good))
	require.NoError(t, b.Contexts.Save(ctx, "s1", good)) // second write creates .bak

	path := filepath.Join(dir, "contexts", "s1.json")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	all, err := b.Contexts.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all["s1"].Messages, 1)
	require.Equal(t, "hello", all["s1"].Messages[0].Content)

	matches, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, matches, 1)
}
