package tiered

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"memoryengine/internal/memory/store"
	"memoryengine/internal/memory/store/file"
)

func TestDefaultRoutingSendsContextToShortTermAndRestToMid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	shortDir := t.TempDir()
	midDir := t.TempDir()

	tiers := Tiers{
		ShortTerm: file.Bundle(shortDir),
		MidTerm:   file.Bundle(midDir),
		LongTerm:  store.Bundle{},
	}
	require.NoError(t, PrepareAll(ctx, tiers))

	b := Bundle(tiers, DefaultRouting())

	require.NoError(t, b.Contexts.Save(ctx, "s1", store.Context{SessionID: "s1"}))
	require.NoError(t, b.Sessions.Save(ctx, "s1", store.Session{SessionID: "s1"}))
	require.NoError(t, b.Histories.Save(ctx, "s1", []store.HistoryMessage{{SessionID: "s1", Sequence: 1}}))
	require.NoError(t, b.Compactions.Save(ctx, "s1", nil))
	require.NoError(t, b.Tasks.SaveBySession(ctx, "s1", nil))

	_, err := os.Stat(filepath.Join(shortDir, "contexts", "s1.json"))
	require.NoError(t, err, "context must land in the short-term tier")

	_, err = os.Stat(filepath.Join(midDir, "sessions", "s1.json"))
	require.NoError(t, err, "session must land in the mid-term tier")
	_, err = os.Stat(filepath.Join(midDir, "histories", "s1.json"))
	require.NoError(t, err, "history must land in the mid-term tier")

	_, err = os.Stat(filepath.Join(shortDir, "sessions"))
	require.True(t, os.IsNotExist(err), "session must not land in the short-term tier")

	require.NoError(t, CloseAll(ctx, tiers))
}

func TestLongTermUnusedByDefaultLeavesNoPath(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	longDir := t.TempDir()
	tiers := Tiers{
		ShortTerm: file.Bundle(t.TempDir()),
		MidTerm:   file.Bundle(t.TempDir()),
		LongTerm:  file.Bundle(longDir),
	}
	require.NoError(t, PrepareAll(ctx, tiers))

	b := Bundle(tiers, DefaultRouting())
	require.NoError(t, b.Contexts.Save(ctx, "s1", store.Context{SessionID: "s1"}))

	entries, err := os.ReadDir(filepath.Join(longDir, "contexts"))
	require.NoError(t, err)
	require.Empty(t, entries, "long-term tier is instantiated but unused unless routing opts in")
}
