package persist_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"quotefeed/internal/cache"
	"quotefeed/internal/persist"
)

func newCache(t *testing.T) *cache.Cache {
	t.Helper()
	return cache.New(cache.Config{Log: zerolog.Nop()})
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	src := newCache(t)
	require.NoError(t, src.Set("stocks:AAPL", []byte(`{"price":189.3}`), time.Hour, "stocks"))
	require.NoError(t, src.Set("crypto:BTC", []byte(`{"price":60000}`), time.Hour, "crypto"))

	snap, err := persist.NewSnapshotter(dir, src, zerolog.Nop())
	require.NoError(t, err)

	id, err := snap.Snapshot()
	require.NoError(t, err)
	require.NotEmpty(t, id)

	dst := newCache(t)
	restorer, err := persist.NewSnapshotter(dir, dst, zerolog.Nop())
	require.NoError(t, err)

	admitted, err := restorer.Restore(id)
	require.NoError(t, err)
	require.Equal(t, 2, admitted)

	payload, _, ok := dst.Get("stocks:AAPL")
	require.True(t, ok)
	require.Equal(t, []byte(`{"price":189.3}`), payload)
}

func TestRestoreLatest_NoSnapshotsIsNoop(t *testing.T) {
	t.Parallel()

	snap, err := persist.NewSnapshotter(t.TempDir(), newCache(t), zerolog.Nop())
	require.NoError(t, err)

	admitted, err := snap.RestoreLatest()
	require.NoError(t, err)
	require.Zero(t, admitted)
}

func TestRestore_RejectsTamperedSnapshot(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	src := newCache(t)
	require.NoError(t, src.Set("stocks:AAPL", []byte("genuine"), 0, "stocks"))
	snap, err := persist.NewSnapshotter(dir, src, zerolog.Nop())
	require.NoError(t, err)
	_, err = snap.Snapshot()
	require.NoError(t, err)

	// Garbage on disk must fail decoding, not admit junk.
	id := "snapshot-20990101-000000"
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".msgpack"), []byte("junk"), 0o644))

	dst := newCache(t)
	restorer, err := persist.NewSnapshotter(dir, dst, zerolog.Nop())
	require.NoError(t, err)
	_, err = restorer.Restore(id)
	require.Error(t, err)
}

func TestSnapshot_LeavesNoTempFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	src := newCache(t)
	require.NoError(t, src.Set("k", []byte("v"), 0, "misc"))
	snap, err := persist.NewSnapshotter(dir, src, zerolog.Nop())
	require.NoError(t, err)
	_, err = snap.Snapshot()
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp-*"))
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestRotate_RemovesOnlyExpiredSnapshots(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	c := newCache(t)
	require.NoError(t, c.Set("k", []byte("v"), 0, "misc"))
	snap, err := persist.NewSnapshotter(dir, c, zerolog.Nop())
	require.NoError(t, err)

	freshID, err := snap.Snapshot()
	require.NoError(t, err)

	oldID := "snapshot-20200101-000000"
	require.NoError(t, os.WriteFile(filepath.Join(dir, oldID+".msgpack"), []byte("old"), 0o644))

	removed, err := snap.Rotate(7)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = os.Stat(filepath.Join(dir, oldID+".msgpack"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, freshID+".msgpack"))
	require.NoError(t, err)
}

func TestLatestBackupID_PicksNewest(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	for _, id := range []string{"snapshot-20250101-000000", "snapshot-20250601-120000", "snapshot-20250301-000000"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, id+".msgpack"), []byte("x"), 0o644))
	}

	snap, err := persist.NewSnapshotter(dir, newCache(t), zerolog.Nop())
	require.NoError(t, err)

	latest, err := snap.LatestBackupID()
	require.NoError(t, err)
	require.Equal(t, "snapshot-20250601-120000", latest)
}
