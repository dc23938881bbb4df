package maintenance_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"quotefeed/internal/cache"
	"quotefeed/internal/maintenance"
	"quotefeed/internal/persist"
)

func TestRunCycle_SweepsAndSnapshots(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	qc := cache.New(cache.Config{Log: zerolog.Nop()})
	require.NoError(t, qc.Set("stocks:DEAD", []byte("1"), time.Millisecond, "stocks"))
	require.NoError(t, qc.Set("stocks:LIVE", []byte("2"), time.Hour, "stocks"))
	time.Sleep(10 * time.Millisecond)

	snap, err := persist.NewSnapshotter(dir, qc, zerolog.Nop())
	require.NoError(t, err)

	d := maintenance.NewDaemon(qc, snap, maintenance.Config{}, zerolog.Nop())
	d.RunCycle()

	require.Equal(t, uint64(1), d.Cycles())

	_, _, ok := qc.Get("stocks:DEAD")
	require.False(t, ok, "expired entry must be swept")
	_, _, ok = qc.Get("stocks:LIVE")
	require.True(t, ok)

	snapshots, err := filepath.Glob(filepath.Join(dir, "snapshot-*.msgpack"))
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
}

func TestRunCycle_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	snap, err := persist.NewSnapshotter(t.TempDir(), cache.New(cache.Config{Log: zerolog.Nop()}), zerolog.Nop())
	require.NoError(t, err)

	// A nil cache makes the first step of the cycle panic.
	d := maintenance.NewDaemon(nil, snap, maintenance.Config{}, zerolog.Nop())
	require.NotPanics(t, d.RunCycle)
	require.Zero(t, d.Cycles())

	// The daemon stays usable after a panicking cycle.
	require.NotPanics(t, d.RunCycle)
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	qc := cache.New(cache.Config{Log: zerolog.Nop()})
	snap, err := persist.NewSnapshotter(t.TempDir(), qc, zerolog.Nop())
	require.NoError(t, err)

	d := maintenance.NewDaemon(qc, snap, maintenance.Config{SweepInterval: time.Hour}, zerolog.Nop())
	require.NoError(t, d.Start())
	require.Error(t, d.Start(), "double start must be rejected")
	d.Stop()
}
