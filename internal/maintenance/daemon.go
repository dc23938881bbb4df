// Package maintenance runs the background housekeeping cycle: expired-entry
// sweeps, byte-budget enforcement, cache snapshots and backup rotation.
package maintenance

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"quotefeed/internal/cache"
	"quotefeed/internal/persist"
)

const (
	DefaultSweepInterval = 5 * time.Minute

	// After this many consecutive panicking cycles the daemon escalates
	// from warn to error logging. It never stops scheduling; a wedged
	// cycle must not take cache hygiene down with it.
	panicAlertThreshold = 3
)

// Config tunes the daemon. Zero values take the defaults.
type Config struct {
	SweepInterval time.Duration
	RetentionDays int
}

// Daemon owns the cron scheduler. One cycle runs at a time; cron's
// SkipIfStillRunning wrapper drops overlapping ticks instead of queueing
// them.
type Daemon struct {
	cache   *cache.Cache
	snap    *persist.Snapshotter
	cfg     Config
	log     zerolog.Logger
	sched   *cron.Cron
	entryID cron.EntryID

	mu                sync.Mutex
	cycles            uint64
	consecutivePanics int
}

func NewDaemon(c *cache.Cache, snap *persist.Snapshotter, cfg Config, log zerolog.Logger) *Daemon {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = persist.DefaultRetentionDays
	}
	return &Daemon{
		cache: c,
		snap:  snap,
		cfg:   cfg,
		log:   log.With().Str("component", "maintenance").Logger(),
	}
}

// Start schedules the recurring cycle and returns. Calling Start twice is an
// error.
func (d *Daemon) Start() error {
	if d.sched != nil {
		return fmt.Errorf("maintenance daemon already started")
	}
	d.sched = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	id, err := d.sched.AddFunc(fmt.Sprintf("@every %s", d.cfg.SweepInterval), d.RunCycle)
	if err != nil {
		return fmt.Errorf("schedule maintenance cycle: %w", err)
	}
	d.entryID = id
	d.sched.Start()
	d.log.Info().Dur("interval", d.cfg.SweepInterval).Int("retention_days", d.cfg.RetentionDays).Msg("maintenance daemon started")
	return nil
}

// Stop halts scheduling and waits for an in-flight cycle to finish.
func (d *Daemon) Stop() {
	if d.sched == nil {
		return
	}
	ctx := d.sched.Stop()
	<-ctx.Done()
	d.log.Info().Msg("maintenance daemon stopped")
}

// RunCycle executes one full housekeeping pass. A panic in any step is
// recovered and logged; the scheduler keeps ticking.
func (d *Daemon) RunCycle() {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.mu.Lock()
			d.consecutivePanics++
			n := d.consecutivePanics
			d.mu.Unlock()
			ev := d.log.Warn()
			if n >= panicAlertThreshold {
				ev = d.log.Error()
			}
			ev.Interface("panic", r).Int("consecutive", n).Msg("maintenance cycle panicked")
		}
	}()

	swept := d.cache.SweepExpired()
	evicted := d.cache.EnforceBudget()

	backupID, err := d.snap.Snapshot()
	if err != nil {
		d.log.Warn().Err(err).Msg("cycle snapshot failed")
	}

	rotated, err := d.snap.Rotate(d.cfg.RetentionDays)
	if err != nil {
		d.log.Warn().Err(err).Msg("backup rotation failed")
	}

	d.mu.Lock()
	d.cycles++
	d.consecutivePanics = 0
	cycles := d.cycles
	d.mu.Unlock()

	d.log.Info().
		Uint64("cycle", cycles).
		Int("swept", swept).
		Int("evicted", evicted).
		Int("rotated", rotated).
		Str("backup_id", backupID).
		Dur("took", time.Since(start)).
		Msg("maintenance cycle complete")
}

// Cycles reports how many cycles have completed without panicking.
func (d *Daemon) Cycles() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cycles
}
