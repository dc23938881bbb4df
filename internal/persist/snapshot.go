// Package persist writes and restores cache snapshots: msgpack documents on
// disk, rotated on a retention schedule, each carrying enough bookkeeping to
// verify payload integrity on the way back in.
package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"quotefeed/internal/cache"
)

const (
	snapshotVersion = 1
	snapshotPrefix  = "snapshot-"
	snapshotExt     = ".msgpack"

	DefaultRetentionDays = 7
)

// document is the on-disk snapshot envelope.
type document struct {
	Version   int           `msgpack:"version"`
	CreatedAt time.Time     `msgpack:"created_at"`
	Entries   []cache.Entry `msgpack:"entries"`
}

// Snapshotter persists the cache's memory tier under a backup directory.
// Filenames embed a UTC timestamp so lexical order is chronological order.
type Snapshotter struct {
	dir   string
	cache *cache.Cache
	log   zerolog.Logger
}

func NewSnapshotter(dir string, c *cache.Cache, log zerolog.Logger) (*Snapshotter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir %s: %w", dir, err)
	}
	return &Snapshotter{
		dir:   dir,
		cache: c,
		log:   log.With().Str("component", "snapshot").Logger(),
	}, nil
}

// Snapshot writes all live entries to a new timestamped file and returns its
// backup ID. The file appears atomically: the document is written to a temp
// file in the same directory and renamed into place, so a crash mid-write
// never leaves a truncated snapshot behind.
func (s *Snapshotter) Snapshot() (string, error) {
	entries := s.cache.Export()
	doc := document{
		Version:   snapshotVersion,
		CreatedAt: time.Now().UTC(),
		Entries:   entries,
	}

	raw, err := msgpack.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	id := snapshotPrefix + doc.CreatedAt.Format("20060102-150405")
	final := filepath.Join(s.dir, id+snapshotExt)

	tmp, err := os.CreateTemp(s.dir, id+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("finalize snapshot: %w", err)
	}

	s.log.Info().Str("backup_id", id).Int("entries", len(entries)).Int("bytes", len(raw)).Msg("snapshot written")
	return id, nil
}

// Restore loads the named snapshot back into the cache. Entries whose
// payload no longer matches its recorded checksum are dropped rather than
// admitted. Returns the number of entries admitted.
func (s *Snapshotter) Restore(backupID string) (int, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, backupID+snapshotExt))
	if err != nil {
		return 0, fmt.Errorf("read snapshot %s: %w", backupID, err)
	}

	var doc document
	if err := msgpack.Unmarshal(raw, &doc); err != nil {
		return 0, fmt.Errorf("decode snapshot %s: %w", backupID, err)
	}
	if doc.Version != snapshotVersion {
		return 0, fmt.Errorf("snapshot %s: unsupported version %d", backupID, doc.Version)
	}

	admitted := s.cache.Import(doc.Entries)
	s.log.Info().
		Str("backup_id", backupID).
		Int("admitted", admitted).
		Int("discarded", len(doc.Entries)-admitted).
		Msg("snapshot restored")
	return admitted, nil
}

// RestoreLatest restores the most recent snapshot if any exists. Absence of
// snapshots is a clean no-op, not an error.
func (s *Snapshotter) RestoreLatest() (int, error) {
	id, err := s.LatestBackupID()
	if err != nil {
		return 0, err
	}
	if id == "" {
		return 0, nil
	}
	return s.Restore(id)
}

// LatestBackupID returns the newest snapshot's ID, or "" when none exist.
func (s *Snapshotter) LatestBackupID() (string, error) {
	ids, err := s.list()
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[len(ids)-1], nil
}

// Rotate deletes snapshots older than the retention window and returns the
// count removed.
func (s *Snapshotter) Rotate(retentionDays int) (int, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	ids, err := s.list()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		ts, err := time.Parse("20060102-150405", strings.TrimPrefix(id, snapshotPrefix))
		if err != nil {
			continue
		}
		if ts.After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, id+snapshotExt)); err != nil {
			s.log.Warn().Err(err).Str("backup_id", id).Msg("failed to remove expired snapshot")
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info().Int("removed", removed).Int("retention_days", retentionDays).Msg("rotated old snapshots")
	}
	return removed, nil
}

// list returns snapshot IDs sorted oldest first.
func (s *Snapshotter) list() ([]string, error) {
	glob := filepath.Join(s.dir, snapshotPrefix+"*"+snapshotExt)
	paths, err := filepath.Glob(glob)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	ids := make([]string, 0, len(paths))
	for _, p := range paths {
		ids = append(ids, strings.TrimSuffix(filepath.Base(p), snapshotExt))
	}
	sort.Strings(ids)
	return ids, nil
}
