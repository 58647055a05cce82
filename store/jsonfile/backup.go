// backup.go - Rotating per-collection snapshots.
//
// Before every write the prior on-disk bytes are copied to
// backups/<name>.<timestamp>.bak. The ten most recent snapshots per
// collection are kept; older ones are pruned after each snapshot.
package jsonfile

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/warp/classpoints/points"
)

const maxBackups = 10

// backupStamp formats timestamps so lexicographic order is chronological and
// the result is a legal filename on every platform.
const backupStamp = "2006-01-02T15-04-05.000"

func (s *Store) backupDir() string {
	return filepath.Join(s.dir, "backups")
}

// snapshotLocked writes one backup of the prior bytes and prunes. Caller
// holds the collection mutex.
func (s *Store) snapshotLocked(col points.Collection, prior []byte) error {
	base := strings.TrimSuffix(fileNames[col], ".json")
	name := base + "." + time.Now().UTC().Format(backupStamp) + ".bak"
	if err := os.WriteFile(filepath.Join(s.backupDir(), name), prior, 0o644); err != nil {
		return errors.Wrapf(err, "writing backup %s", name)
	}
	return s.pruneLocked(col)
}

// pruneLocked removes all but the maxBackups newest snapshots.
func (s *Store) pruneLocked(col points.Collection) error {
	backups := s.backupsNewestFirst(col)
	for _, stale := range backups[min(len(backups), maxBackups):] {
		if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "pruning backup %s", stale)
		}
	}
	return nil
}

// backupsNewestFirst lists this collection's snapshots, newest first.
func (s *Store) backupsNewestFirst(col points.Collection) []string {
	base := strings.TrimSuffix(fileNames[col], ".json")
	entries, err := os.ReadDir(s.backupDir())
	if err != nil {
		return nil
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, base+".") && strings.HasSuffix(name, ".bak") {
			paths = append(paths, filepath.Join(s.backupDir(), name))
		}
	}
	// Timestamps sort lexicographically; reverse for newest first.
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	return paths
}
