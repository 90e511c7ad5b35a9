package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// DatabaseFiles returns the files SQLite keeps for the database at path in WAL mode.
func DatabaseFiles(path string) []string {
	if path == "" {
		return nil
	}
	return []string{path, path + "-wal", path + "-shm"}
}

// DiskUsage returns the bytes used by the database and its WAL files.
func (s *SQLiteStorage) DiskUsage() (int64, error) {
	return DiskUsageBytes(DatabaseFiles(s.path)...)
}

// DiskUsageBytes returns the total size in bytes of the given paths. A directory counts
// every regular file below it. Empty and missing paths contribute 0.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
