package migrate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// stagingPattern matches the local archives Migrate relays through. A
// migration removes its own file on every path, so a match older than a
// few minutes was left by a process that was killed mid-transfer.
const stagingPattern = "reef-migrate-*.tar.gz"

// StaleArchive is a leftover staging archive.
type StaleArchive struct {
	Path    string    `json:"path"`
	ModTime time.Time `json:"mod_time"`
	Size    int64     `json:"size"`
}

// FindStale lists staging archives in dir not modified within minAge.
func FindStale(dir string, minAge time.Duration) ([]StaleArchive, error) {
	matches, err := filepath.Glob(filepath.Join(dir, stagingPattern))
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-minAge)
	var stale []StaleArchive
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() || info.ModTime().After(cutoff) {
			continue
		}
		stale = append(stale, StaleArchive{Path: m, ModTime: info.ModTime(), Size: info.Size()})
	}
	return stale, nil
}

// CleanStale removes the given archives. Each one is re-checked first and
// skipped if it was modified since it was listed, since a migration may have
// started in the meantime. It returns the paths it skipped.
func CleanStale(archives []StaleArchive, minAge time.Duration) (skipped []string, err error) {
	cutoff := time.Now().Add(-minAge)
	var errs []error
	for _, a := range archives {
		info, statErr := os.Stat(a.Path)
		if os.IsNotExist(statErr) {
			continue
		}
		if statErr == nil && info.ModTime().After(cutoff) {
			skipped = append(skipped, a.Path)
			continue
		}
		if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return skipped, fmt.Errorf("removing staging archives: %w", errors.Join(errs...))
	}
	return skipped, nil
}

// FormatSize formats a byte count for humans, e.g. "1.5 MiB".
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
