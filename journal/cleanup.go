package journal

import (
	"fmt"
	"os"
	"time"
)

// Cleanup removes journal files older than the retention period
func Cleanup(dir string, config Config) error {
	files := listExpiredFiles(dir, config)
	return removeFiles(files)
}

// CleanupStats reports what a cleanup removed
type CleanupStats struct {
	FilesRemoved  int
	BytesFreed    int64
	OldestRemoved time.Time
	NewestRemoved time.Time
}

// CleanupWithStats removes expired files and reports what went
func CleanupWithStats(dir string, config Config) (CleanupStats, error) {
	stats := CleanupStats{}
	files := listExpiredFiles(dir, config)

	if len(files) == 0 {
		return stats, nil
	}

	stats.FilesRemoved = len(files)
	stats.BytesFreed = totalSize(files)
	stats.OldestRemoved, stats.NewestRemoved = modTimeRange(files)

	err := removeFiles(files)
	return stats, err
}

// listExpiredFiles finds journal files past the retention period.
// RetentionDays <= 0 disables expiry.
func listExpiredFiles(dir string, config Config) []string {
	if config.RetentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -config.RetentionDays)

	var expired []string
	for _, file := range listJournalFiles(dir, config.FilePrefix) {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			expired = append(expired, file)
		}
	}
	return expired
}

func removeFiles(files []string) error {
	for _, file := range files {
		if err := os.Remove(file); err != nil {
			return fmt.Errorf("failed to remove %s: %w", file, err)
		}
	}
	return nil
}

// totalSize sums file sizes
func totalSize(files []string) int64 {
	var total int64
	for _, file := range files {
		if info, err := os.Stat(file); err == nil {
			total += info.Size()
		}
	}
	return total
}

// modTimeRange returns the oldest and newest modification times
func modTimeRange(files []string) (oldest, newest time.Time) {
	for i, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}

		modTime := info.ModTime()
		if i == 0 {
			oldest, newest = modTime, modTime
			continue
		}
		if modTime.Before(oldest) {
			oldest = modTime
		}
		if modTime.After(newest) {
			newest = modTime
		}
	}
	return oldest, newest
}
