package journal

import (
	"io"
	"time"
)

// Stats summarizes a journal directory
type Stats struct {
	TotalFiles      int
	TotalSizeBytes  int64
	OldestFile      time.Time
	NewestFile      time.Time
	CurrentFileSize int64

	FirstSequence int64
	LastSequence  int64
	EntryCount    int64
}

// Stats reports on the open journal and its directory
func (j *Journal) Stats() Stats {
	j.mu.Lock()
	defer j.mu.Unlock()

	stats := DirStats(j.dir, j.config)
	stats.LastSequence = j.sequence
	stats.CurrentFileSize = j.size
	return stats
}

// DirStats summarizes a journal directory without an open journal
func DirStats(dir string, config Config) Stats {
	stats := Stats{}

	files := listJournalFiles(dir, config.FilePrefix)
	if len(files) == 0 {
		return stats
	}

	stats.TotalFiles = len(files)
	stats.TotalSizeBytes = totalSize(files)
	stats.OldestFile, stats.NewestFile = modTimeRange(files)
	stats.FirstSequence, stats.LastSequence, stats.EntryCount = sequenceRange(files)
	return stats
}

// sequenceRange scans every file for the sequence span and entry count,
// skipping lines that fail to decode
func sequenceRange(files []string) (first, last, count int64) {
	for _, file := range files {
		reader, err := NewReader(file)
		if err != nil {
			continue
		}
		for {
			entry, err := reader.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				continue
			}
			count++
			if first == 0 || entry.Sequence < first {
				first = entry.Sequence
			}
			if entry.Sequence > last {
				last = entry.Sequence
			}
		}
		_ = reader.Close()
	}
	return first, last, count
}
