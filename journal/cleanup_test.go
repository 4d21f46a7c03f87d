package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCleanup_RemovesExpiredFiles(t *testing.T) {
	dir := t.TempDir()

	config := Config{
		FilePrefix:    "cloudtrim",
		MaxFileSize:   64 << 20,
		RetentionDays: 30,
	}

	j, err := OpenWithConfig(dir, config)
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	_ = j.Append(EntryStarted, "exec-1", "abandoned-resources", nil)
	_ = j.Close()

	// Fabricate an expired file alongside the fresh one
	oldPath := filepath.Join(dir, "cloudtrim-20200101-000000.000.journal")
	if err := os.WriteFile(oldPath, []byte("{}\n"), 0600); err != nil {
		t.Fatalf("Failed to write old file: %v", err)
	}
	oldTime := time.Now().AddDate(0, 0, -60)
	if err := os.Chtimes(oldPath, oldTime, oldTime); err != nil {
		t.Fatalf("Failed to backdate old file: %v", err)
	}

	stats, err := CleanupWithStats(dir, config)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	if stats.FilesRemoved != 1 {
		t.Errorf("FilesRemoved = %d, want 1", stats.FilesRemoved)
	}
	if stats.BytesFreed == 0 {
		t.Error("BytesFreed should be non-zero")
	}

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Error("Expired file should have been removed")
	}

	// Fresh file survives
	remaining, _ := filepath.Glob(filepath.Join(dir, "cloudtrim-*.journal"))
	if len(remaining) != 1 {
		t.Errorf("Expected 1 remaining file, got %d", len(remaining))
	}
}

func TestCleanup_NoExpiredFiles(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	_ = j.Append(EntryStarted, "exec-1", "abandoned-resources", nil)
	_ = j.Close()

	stats, err := CleanupWithStats(dir, DefaultConfig())
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if stats.FilesRemoved != 0 {
		t.Errorf("FilesRemoved = %d, want 0", stats.FilesRemoved)
	}
}

func TestCleanup_ZeroRetentionKeepsEverything(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	_ = j.Append(EntryStarted, "exec-1", "abandoned-resources", nil)
	_ = j.Close()

	config := DefaultConfig()
	config.RetentionDays = 0

	stats, err := CleanupWithStats(dir, config)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if stats.FilesRemoved != 0 {
		t.Errorf("Retention disabled: FilesRemoved = %d, want 0", stats.FilesRemoved)
	}
}

func TestJournalStats(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	defer func() { _ = j.Close() }()

	_ = j.Append(EntryStarted, "exec-1", "abandoned-resources", nil)
	_ = j.Append(EntryCompleted, "exec-1", "abandoned-resources", nil)

	stats := j.Stats()

	if stats.TotalFiles != 1 {
		t.Errorf("TotalFiles = %d, want 1", stats.TotalFiles)
	}
	if stats.EntryCount != 2 {
		t.Errorf("EntryCount = %d, want 2", stats.EntryCount)
	}
	if stats.FirstSequence != 1 {
		t.Errorf("FirstSequence = %d, want 1", stats.FirstSequence)
	}
	if stats.LastSequence != 2 {
		t.Errorf("LastSequence = %d, want 2", stats.LastSequence)
	}
	if stats.TotalSizeBytes == 0 {
		t.Error("TotalSizeBytes should be non-zero")
	}
}

func TestDirStats_EmptyDirectory(t *testing.T) {
	stats := DirStats(t.TempDir(), DefaultConfig())
	if stats.TotalFiles != 0 {
		t.Errorf("TotalFiles = %d, want 0", stats.TotalFiles)
	}
	if stats.EntryCount != 0 {
		t.Errorf("EntryCount = %d, want 0", stats.EntryCount)
	}
}
