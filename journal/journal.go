// Package journal records the lifecycle of detection executions in an
// append-only JSONL log: one entry when a run starts, one when it
// completes or fails. Files rotate by size under timestamped names and
// old files age out on a retention horizon.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// EntryType classifies a journal entry
type EntryType string

const (
	EntryStarted   EntryType = "started"
	EntryCompleted EntryType = "completed"
	EntryFailed    EntryType = "failed"
)

// Entry is a single journal line
type Entry struct {
	Timestamp   time.Time       `json:"timestamp"`
	Sequence    int64           `json:"sequence"`
	Type        EntryType       `json:"type"`
	ExecutionID string          `json:"execution_id,omitempty"`
	ModuleID    string          `json:"module_id,omitempty"`
	Data        json.RawMessage `json:"data"`
	Error       string          `json:"error,omitempty"`
}

// Config controls journal file management
type Config struct {
	FilePrefix    string
	MaxFileSize   int64
	RetentionDays int
}

// DefaultConfig rotates at 64 MiB and retains files for 90 days
func DefaultConfig() Config {
	return Config{
		FilePrefix:    "cloudtrim",
		MaxFileSize:   64 << 20,
		RetentionDays: 90,
	}
}

// Journal appends execution entries to the current file, rotating when
// it grows past the configured size
type Journal struct {
	mu       sync.Mutex
	config   Config
	dir      string
	file     *os.File
	writer   *bufio.Writer
	size     int64
	sequence int64
}

// Open creates or opens a journal in the directory with defaults
func Open(dir string) (*Journal, error) {
	return OpenWithConfig(dir, DefaultConfig())
}

// OpenWithConfig creates or opens a journal with explicit file management.
// Sequence numbers continue from the highest entry found in existing files.
func OpenWithConfig(dir string, config Config) (*Journal, error) {
	if config.FilePrefix == "" {
		config.FilePrefix = DefaultConfig().FilePrefix
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = DefaultConfig().MaxFileSize
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	j := &Journal{
		config:   config,
		dir:      dir,
		sequence: lastSequenceIn(listJournalFiles(dir, config.FilePrefix)),
	}

	if err := j.openFile(); err != nil {
		return nil, err
	}
	return j, nil
}

// Close flushes and closes the journal
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return err
	}
	return j.file.Close()
}

// Append adds an entry for an execution
func (j *Journal) Append(entryType EntryType, executionID, moduleID string, data any) error {
	return j.append(entryType, executionID, moduleID, data, nil)
}

// AppendError adds an entry recording why an execution failed
func (j *Journal) AppendError(entryType EntryType, executionID, moduleID string, data any, cause error) error {
	return j.append(entryType, executionID, moduleID, data, cause)
}

func (j *Journal) append(entryType EntryType, executionID, moduleID string, data any, cause error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	j.sequence++
	entry := Entry{
		Timestamp:   time.Now().UTC(),
		Sequence:    j.sequence,
		Type:        entryType,
		ExecutionID: executionID,
		ModuleID:    moduleID,
		Data:        jsonData,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	return j.writeEntry(entry)
}

// writeEntry writes one line and syncs for durability
func (j *Journal) writeEntry(entry Entry) error {
	if j.size >= j.config.MaxFileSize {
		if err := j.rotate(); err != nil {
			return err
		}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	n, err := j.writer.Write(line)
	if err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if _, err := j.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	j.size += int64(n) + 1

	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return j.file.Sync()
}

// rotate closes the current file and starts a new one. Sequence numbers
// keep counting across files.
func (j *Journal) rotate() error {
	if err := j.writer.Flush(); err != nil {
		return err
	}
	if err := j.file.Close(); err != nil {
		return err
	}
	return j.openFile()
}

// openFile opens the timestamped journal file for this moment. A burst
// of rotations can land on an existing name; appending keeps entries
// intact either way.
func (j *Journal) openFile() error {
	filename := fmt.Sprintf("%s-%s.journal", j.config.FilePrefix, time.Now().UTC().Format("20060102-150405.000"))
	path := filepath.Join(j.dir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open journal file: %w", err)
	}

	size := int64(0)
	if info, err := file.Stat(); err == nil {
		size = info.Size()
	}

	j.file = file
	j.writer = bufio.NewWriter(file)
	j.size = size
	return nil
}

// listJournalFiles returns the directory's journal files sorted by name.
// Timestamped names sort oldest first.
func listJournalFiles(dir, prefix string) []string {
	files, err := filepath.Glob(filepath.Join(dir, prefix+"-*.journal"))
	if err != nil {
		return nil
	}
	sort.Strings(files)
	return files
}

// lastSequenceIn scans files for the highest sequence number, skipping
// lines that fail to decode
func lastSequenceIn(files []string) int64 {
	var last int64
	for _, file := range files {
		reader, err := NewReader(file)
		if err != nil {
			continue
		}
		for {
			entry, err := reader.Next()
			if err != nil {
				break
			}
			if entry.Sequence > last {
				last = entry.Sequence
			}
		}
		_ = reader.Close()
	}
	return last
}

// Reader iterates the entries of one journal file
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader opens a journal file for reading
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path) // #nosec G304 -- journal paths come from our own directory listing
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	return &Reader{
		scanner: bufio.NewScanner(file),
		file:    file,
	}, nil
}

// Next reads the next entry, io.EOF at end of file
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return &entry, nil
}

// Close closes the reader
func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay calls handler for every entry after since, oldest file first
func Replay(dir string, since time.Time, handler func(*Entry) error) error {
	return ReplayWithConfig(dir, DefaultConfig(), since, handler)
}

// ReplayWithConfig is Replay under an explicit file prefix
func ReplayWithConfig(dir string, config Config, since time.Time, handler func(*Entry) error) error {
	for _, file := range listJournalFiles(dir, config.FilePrefix) {
		if err := replayFile(file, since, handler); err != nil {
			return err
		}
	}
	return nil
}

func replayFile(path string, since time.Time, handler func(*Entry) error) error {
	reader, err := NewReader(path)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	for {
		entry, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if entry.Timestamp.After(since) {
			if err := handler(entry); err != nil {
				return err
			}
		}
	}
}
