package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultMaxJournalSize caps the live journal file before rotation.
	DefaultMaxJournalSize = 50 * 1024 * 1024
	journalExtension      = ".jsonl"
	archiveDir            = "archive"
)

// Entry is a single journal line.
type Entry struct {
	Timestamp  time.Time              `json:"timestamp"`
	EventType  string                 `json:"event_type"`
	PlaybackID string                 `json:"playback_id,omitempty"`
	SkillID    string                 `json:"skill_id,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// Journal is an append-only JSON-lines sink with size-based rotation.
// Files are created 0600 and their directory 0700; the journal records
// which keys were replayed when, which is not for other users' eyes.
type Journal struct {
	mu          sync.Mutex
	file        *os.File
	currentSize int64
	maxSize     int64
	path        string
	rotations   int
}

// ResolvePath expands a leading ~ and makes the journal path absolute.
func ResolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve journal path: %w", err)
	}
	return abs, nil
}

// NewJournal opens (or creates) the journal at path.
func NewJournal(path string, maxSize int64) (*Journal, error) {
	resolved, err := ResolvePath(path)
	if err != nil {
		return nil, err
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxJournalSize
	}

	j := &Journal{path: resolved, maxSize: maxSize}

	if err := os.MkdirAll(filepath.Dir(resolved), 0700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	if err := j.open(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) open() error {
	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat journal: %w", err)
	}

	j.file = file
	j.currentSize = stat.Size()
	return nil
}

// Record appends one entry built from an event type and details. Common
// identifiers are lifted out of details into their own columns.
func (j *Journal) Record(eventType string, details map[string]interface{}) error {
	entry := Entry{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Details:   details,
	}
	if id, ok := details["playback_id"].(string); ok {
		entry.PlaybackID = id
	}
	if id, ok := details["skill_id"].(string); ok {
		entry.SkillID = id
	}
	return j.Write(&entry)
}

// Write appends a structured entry as one JSON line.
func (j *Journal) Write(entry *Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	data = append(data, '\n')

	if j.currentSize+int64(len(data)) > j.maxSize {
		if err := j.rotate(); err != nil {
			return fmt.Errorf("rotate journal: %w", err)
		}
	}

	n, err := j.file.Write(data)
	if err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}

	j.currentSize += int64(n)
	return nil
}

func (j *Journal) rotate() error {
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}

	dir := filepath.Join(filepath.Dir(j.path), archiveDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	j.rotations++
	base := filepath.Base(j.path)
	stem := strings.TrimSuffix(base, journalExtension)
	name := fmt.Sprintf("%s.%s.%d%s", stem, time.Now().Format("20060102_150405"), j.rotations, journalExtension)

	if err := os.Rename(j.path, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("archive journal: %w", err)
	}
	return j.open()
}

// Close syncs and closes the journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	if err := j.file.Sync(); err != nil {
		return err
	}
	return j.file.Close()
}

// Path returns the resolved journal path.
func (j *Journal) Path() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.path
}
