package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/odvcencio/visitbridge/pkg/telemetry"
)

// Level represents journal entry severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// Entry is one line of a session journal.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	EventType string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	VisitID   string         `json:"visit_id,omitempty"`
	Location  string         `json:"location,omitempty"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Journal appends session lifecycle entries to JSONL files: one file per
// session under sessions/ and a shared errors.jsonl for error entries.
type Journal struct {
	baseDir   string
	errorFile *os.File
	sessions  map[string]*os.File
	minLevel  Level
	mu        sync.Mutex
	closed    bool
}

// NewJournal creates the journal directory layout under baseDir.
func NewJournal(baseDir string) (*Journal, error) {
	sessionsDir := filepath.Join(baseDir, "sessions")
	if err := os.MkdirAll(sessionsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	errorFile, err := os.OpenFile(
		filepath.Join(baseDir, "errors.jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0644,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}

	return &Journal{
		baseDir:   baseDir,
		errorFile: errorFile,
		sessions:  make(map[string]*os.File),
		minLevel:  LevelInfo,
	}, nil
}

// JournalLevel maps a logger level onto the journal's levels.
func JournalLevel(l slog.Level) Level {
	switch {
	case l >= slog.LevelError:
		return LevelError
	case l >= slog.LevelWarn:
		return LevelWarn
	case l >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

// SetMinLevel sets the minimum recorded level.
func (j *Journal) SetMinLevel(level Level) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.minLevel = level
}

// SessionPath returns the journal file path for a session.
func (j *Journal) SessionPath(sessionID string) string {
	if sessionID == "" {
		sessionID = "host"
	}
	return filepath.Join(j.baseDir, "sessions", sessionID+".jsonl")
}

// Record writes an entry to the session file and, for errors, to errors.jsonl.
func (j *Journal) Record(entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if levelRank[entry.Level] < levelRank[j.minLevel] {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	data = append(data, '\n')

	file, err := j.sessionFileLocked(entry.SessionID)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write to session log: %w", err)
	}

	if entry.Level == LevelError {
		if _, err := j.errorFile.Write(data); err != nil {
			return fmt.Errorf("failed to write to error log: %w", err)
		}
	}
	return nil
}

// Consume records events from a telemetry subscription until the channel closes.
func (j *Journal) Consume(events <-chan telemetry.Event) {
	for event := range events {
		_ = j.Record(EntryFromEvent(event))
	}
}

// EntryFromEvent converts a telemetry event into a journal entry.
func EntryFromEvent(event telemetry.Event) Entry {
	level := LevelInfo
	switch {
	case event.IsError():
		level = LevelError
	case event.Type == telemetry.EventProgressShown || event.Type == telemetry.EventProgressHidden:
		level = LevelDebug
	case event.Type == telemetry.EventSessionReset || event.Type == telemetry.EventPageInvalidated:
		level = LevelWarn
	}
	return Entry{
		Timestamp: event.Timestamp,
		Level:     level,
		EventType: string(event.Type),
		SessionID: event.SessionID,
		VisitID:   event.VisitID,
		Location:  event.Location,
		Details:   event.Data,
	}
}

func (j *Journal) sessionFileLocked(sessionID string) (*os.File, error) {
	if file, ok := j.sessions[sessionID]; ok {
		return file, nil
	}
	file, err := os.OpenFile(j.SessionPath(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	j.sessions[sessionID] = file
	return file, nil
}

// Close closes all journal files.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true

	var errs []error
	for id, file := range j.sessions {
		if err := file.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(j.sessions, id)
	}
	if err := j.errorFile.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing journal files: %v", errs)
	}
	return nil
}

// ReadRecentEvents reads the last count entries from a journal file.
func ReadRecentEvents(path string, count int) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
		if count > 0 && len(entries) > count {
			entries = entries[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	return entries, nil
}
