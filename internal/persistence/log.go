package persistence

import (
	"fmt"
	"time"

	"github.com/raymondclowe/ttslo/pkg/types"
)

var logHeader = []string{"timestamp", "level", "component", "config_id", "message", "details"}

// LogStore appends audit records to the append-only log CSV: each write
// is a single flush, never a rewrite.
type LogStore struct {
	path string
}

// NewLogStore builds a LogStore for the log file at path, writing the
// header if the file does not yet exist.
func NewLogStore(path string) (*LogStore, error) {
	if err := WriteHeaderIfMissing(path, logHeader); err != nil {
		return nil, fmt.Errorf("init log file: %w", err)
	}
	return &LogStore{path: path}, nil
}

// Append writes one log entry, defaulting Timestamp to now if unset.
func (s *LogStore) Append(entry types.LogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	line, err := renderCSVLine([]string{
		entry.Timestamp.Format(time.RFC3339),
		entry.Level,
		entry.Component,
		entry.ConfigID,
		entry.Message,
		entry.Details,
	})
	if err != nil {
		return fmt.Errorf("render log entry: %w", err)
	}
	return AppendLine(s.path, line)
}
