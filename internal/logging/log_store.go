package logging

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// LogEntry is a single stored log line.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// LogStore keeps a bounded in-memory window of recent log entries for the
// control plane's /api/logs endpoint. Connection and disconnection are
// logged here as status transitions, never broadcast as data.
type LogStore struct {
	mu      sync.RWMutex
	entries []LogEntry
	maxSize int
}

// NewLogStore creates a store keeping at most maxSize entries
// (0 = unlimited).
func NewLogStore(maxSize int) *LogStore {
	return &LogStore{maxSize: maxSize}
}

// Add stores one entry, evicting the oldest past maxSize.
func (ls *LogStore) Add(level, message string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.entries = append(ls.entries, LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	})
	if ls.maxSize > 0 && len(ls.entries) > ls.maxSize {
		ls.entries = ls.entries[len(ls.entries)-ls.maxSize:]
	}
}

// GetAll returns a copy of the stored entries.
func (ls *LogStore) GetAll() []LogEntry {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	out := make([]LogEntry, len(ls.entries))
	copy(out, ls.entries)
	return out
}

// LogAndStore writes to the process log and the store in one call.
func (ls *LogStore) LogAndStore(level, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	log.Print(message)
	ls.Add(level, message)
}
