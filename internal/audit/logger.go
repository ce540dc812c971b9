package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger keeps a bounded in-memory trail of tool invocations and, when a
// file is configured, appends each entry to it as a JSON line.
type Logger struct {
	maxEntries   int
	maxResultLen int
	entries      []*Entry
	file         *os.File
	mu           sync.RWMutex
}

// Config holds audit logger configuration.
type Config struct {
	// File receives one JSON object per line. Empty keeps entries in memory only.
	File         string
	MaxEntries   int
	MaxResultLen int
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig() Config {
	return Config{
		MaxEntries:   10000,
		MaxResultLen: 1000,
	}
}

// NewLogger creates a new audit logger.
func NewLogger(cfg Config) (*Logger, error) {
	def := DefaultConfig()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.MaxResultLen <= 0 {
		cfg.MaxResultLen = def.MaxResultLen
	}

	l := &Logger{
		maxEntries:   cfg.MaxEntries,
		maxResultLen: cfg.MaxResultLen,
	}

	if cfg.File != "" {
		// 0700 / 0600: entries may contain file contents
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0700); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		l.file = f
	}
	return l, nil
}

// Log records a new audit entry. A nil Logger discards it.
func (l *Logger) Log(entry *Entry) error {
	if l == nil || entry == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Args = SanitizeArgs(entry.Args)
	entry.Result = TruncateResult(entry.Result, l.maxResultLen)

	l.entries = append(l.entries, entry)
	if len(l.entries) > l.maxEntries {
		l.entries = l.entries[len(l.entries)-l.maxEntries:]
	}

	if l.file == nil {
		return nil
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// Query retrieves entries matching the filter, oldest first.
func (l *Logger) Query(filter QueryFilter) []*Entry {
	if l == nil {
		return nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var results []*Entry
	for _, entry := range l.entries {
		if entry.Matches(filter) {
			results = append(results, entry)
			if filter.Limit > 0 && len(results) >= filter.Limit {
				break
			}
		}
	}
	return results
}

// GetRecent returns the most recent n entries, newest first.
func (l *Logger) GetRecent(n int) []*Entry {
	if l == nil || n <= 0 {
		return nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > len(l.entries) {
		n = len(l.entries)
	}
	results := make([]*Entry, n)
	for i := 0; i < n; i++ {
		results[i] = l.entries[len(l.entries)-1-i]
	}
	return results
}

// Len returns the number of entries.
func (l *Logger) Len() int {
	if l == nil {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Stats holds audit statistics.
type Stats struct {
	TotalEntries  int
	SuccessCount  int
	ErrorCount    int
	AvgDuration   time.Duration
	ToolBreakdown map[string]int
}

// Stats returns audit statistics.
func (l *Logger) Stats() Stats {
	stats := Stats{ToolBreakdown: make(map[string]int)}
	if l == nil {
		return stats
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var total int64
	for _, entry := range l.entries {
		stats.ToolBreakdown[entry.ToolName]++
		if entry.Success {
			stats.SuccessCount++
		} else {
			stats.ErrorCount++
		}
		total += entry.DurationMs
	}
	stats.TotalEntries = len(l.entries)
	if len(l.entries) > 0 {
		stats.AvgDuration = time.Duration(total/int64(len(l.entries))) * time.Millisecond
	}
	return stats
}

// Close closes the audit file, if any.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
