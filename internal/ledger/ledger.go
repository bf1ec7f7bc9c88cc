// Package ledger holds the durable record of occurrence identities that
// have already been notified. The file store is append-only: entries
// are never rewritten or removed, and growth is accepted.
package ledger

import (
	"errors"
	"io/fs"
	"os"
	"strings"
)

// ProcessedLedger is the dedup gate consulted before dispatching an
// occurrence. Record must only be called after a confirmed send.
type ProcessedLedger interface {
	Contains(id string) bool
	Record(id string) error
}

// FileLedger is a ProcessedLedger backed by a line-per-entry text
// file. The whole file is loaded into memory when opened; Record
// appends one line and updates the in-memory set on success, so later
// events in the same pass observe earlier writes.
type FileLedger struct {
	path string
	seen map[string]struct{}
}

// OpenFile loads the ledger at path. A missing file is an empty
// ledger, not an error. Duplicate lines are tolerated; the set
// collapses them.
func OpenFile(path string) (*FileLedger, error) {
	if path == "" {
		return nil, errors.New("ledger path is empty")
	}

	l := &FileLedger{path: path, seen: make(map[string]struct{})}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return l, nil
		}
		return nil, err
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		l.seen[line] = struct{}{}
	}
	return l, nil
}

func (l *FileLedger) Contains(id string) bool {
	_, ok := l.seen[id]
	return ok
}

// Record durably appends id to the store. Safe to call repeatedly for
// the same id. On write failure the in-memory set is left untouched so
// the caller does not mistake the occurrence for recorded.
func (l *FileLedger) Record(id string) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(id + "\n"); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	l.seen[id] = struct{}{}
	return nil
}

// Len reports the number of distinct recorded identities.
func (l *FileLedger) Len() int {
	return len(l.seen)
}

// MemoryLedger is an in-memory ProcessedLedger for tests and dry runs.
type MemoryLedger struct {
	seen map[string]struct{}
}

func NewMemory() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]struct{})}
}

func (l *MemoryLedger) Contains(id string) bool {
	_, ok := l.seen[id]
	return ok
}

func (l *MemoryLedger) Record(id string) error {
	l.seen[id] = struct{}{}
	return nil
}

func (l *MemoryLedger) Len() int {
	return len(l.seen)
}
