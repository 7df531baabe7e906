package watch

import (
	"context"
	"sync"
	"time"
)

// FileState identifies one version of a file. A file whose state matches
// the recorded one is not handled again.
type FileState struct {
	ModTime time.Time
	Size    int64
}

// Equal reports whether two states describe the same file version.
func (s FileState) Equal(o FileState) bool {
	return s.Size == o.Size && s.ModTime.Equal(o.ModTime)
}

// Ledger records which file versions have been handled.
type Ledger interface {
	// Seen returns the last recorded state of path.
	Seen(ctx context.Context, path string) (FileState, bool, error)

	// Mark records state as handled for path.
	Mark(ctx context.Context, path string, state FileState) error
}

// MemoryLedger keeps handled file states for the life of the process.
type MemoryLedger struct {
	mu    sync.Mutex
	files map[string]FileState
}

// NewMemoryLedger returns an empty in-process ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{files: make(map[string]FileState)}
}

// Seen implements Ledger.
func (l *MemoryLedger) Seen(_ context.Context, path string) (FileState, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.files[path]
	return s, ok, nil
}

// Mark implements Ledger.
func (l *MemoryLedger) Mark(_ context.Context, path string, state FileState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.files[path] = state
	return nil
}
