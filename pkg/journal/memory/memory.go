// Package memory is an in-memory submission journal, intended for tests and
// for deployments that don't care about post-mortem diagnosis. Everything is
// lost on restart.
package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/echofm-labs/scrobble-engine-go/pkg/journal"
)

type MemoryJournal struct {
	mu       sync.RWMutex
	attempts map[string]*journal.Attempt
	closed   bool
}

var _ journal.ISubmissionJournal = (*MemoryJournal)(nil)

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		attempts: make(map[string]*journal.Attempt),
	}
}

func (m *MemoryJournal) RecordAttempt(attempt *journal.Attempt) error {
	if attempt == nil {
		return fmt.Errorf("cannot record nil attempt")
	}
	if attempt.ID == "" {
		return fmt.Errorf("attempt ID cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("journal is closed")
	}
	m.attempts[attempt.ID] = attempt.StampedNow().Clone()
	return nil
}

func (m *MemoryJournal) GetAttempt(id string) (*journal.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("journal is closed")
	}
	return m.attempts[id].Clone(), nil
}

func (m *MemoryJournal) ListAttempts() ([]*journal.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("journal is closed")
	}

	result := make([]*journal.Attempt, 0, len(m.attempts))
	for _, attempt := range m.attempts {
		result = append(result, attempt.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAtUnix == result[j].CreatedAtUnix {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAtUnix < result[j].CreatedAtUnix
	})
	return result, nil
}

func (m *MemoryJournal) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryJournal) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("journal is closed")
	}
	return nil
}
