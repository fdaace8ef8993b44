package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SignalCore/internal/domain/models"
	domrepo "SignalCore/internal/domain/repository"
)

// MemoryEventLog is a process-local EventLog. Re-appending an id is a no-op.
type MemoryEventLog struct {
	mu     sync.RWMutex
	events []models.Envelope
	ids    map[string]struct{}
}

var _ domrepo.EventLog = (*MemoryEventLog)(nil)

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{ids: make(map[string]struct{})}
}

func (m *MemoryEventLog) Init(context.Context) error { return nil }

func (m *MemoryEventLog) Append(_ context.Context, env models.Envelope) error {
	if env.ID == "" || env.Type == "" {
		return fmt.Errorf("%w: envelope without id or type", models.ErrMalformed)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[env.ID]; ok {
		return nil
	}
	m.ids[env.ID] = struct{}{}
	m.events = append(m.events, env)
	return nil
}

// Replay iterates a snapshot, so fn may append without deadlocking.
func (m *MemoryEventLog) Replay(ctx context.Context, since time.Time, fn func(models.Envelope) error) error {
	m.mu.RLock()
	snapshot := make([]models.Envelope, len(m.events))
	copy(snapshot, m.events)
	m.mu.RUnlock()

	for _, env := range snapshot {
		if env.Timestamp.Before(since) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(env); err != nil {
			return err
		}
	}
	return nil
}

// Len reports the number of stored events.
func (m *MemoryEventLog) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

func (m *MemoryEventLog) Close() error { return nil }
