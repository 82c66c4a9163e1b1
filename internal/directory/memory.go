// internal/directory/memory.go
package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/proall22/library-management-system/internal/circulation"
)

// Memory is an in-memory member directory, used by tests and standalone
// deployments without a membership service.
type Memory struct {
	mu      sync.RWMutex
	members map[uuid.UUID]circulation.Member
}

func NewMemory() *Memory {
	return &Memory{members: make(map[uuid.UUID]circulation.Member)}
}

// Add registers a member, generating an id when none is set, and returns it.
func (d *Memory) Add(m circulation.Member) circulation.Member {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	d.mu.Lock()
	d.members[m.ID] = m
	d.mu.Unlock()
	return m
}

// SetStatus updates a member's standing.
func (d *Memory) SetStatus(id uuid.UUID, status circulation.MemberStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.members[id]
	if !ok {
		return fmt.Errorf("member %s: %w", id, circulation.ErrNotFound)
	}
	m.Status = status
	d.members[id] = m
	return nil
}

// Member implements circulation.Directory.
func (d *Memory) Member(ctx context.Context, id uuid.UUID) (*circulation.Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.members[id]
	if !ok {
		return nil, circulation.ErrNotFound
	}
	return &m, nil
}
