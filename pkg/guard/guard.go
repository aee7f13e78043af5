// Package guard allows a single active execution per workflow.
package guard

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// DefaultTTL bounds how long a run holds its workflow when no terminal message arrives.
const DefaultTTL = 30 * time.Minute

// Guard tracks the active execution of each workflow.
type Guard interface {
	// Acquire claims the workflow for executionID. It returns false when another run holds it.
	Acquire(ctx context.Context, workflowID int64, executionID string) (bool, error)
	Release(ctx context.Context, workflowID int64) error
	// Active returns the execution currently holding the workflow, if any.
	Active(ctx context.Context, workflowID int64) (string, bool, error)
}

func key(workflowID int64) string {
	return "flowdesk:execution:" + strconv.FormatInt(workflowID, 10)
}

type lease struct {
	executionID string
	expires     time.Time
}

// Memory is a process-local Guard.
type Memory struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	leases map[int64]lease
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Memory{ttl: ttl, now: time.Now, leases: make(map[int64]lease)}
}

func (m *Memory) Acquire(_ context.Context, workflowID int64, executionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if l, ok := m.leases[workflowID]; ok && now.Before(l.expires) {
		return false, nil
	}

	m.leases[workflowID] = lease{executionID: executionID, expires: now.Add(m.ttl)}

	return true, nil
}

func (m *Memory) Release(_ context.Context, workflowID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.leases, workflowID)

	return nil
}

func (m *Memory) Active(_ context.Context, workflowID int64) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leases[workflowID]
	if !ok || !m.now().Before(l.expires) {
		return "", false, nil
	}

	return l.executionID, true, nil
}
