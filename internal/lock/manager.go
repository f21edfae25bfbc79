package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"
)

// Manager implements acquire/release/status over a Backend. It is safe for
// concurrent use; exclusivity is delegated to the backend's atomic create.
type Manager struct {
	backend Backend
	timeout time.Duration
	now     func() time.Time // injectable for tests
}

// NewManager creates a manager. timeout is how long a lock may be held
// before any new acquirer can reclaim it; zero disables reclamation.
func NewManager(backend Backend, timeout time.Duration) *Manager {
	return &Manager{
		backend: backend,
		timeout: timeout,
		now:     time.Now,
	}
}

// Acquire takes the lock on resource for holder.
//
// Same-holder re-acquire is idempotent and returns the existing lock.
// A different unexpired holder yields *ConflictError naming that holder and
// the lock's age. An expired lock is reclaimed (logged) and ownership passes
// to the new acquirer.
func (m *Manager) Acquire(ctx context.Context, resource, holder string) (*Lock, error) {
	if holder == "" {
		return nil, fmt.Errorf("holder cannot be empty")
	}
	resource = Normalize(resource)

	candidate := &Lock{
		Resource:   resource,
		Holder:     holder,
		AcquiredAt: m.now().UTC(),
		Timeout:    m.timeout,
	}

	existing, created, err := m.backend.TryCreate(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock on '%s': %w", resource, err)
	}
	if created {
		m.logEvent("lock_acquired", map[string]interface{}{
			"resource": resource,
			"holder":   holder,
		})
		return candidate, nil
	}

	// Idempotent re-acquire by the same holder.
	if existing.Holder == holder {
		return existing, nil
	}

	// Expired locks are reclaimable by anyone.
	if existing.Expired(m.now()) {
		m.logEvent("lock_reclaimed", map[string]interface{}{
			"resource":        resource,
			"expired_holder":  existing.Holder,
			"new_holder":      holder,
			"held_for_ms":     existing.Age(m.now()).Milliseconds(),
		})
		if err := m.backend.Delete(ctx, resource); err != nil {
			return nil, fmt.Errorf("failed to reclaim expired lock on '%s': %w", resource, err)
		}

		existing, created, err = m.backend.TryCreate(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock on '%s': %w", resource, err)
		}
		if created {
			return candidate, nil
		}
		// Another acquirer won the reclaim race; fall through to conflict.
	}

	return nil, &ConflictError{
		Resource: resource,
		Holder:   existing.Holder,
		Age:      existing.Age(m.now()),
	}
}

// Release removes holder's lock on resource. Releasing a resource held by
// someone else fails loudly with *NotOwnerError; releasing an unlocked
// resource fails with *NotHeldError.
func (m *Manager) Release(ctx context.Context, resource, holder string) error {
	resource = Normalize(resource)

	existing, err := m.backend.Get(ctx, resource)
	if err != nil {
		return fmt.Errorf("failed to inspect lock on '%s': %w", resource, err)
	}
	if existing == nil {
		return &NotHeldError{Resource: resource}
	}
	if existing.Holder != holder {
		return &NotOwnerError{Resource: resource, Holder: existing.Holder, Requester: holder}
	}

	if err := m.backend.Delete(ctx, resource); err != nil {
		return fmt.Errorf("failed to release lock on '%s': %w", resource, err)
	}

	m.logEvent("lock_released", map[string]interface{}{
		"resource": resource,
		"holder":   holder,
	})
	return nil
}

// Status lists every lock record, expired ones included, sorted by resource.
func (m *Manager) Status(ctx context.Context) ([]*Lock, error) {
	locks, err := m.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list locks: %w", err)
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].Resource < locks[j].Resource })
	return locks, nil
}

// Cleanup removes every expired lock and returns how many were reclaimed.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	locks, err := m.backend.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list locks: %w", err)
	}

	removed := 0
	for _, l := range locks {
		if !l.Expired(m.now()) {
			continue
		}
		if err := m.backend.Delete(ctx, l.Resource); err != nil {
			return removed, fmt.Errorf("failed to remove expired lock on '%s': %w", l.Resource, err)
		}
		m.logEvent("lock_expired_removed", map[string]interface{}{
			"resource": l.Resource,
			"holder":   l.Holder,
		})
		removed++
	}
	return removed, nil
}

// logEvent logs a structured event in JSON format.
func (m *Manager) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = m.now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "lock_manager"
	data["event_type"] = eventType

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[LockManager] Failed to marshal log event: %v", err)
		return
	}
	log.Println(string(jsonData))
}
