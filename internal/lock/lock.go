// Package lock provides mutual exclusion over shared resources (files and
// modules) for concurrent executions. Acquisition relies on the backend's
// atomic create-new-or-fail primitive, so there is no check-then-use window.
//
// Two backends implement the same contract: a local filesystem backend using
// exclusive file creation, and a Redis backend using SET NX with
// instance-namespaced keys. Locks carry an acquisition timestamp and a
// timeout; a lock past its timeout is reclaimable by any new acquirer.
package lock

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Lock records exclusive ownership of one resource.
type Lock struct {
	Resource   string        `json:"resource"`    // normalized path
	Holder     string        `json:"holder"`      // owning execution/story identifier
	AcquiredAt time.Time     `json:"acquired_at"` // UTC
	Timeout    time.Duration `json:"timeout"`     // reclaimable after AcquiredAt+Timeout
}

// Age returns how long the lock has been held.
func (l *Lock) Age(now time.Time) time.Duration {
	return now.Sub(l.AcquiredAt)
}

// Expired reports whether the lock is past its timeout and therefore
// reclaimable by a new acquirer.
func (l *Lock) Expired(now time.Time) bool {
	return l.Timeout > 0 && now.After(l.AcquiredAt.Add(l.Timeout))
}

// ConflictError is returned when a resource is already held by another,
// unexpired holder. It names the current holder and the lock's age so the
// caller can decide whether to wait or escalate.
type ConflictError struct {
	Resource string
	Holder   string
	Age      time.Duration
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("resource '%s' is locked by '%s' (held for %s)",
		e.Resource, e.Holder, e.Age.Round(time.Second))
}

// NotOwnerError is returned when a release is attempted by someone other
// than the current holder.
type NotOwnerError struct {
	Resource  string
	Holder    string // current owner
	Requester string
}

func (e *NotOwnerError) Error() string {
	return fmt.Sprintf("cannot release '%s': held by '%s', not by '%s'",
		e.Resource, e.Holder, e.Requester)
}

// NotHeldError is returned when releasing a resource that is not locked.
type NotHeldError struct {
	Resource string
}

func (e *NotHeldError) Error() string {
	return fmt.Sprintf("no lock held on '%s'", e.Resource)
}

// Normalize canonicalizes a resource identifier so that "./src/x.js" and
// "src//x.js" contend for the same lock.
func Normalize(resource string) string {
	cleaned := filepath.ToSlash(filepath.Clean(resource))
	return strings.TrimPrefix(cleaned, "./")
}

// Backend is the storage contract the manager coordinates through. TryCreate
// must be atomic: exactly one concurrent caller may create the lock record.
type Backend interface {
	// TryCreate atomically stores l if no record exists for the resource.
	// Returns created=true on success, or the existing lock on contention.
	TryCreate(ctx context.Context, l *Lock) (existing *Lock, created bool, err error)

	// Get returns the current lock, or nil when the resource is unlocked.
	Get(ctx context.Context, resource string) (*Lock, error)

	// Delete removes the lock record. Deleting an absent record is not an
	// error; the manager performs ownership checks before calling this.
	Delete(ctx context.Context, resource string) error

	// List returns all lock records, expired ones included.
	List(ctx context.Context) ([]*Lock, error)
}
