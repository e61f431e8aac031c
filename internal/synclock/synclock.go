// Package synclock provides timeout-guarded mutual exclusion for sync runs.
//
// A lock older than its timeout is considered stale and is force-released
// by the next acquirer, so a crashed run can never wedge future syncs.
// Every acquired lock also auto-releases via an internal timer after its
// timeout, guarding against callers that never release.
package synclock

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// AlreadyLockedError is returned by Acquire when the key is held by a
// live (non-stale) lock.
type AlreadyLockedError struct {
	Key string
	Age time.Duration
}

func (e *AlreadyLockedError) Error() string {
	return fmt.Sprintf("lock %q is already held (age %s)", e.Key, e.Age.Round(time.Millisecond))
}

// lock is one held lock. The timer fires the auto-release.
type lock struct {
	key        string
	acquiredAt time.Time
	timeout    time.Duration
	timer      *time.Timer
}

// Manager tracks held locks by key. At most one live lock exists per key.
type Manager struct {
	mu     sync.Mutex
	locks  map[string]*lock
	logger *log.Logger
}

// NewManager creates a lock manager.
//
// If logger is nil, a default logger writing to stderr is used.
func NewManager(logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[synclock] ", log.LstdFlags)
	}
	return &Manager{
		locks:  make(map[string]*lock),
		logger: logger,
	}
}

// Acquire takes the lock for key.
//
// If the key is held and the holder is younger than timeout, Acquire fails
// with an *AlreadyLockedError that includes the holder's age. If the holder
// is stale (older than its own timeout), it is force-released first.
//
// The returned release function is idempotent and releases only the lock
// acquired by this call; it is a no-op once the auto-release timer has
// fired or a later acquirer has taken over the key.
func (m *Manager) Acquire(key string, timeout time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if held, ok := m.locks[key]; ok {
		age := time.Since(held.acquiredAt)
		if age <= held.timeout {
			return nil, &AlreadyLockedError{Key: key, Age: age}
		}
		m.logger.Printf("Force-releasing stale lock %q (age %s, timeout %s)", key, age.Round(time.Millisecond), held.timeout)
		m.releaseLocked(key, held)
	}

	l := &lock{
		key:        key,
		acquiredAt: time.Now(),
		timeout:    timeout,
	}
	l.timer = time.AfterFunc(timeout, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.locks[key] == l {
			m.logger.Printf("Auto-releasing lock %q after %s", key, timeout)
			m.releaseLocked(key, l)
		}
	})
	m.locks[key] = l

	release := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.locks[key] == l {
			m.releaseLocked(key, l)
		}
	}
	return release, nil
}

// Release releases the lock for key.
//
// Releasing an already-released or unknown key is a no-op.
func (m *Manager) Release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.locks[key]; ok {
		m.releaseLocked(key, held)
	}
}

// Held reports whether key currently has a live (non-stale) holder.
func (m *Manager) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	held, ok := m.locks[key]
	if !ok {
		return false
	}
	return time.Since(held.acquiredAt) <= held.timeout
}

// releaseLocked removes l from the table and stops its timer.
// Callers must hold m.mu.
func (m *Manager) releaseLocked(key string, l *lock) {
	l.timer.Stop()
	delete(m.locks, key)
}
