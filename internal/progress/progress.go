// Package progress defines the structured events emitted during sync runs
// and the reporter interface the orchestrator publishes them through.
//
// Reporters are injected into the orchestrator rather than discovered
// through a process-wide registry, so the orchestrator stays decoupled
// from its consumers (CLI, daemon log, dashboard). Delivery is
// at-least-once: consumers must tolerate duplicates.
package progress

import (
	"log"
	"time"

	"github.com/mirrorboard/ticketmirror/internal/schema"
)

// EventType identifies the kind of progress event.
type EventType string

const (
	// EventSyncStarted is emitted once when a session begins.
	EventSyncStarted EventType = "syncStarted"

	// EventEntityProgress is emitted at least every 10 fetched items
	// and once on each project's completion.
	EventEntityProgress EventType = "entityProgress"

	// EventSyncCompleted is emitted when a session finishes successfully
	// (possibly with recorded per-project errors).
	EventSyncCompleted EventType = "syncCompleted"

	// EventSyncFailed is emitted when a session aborts.
	EventSyncFailed EventType = "syncFailed"

	// EventSyncCancelled is emitted when a session is cancelled.
	EventSyncCancelled EventType = "syncCancelled"
)

// Event is one progress notification from a sync session.
type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id"`
	Timestamp time.Time   `json:"timestamp"`

	// Set for syncStarted.
	Kind        schema.SessionKind `json:"kind,omitempty"`
	EntityCount int                `json:"entity_count,omitempty"`

	// Set for entityProgress.
	Entity  string `json:"entity,omitempty"`
	Fetched int    `json:"fetched,omitempty"`
	Total   int    `json:"total,omitempty"`

	// Set for syncCompleted.
	Duration time.Duration `json:"duration_ms,omitempty"`

	// Set for syncFailed.
	Error string `json:"error,omitempty"`

	// Set for terminal events.
	Progress *schema.Progress `json:"progress,omitempty"`
}

// Reporter consumes progress events.
//
// Publish must not block for long: it is called from the sync hot path.
// Implementations that fan out over the network should buffer internally.
type Reporter interface {
	Publish(Event)
}

// Func adapts a plain function to the Reporter interface.
type Func func(Event)

// Publish implements Reporter.
func (f Func) Publish(ev Event) { f(ev) }

// Multi fans an event out to every reporter in order.
type Multi []Reporter

// Publish implements Reporter.
func (m Multi) Publish(ev Event) {
	for _, r := range m {
		r.Publish(ev)
	}
}

// Discard ignores all events.
var Discard Reporter = Func(func(Event) {})

// NewLogReporter returns a reporter that writes one line per event to
// logger. Useful for the daemon log and for debugging.
func NewLogReporter(logger *log.Logger) Reporter {
	return Func(func(ev Event) {
		switch ev.Type {
		case EventSyncStarted:
			logger.Printf("Sync %s started (%s, %d projects)", ev.SessionID, ev.Kind, ev.EntityCount)
		case EventEntityProgress:
			logger.Printf("Sync %s: %s %d/%d", ev.SessionID, ev.Entity, ev.Fetched, ev.Total)
		case EventSyncCompleted:
			logger.Printf("Sync %s completed in %s", ev.SessionID, ev.Duration.Round(time.Millisecond))
		case EventSyncFailed:
			logger.Printf("Sync %s FAILED: %s", ev.SessionID, ev.Error)
		case EventSyncCancelled:
			logger.Printf("Sync %s cancelled", ev.SessionID)
		}
	})
}
