// Package schema provides the shared data structures for ticketmirror.
package schema

import (
	"fmt"
	"time"
)

// TicketRecord is the local representation of one remote ticket.
//
// The Key is the ticket's natural key in the remote tracker (e.g. "OPS-142")
// and is globally unique and immutable. All other scalar fields are
// overwritten wholesale on every successful upsert, so a persisted record
// always reflects exactly one remote snapshot, never a mix of two.
//
// Remote fields that don't map to a fixed column land in Attrs, an opaque
// attribute bag serialized as JSON. This absorbs custom fields and schema
// drift in the remote tracker without requiring a local migration.
type TicketRecord struct {
	// ===== Identity =====
	Key        string `json:"key"`
	ProjectKey string `json:"project_key"`

	// ===== Fixed mutable fields =====
	Summary  string `json:"summary"`
	Status   string `json:"status"`
	Priority string `json:"priority,omitempty"`
	Assignee string `json:"assignee,omitempty"`
	Type     string `json:"type,omitempty"`

	// ===== Remote timestamps =====
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`

	// ===== Opaque attribute bag =====
	Attrs map[string]any `json:"attrs,omitempty"`

	// SyncedAt is refreshed on every upsert, including no-op re-applies.
	SyncedAt time.Time `json:"synced_at"`
}

// Validate checks that the record can be persisted.
func (r *TicketRecord) Validate() error {
	if r.Key == "" {
		return fmt.Errorf("ticket key is required")
	}
	if r.ProjectKey == "" {
		return fmt.Errorf("project key is required for ticket %s", r.Key)
	}
	return nil
}

// Project is a remote project whose tickets are mirrored locally.
type Project struct {
	Key      string     `json:"key"`
	Name     string     `json:"name"`
	SyncedAt *time.Time `json:"synced_at,omitempty"`
}
