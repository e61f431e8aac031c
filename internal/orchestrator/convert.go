package orchestrator

import (
	"fmt"
	"time"

	"github.com/mirrorboard/ticketmirror/internal/remote"
	"github.com/mirrorboard/ticketmirror/internal/schema"
)

// Field names the remote tracker uses for the structured ticket columns.
// Everything else lands in the attribute bag untouched.
var fixedFields = map[string]bool{
	"summary":   true,
	"status":    true,
	"priority":  true,
	"assignee":  true,
	"issuetype": true,
	"created":   true,
	"updated":   true,
}

// Timestamp layouts the tracker has been observed to emit.
var issueTimeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// convertIssue maps a remote issue onto a ticket record.
//
// Structured columns come from the tracker's well-known fields; every
// other field survives round trips verbatim in the attribute bag. A
// configured mapping table runs afterwards and its outputs join the bag,
// overriding same-named raw fields.
func (o *Orchestrator) convertIssue(project string, issue remote.Issue) (*schema.TicketRecord, error) {
	rec := &schema.TicketRecord{
		Key:        issue.Key,
		ProjectKey: project,
		Summary:    stringField(issue.Fields, "summary"),
		Status:     nameField(issue.Fields, "status"),
		Priority:   nameField(issue.Fields, "priority"),
		Assignee:   nameField(issue.Fields, "assignee"),
		Type:       nameField(issue.Fields, "issuetype"),
		Created:    timeField(issue.Fields, "created"),
		Updated:    timeField(issue.Fields, "updated"),
		Attrs:      make(map[string]any),
	}

	for k, v := range issue.Fields {
		if fixedFields[k] || v == nil {
			continue
		}
		rec.Attrs[k] = v
	}

	if table := o.mappingTable(); table != nil {
		// Mapping paths are rooted at the issue payload, so wrap the
		// fields under their payload key before applying.
		for k, v := range table.Apply(map[string]any{"fields": issue.Fields}) {
			rec.Attrs[k] = v
		}
	}

	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("issue %s is not storable: %w", issue.Key, err)
	}
	return rec, nil
}

// stringField returns a top-level string field, or "".
func stringField(fields map[string]any, name string) string {
	s, _ := fields[name].(string)
	return s
}

// nameField handles the tracker's object-valued fields: status, priority,
// assignee and issue type each arrive as {"name": "..."} objects, but a
// bare string is accepted too.
func nameField(fields map[string]any, name string) string {
	switch v := fields[name].(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v["name"].(string); ok {
			return s
		}
		if s, ok := v["displayName"].(string); ok {
			return s
		}
	}
	return ""
}

// timeField parses a timestamp field, returning the zero time when the
// field is absent or unparseable.
func timeField(fields map[string]any, name string) time.Time {
	s, ok := fields[name].(string)
	if !ok || s == "" {
		return time.Time{}
	}
	for _, layout := range issueTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
