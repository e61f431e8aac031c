// Package mapping provides the declarative field-mapping table that
// projects remote ticket payloads into the local attribute bag.
//
// The table is loaded from a TOML file and validated up front, so a bad
// mapping fails at configuration load time instead of mid-sync. The
// transform set is closed: a field is copied directly, passed through a
// value-lookup table, or run through a named transform registered in this
// package. Mappings never carry executable logic.
package mapping

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// TransformKind is one of the closed set of transforms.
type TransformKind string

const (
	// TransformCopy copies the extracted value unchanged.
	TransformCopy TransformKind = "copy"

	// TransformLookup replaces the extracted value using the field's
	// lookup table; values without an entry pass through unchanged.
	TransformLookup TransformKind = "lookup"

	// TransformCustom applies a named transform from the registry.
	TransformCustom TransformKind = "custom"
)

// Field maps one remote field into the attribute bag.
type Field struct {
	// ID is the attribute name in the local bag.
	ID string `toml:"id"`

	// Path is a dotted extraction path into the remote payload,
	// e.g. "fields.customfield_10021.value".
	Path string `toml:"path"`

	// Transform selects the transform kind; empty means copy.
	Transform TransformKind `toml:"transform"`

	// Lookup is the value table for lookup transforms.
	Lookup map[string]string `toml:"lookup"`

	// Custom names a registered transform for custom transforms.
	Custom string `toml:"custom"`
}

// Table is a validated set of field mappings.
type Table struct {
	Fields []Field `toml:"field"`
}

// CustomFunc is a registered named transform.
type CustomFunc func(any) any

// customRegistry holds the named transforms available to mapping files.
// The set is fixed at startup; mappings can only refer to names here.
var customRegistry = map[string]CustomFunc{
	"lowercase": func(v any) any {
		if s, ok := v.(string); ok {
			return strings.ToLower(s)
		}
		return v
	},
	"uppercase": func(v any) any {
		if s, ok := v.(string); ok {
			return strings.ToUpper(s)
		}
		return v
	},
	"trim": func(v any) any {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
		return v
	},
}

// Load reads and validates a mapping table from a TOML file.
func Load(path string) (*Table, error) {
	var t Table
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return nil, fmt.Errorf("failed to parse mapping file %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mapping file %s: %w", path, err)
	}
	return &t, nil
}

// Validate checks the table for structural errors.
func (t *Table) Validate() error {
	seen := make(map[string]bool, len(t.Fields))
	for i := range t.Fields {
		f := &t.Fields[i]
		if f.ID == "" {
			return fmt.Errorf("field %d: id is required", i)
		}
		if f.Path == "" {
			return fmt.Errorf("field %q: path is required", f.ID)
		}
		if seen[f.ID] {
			return fmt.Errorf("field %q: duplicate id", f.ID)
		}
		seen[f.ID] = true

		if f.Transform == "" {
			f.Transform = TransformCopy
		}
		switch f.Transform {
		case TransformCopy:
		case TransformLookup:
			if len(f.Lookup) == 0 {
				return fmt.Errorf("field %q: lookup transform requires a lookup table", f.ID)
			}
		case TransformCustom:
			if f.Custom == "" {
				return fmt.Errorf("field %q: custom transform requires a transform name", f.ID)
			}
			if _, ok := customRegistry[f.Custom]; !ok {
				return fmt.Errorf("field %q: unknown custom transform %q", f.ID, f.Custom)
			}
		default:
			return fmt.Errorf("field %q: unknown transform kind %q", f.ID, f.Transform)
		}
	}
	return nil
}

// Apply extracts and transforms every mapped field from payload.
// Fields whose path resolves to nothing are skipped.
func (t *Table) Apply(payload map[string]any) map[string]any {
	out := make(map[string]any, len(t.Fields))
	for _, f := range t.Fields {
		v, ok := extract(payload, f.Path)
		if !ok || v == nil {
			continue
		}
		out[f.ID] = f.transform(v)
	}
	return out
}

// transform applies the field's transform to v.
func (f *Field) transform(v any) any {
	switch f.Transform {
	case TransformLookup:
		if s, ok := v.(string); ok {
			if mapped, ok := f.Lookup[s]; ok {
				return mapped
			}
		}
		return v
	case TransformCustom:
		if fn, ok := customRegistry[f.Custom]; ok {
			return fn(v)
		}
		return v
	default:
		return v
	}
}

// extract walks a dotted path through nested maps.
func extract(m map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = m
	for _, p := range parts {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
