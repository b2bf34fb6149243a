// Package features defines the feature schema a classifier was trained on and
// turns request feature mappings into schema-ordered vectors.
package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Kind describes how a slot is interpreted by strict validation.
type Kind string

const (
	KindCount Kind = "count"
	KindFlag  Kind = "flag"
)

// Slot is one named position in the schema.
type Slot struct {
	Name string
	Kind Kind
}

// DefaultNames is the reference schema the bundled URL models are trained on.
var DefaultNames = []string{
	"url_length",
	"number_of_dots",
	"number_of_hyphens",
	"number_of_underscores",
	"number_of_slashes",
	"number_of_digits",
	"number_of_parameters",
	"has_ip_address",
	"has_https",
	"has_shortening_service",
	"has_suspicious_words",
}

// Schema is an immutable ordered list of slots.
type Schema struct {
	slots []Slot
	index map[string]int
}

// NewSchema builds a schema from slot names. Names prefixed with "has_" are
// flags, everything else is a count.
func NewSchema(names []string) (*Schema, error) {
	if len(names) == 0 {
		return nil, errors.New("feature schema is empty")
	}
	s := &Schema{
		slots: make([]Slot, 0, len(names)),
		index: make(map[string]int, len(names)),
	}
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			return nil, fmt.Errorf("feature schema slot %d has empty name", len(s.slots))
		}
		if _, dup := s.index[name]; dup {
			return nil, fmt.Errorf("feature schema lists %q twice", name)
		}
		kind := KindCount
		if strings.HasPrefix(name, "has_") {
			kind = KindFlag
		}
		s.index[name] = len(s.slots)
		s.slots = append(s.slots, Slot{Name: name, Kind: kind})
	}
	return s, nil
}

// Default returns the reference 11-slot URL schema.
func Default() *Schema {
	s, err := NewSchema(DefaultNames)
	if err != nil {
		panic(err)
	}
	return s
}

// LoadSchema reads a feature_schema.json file. Both a bare JSON array of names
// and {"features": [...]} are accepted.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		var wrapper struct {
			Features []string `json:"features"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("decode feature schema: %w", err)
		}
		names = wrapper.Features
	}
	return NewSchema(names)
}

// Len returns the number of slots.
func (s *Schema) Len() int {
	if s == nil {
		return 0
	}
	return len(s.slots)
}

// Names returns a copy of the slot names in schema order.
func (s *Schema) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.slots))
	for i, slot := range s.slots {
		out[i] = slot.Name
	}
	return out
}

// Slots returns a copy of the slots in schema order.
func (s *Schema) Slots() []Slot {
	if s == nil {
		return nil
	}
	out := make([]Slot, len(s.slots))
	copy(out, s.slots)
	return out
}

// Position reports the vector index of a slot.
func (s *Schema) Position(name string) (int, bool) {
	if s == nil {
		return 0, false
	}
	idx, ok := s.index[name]
	return idx, ok
}
