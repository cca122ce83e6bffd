package cytoconv

// Class table functionality.

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownClass is returned when a class name is not part of a ClassTable.
var ErrUnknownClass = errors.New("unknown class")

// SIPaKMeDClasses are the five cell classes of the SIPaKMeD dataset, in class id order.
var SIPaKMeDClasses = []string{
	"Dyskeratotic",
	"Koilocytotic",
	"Metaplastic",
	"Parabasal",
	"Superficial-Intermediate",
}

// ParseClassNames splits a comma-separated list of class names and trims the space around each.
func ParseClassNames(list string) []string {
	names := strings.Split(list, ",")
	for i, name := range names {
		names[i] = strings.TrimSpace(name)
	}
	return names
}

// ClassTable is an ordered, immutable list of class names. The position of a name is its class id.
//
// The zero value is an empty table. Use NewClassTable to create one.
type ClassTable struct {
	names []string
	ids   map[string]int
}

// NewClassTable creates a ClassTable from names. Names must be non-empty and unique; matching is
// case-sensitive.
func NewClassTable(names []string) (ClassTable, error) {
	if len(names) == 0 {
		return ClassTable{}, fmt.Errorf("the class table needs at least one class name")
	}

	t := ClassTable{
		names: make([]string, len(names)),
		ids:   make(map[string]int, len(names)),
	}
	for i, name := range names {
		if strings.TrimSpace(name) == "" {
			return ClassTable{}, fmt.Errorf("empty class name at position %d", i)
		}
		if _, dup := t.ids[name]; dup {
			return ClassTable{}, fmt.Errorf("duplicate class name %q", name)
		}
		t.names[i] = name
		t.ids[name] = i
	}

	return t, nil
}

// ID returns the class id for name.
func (t ClassTable) ID(name string) (int, error) {
	id, ok := t.ids[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownClass, name)
	}
	return id, nil
}

// Name returns the class name for id, or "" if id is out of range.
func (t ClassTable) Name(id int) string {
	if id < 0 || id >= len(t.names) {
		return ""
	}
	return t.names[id]
}

// Names returns a copy of the class names in id order.
func (t ClassTable) Names() []string {
	return append([]string(nil), t.names...)
}

// Len is the number of classes.
func (t ClassTable) Len() int {
	return len(t.names)
}
