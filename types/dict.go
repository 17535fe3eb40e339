package types

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrLength is returned when a dictionary's key and value lists differ in count.
var ErrLength = errors.New("types: length mismatch")

// Dict is a q dictionary: a mapping from a key list to a value list of the same count.
type Dict struct {
	Keys   any
	Values any
}

// NewDict creates a dictionary. keys and values should be lists (slices) when holding several entries.
func NewDict(keys, values any) *Dict {
	return &Dict{Keys: keys, Values: values}
}

// Len returns the number of keys, or 1 for an atom key.
func (d *Dict) Len() int {
	return Count(d.Keys)
}

// Check reports ErrLength when keys and values do not have the same count.
func (d *Dict) Check() error {
	if k, v := Count(d.Keys), Count(d.Values); k != v {
		return fmt.Errorf("dict with %d keys and %d values: %w", k, v, ErrLength)
	}
	return nil
}

// Table is a q table: column names and the column lists, column-oriented.
type Table struct {
	Columns []string
	Data    []any
}

// NewTable creates a table from column names and column lists.
func NewTable(columns []string, data []any) *Table {
	return &Table{Columns: columns, Data: data}
}

// TableFromDict flips a dictionary of column symbols to column lists into a table.
func TableFromDict(d *Dict) (*Table, error) {
	if d == nil {
		return nil, fmt.Errorf("dict required")
	}
	columns, ok := d.Keys.([]string)
	if !ok {
		return nil, fmt.Errorf("table keys must be symbols, got %T", d.Keys)
	}
	data, ok := d.Values.([]any)
	if !ok {
		return nil, fmt.Errorf("table values must be a general list, got %T", d.Values)
	}
	if len(columns) != len(data) {
		return nil, fmt.Errorf("table has %d column names but %d columns", len(columns), len(data))
	}
	return &Table{Columns: columns, Data: data}, nil
}

// Column returns the list for the named column.
func (t *Table) Column(name string) (any, bool) {
	for i, c := range t.Columns {
		if c == name {
			return t.Data[i], true
		}
	}
	return nil, false
}

// Rows returns the row count, taken from the first column.
func (t *Table) Rows() int {
	if len(t.Data) == 0 {
		return 0
	}
	return Count(t.Data[0])
}

func (t *Table) String() string {
	return fmt.Sprintf("Table{columns=%v, data=%v}", t.Columns, t.Data)
}

// Count returns the element count of a list value: slice length, encoded char count for
// Chars, and 1 for atoms.
func Count(v any) int {
	switch x := v.(type) {
	case nil:
		return 0
	case Chars:
		return len(x)
	case *Table:
		return x.Rows()
	case *Dict:
		return x.Len()
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		return rv.Len()
	}
	return 1
}

// Lambda is a decoded q function definition.
type Lambda struct {
	Context string
	Body    string
}

func (l Lambda) String() string {
	return l.Body
}

// Function is an opaque decoded q function value (primitive, iterator, projection, ...).
type Function struct {
	Type Type
	Args []any
}

func (f Function) String() string {
	return "func(" + f.Type.String() + ")"
}
