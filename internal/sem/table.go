// Package sem implements recursive structural equation models over
// observed variables: candidate specifications written as regression
// formulas, maximum likelihood fitting against the sample covariance
// matrix, and the ordered model comparison procedure built on top.
package sem

import "fmt"

// Table is a column-oriented numeric dataset. Every column has the same
// number of rows and columns keep their insertion order, so repeated
// fits over the same table see identical data.
type Table struct {
	rows  int
	order []string
	cols  map[string][]float64
}

// NewTable creates an empty table whose columns must all have rows
// values.
func NewTable(rows int) *Table {
	return &Table{
		rows: rows,
		cols: make(map[string][]float64),
	}
}

// AddColumn attaches a named column. The slice is copied so later
// mutation of values cannot change the table.
func (t *Table) AddColumn(name string, values []float64) error {
	if name == "" {
		return fmt.Errorf("column name required")
	}
	if len(values) != t.rows {
		return fmt.Errorf("column %q has %d values, table has %d rows", name, len(values), t.rows)
	}
	if _, exists := t.cols[name]; exists {
		return fmt.Errorf("column %q already present", name)
	}
	copied := make([]float64, len(values))
	copy(copied, values)
	t.cols[name] = copied
	t.order = append(t.order, name)
	return nil
}

// Column returns the named column. The returned slice is shared; callers
// must not modify it.
func (t *Table) Column(name string) ([]float64, bool) {
	c, ok := t.cols[name]
	return c, ok
}

// Columns lists column names in insertion order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return t.rows
}
