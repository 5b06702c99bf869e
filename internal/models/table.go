package models

import "sort"

// Row is one record of a Table keyed by column name. A column absent from
// the map is null for that row.
type Row map[string]string

// Get returns the cell value and whether it is non-null
func (r Row) Get(column string) (string, bool) {
	v, ok := r[column]
	return v, ok
}

// Ptr returns the cell value as a pointer, nil when null
func (r Row) Ptr(column string) *string {
	if v, ok := r[column]; ok {
		return &v
	}
	return nil
}

// Table is a column-ordered dataset shared by the extractor, the
// spreadsheet loader and the ledger export.
type Table struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`

	index map[string]struct{}
}

// NewTable creates a table with the given columns
func NewTable(columns ...string) *Table {
	t := &Table{}
	for _, c := range columns {
		t.AddColumn(c)
	}
	return t
}

func (t *Table) ensureIndex() {
	if t.index != nil && len(t.index) == len(t.Columns) {
		return
	}
	t.index = make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		t.index[c] = struct{}{}
	}
}

// AddColumn appends a column if it is not already present
func (t *Table) AddColumn(column string) {
	if t.HasColumn(column) {
		return
	}
	t.index[column] = struct{}{}
	t.Columns = append(t.Columns, column)
}

// HasColumn reports whether the table declares the column
func (t *Table) HasColumn(column string) bool {
	t.ensureIndex()
	_, ok := t.index[column]
	return ok
}

// Append adds a row. Columns it introduces are registered in sorted order;
// declare columns with AddColumn first to control ordering.
func (t *Table) Append(row Row) {
	var added []string
	for c := range row {
		if !t.HasColumn(c) {
			added = append(added, c)
		}
	}
	sort.Strings(added)
	for _, c := range added {
		t.AddColumn(c)
	}
	t.Rows = append(t.Rows, row)
}

// Concat appends every row of other, extending the column set to the union
// of both tables in encounter order
func (t *Table) Concat(other *Table) {
	if other == nil {
		return
	}
	for _, c := range other.Columns {
		t.AddColumn(c)
	}
	t.Rows = append(t.Rows, other.Rows...)
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.Rows)
}
