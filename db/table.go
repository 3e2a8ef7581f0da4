package db

import (
	"fmt"

	"hermannm.dev/enumnames"
)

// Orient selects the shape of tabular results handed to the plotting layer: column-oriented
// (map from column key to value list) or record-oriented (list of row maps).
type Orient uint8

const (
	OrientColumns Orient = iota + 1
	OrientRecords
)

var orientNames = enumnames.NewMap(map[Orient]string{
	OrientColumns: "COLUMNS",
	OrientRecords: "RECORDS",
})

func (orient Orient) IsValid() bool {
	return orientNames.ContainsEnumValue(orient)
}

func (orient Orient) String() string {
	return orientNames.GetNameOrFallback(orient, "INVALID_ORIENT")
}

func (orient Orient) MarshalJSON() ([]byte, error) {
	return orientNames.MarshalToNameJSON(orient)
}

func (orient *Orient) UnmarshalJSON(bytes []byte) error {
	return orientNames.UnmarshalFromNameJSON(bytes, orient)
}

// Table is the tabular result produced by query translators: an ordered column list with
// row-major values. Missing values (e.g. from non-matching join rows) are nil.
type Table struct {
	Columns []ColumnKey
	Rows    [][]any
}

func NewTable(columns []ColumnKey) Table {
	return Table{Columns: columns, Rows: nil}
}

func (table *Table) AppendRow(row []any) error {
	if len(row) != len(table.Columns) {
		return fmt.Errorf(
			"row has %d values, but table has %d columns", len(row), len(table.Columns),
		)
	}
	table.Rows = append(table.Rows, row)
	return nil
}

func (table Table) NumRows() int {
	return len(table.Rows)
}

func (table Table) ColumnIndex(column ColumnKey) (index int, found bool) {
	for i, candidate := range table.Columns {
		if candidate == column {
			return i, true
		}
	}
	return 0, false
}

// ToColumns converts the table to column orient, keyed by encoded column keys.
func (table Table) ToColumns() map[string][]any {
	columns := make(map[string][]any, len(table.Columns))
	for i, column := range table.Columns {
		values := make([]any, 0, len(table.Rows))
		for _, row := range table.Rows {
			values = append(values, row[i])
		}
		columns[column.Encode()] = values
	}
	return columns
}

// ToRecords converts the table to record orient: one map per row, keyed by encoded column keys.
func (table Table) ToRecords() []map[string]any {
	records := make([]map[string]any, 0, len(table.Rows))
	for _, row := range table.Rows {
		record := make(map[string]any, len(table.Columns))
		for i, column := range table.Columns {
			record[column.Encode()] = row[i]
		}
		records = append(records, record)
	}
	return records
}

// Orient converts the table to the JSON-serializable shape for the given orient.
func (table Table) Orient(orient Orient) (any, error) {
	switch orient {
	case OrientColumns:
		return table.ToColumns(), nil
	case OrientRecords:
		return table.ToRecords(), nil
	default:
		return nil, fmt.Errorf("unrecognized orient '%v'", orient)
	}
}
