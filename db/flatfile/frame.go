package flatfile

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"hermannm.dev/dashboard/db"
	"hermannm.dev/wrap"
)

// frame is the in-memory table the flat-file translator operates on: the row-wise union of a
// source directory's CSV files, possibly left-joined with other sources. Cells are kept as raw
// strings (blank meaning missing), with data types deduced separately for range comparisons and
// typed output conversion.
type frame struct {
	columns []db.ColumnKey
	types   map[db.ColumnKey]db.DataType
	rows    [][]string
}

func newFrame() *frame {
	return &frame{types: make(map[db.ColumnKey]db.DataType)}
}

func (frame *frame) columnIndex(column db.ColumnKey) (index int, found bool) {
	for i, candidate := range frame.columns {
		if candidate == column {
			return i, true
		}
	}
	return 0, false
}

// appendTable unions the given rows into the frame. Columns are aligned by key; columns new to
// the frame are appended, and cells missing from either side are left blank.
func (frame *frame) appendTable(columns []db.ColumnKey, rows [][]string) {
	indices := make([]int, len(columns))
	for i, column := range columns {
		index, found := frame.columnIndex(column)
		if !found {
			index = len(frame.columns)
			frame.columns = append(frame.columns, column)
			for j, row := range frame.rows {
				frame.rows[j] = append(row, "")
			}
		}
		indices[i] = index
	}

	for _, row := range rows {
		combined := make([]string, len(frame.columns))
		for i, field := range row {
			if i < len(indices) {
				combined[indices[i]] = field
			}
		}
		frame.rows = append(frame.rows, combined)
	}
}

func (frame *frame) deduceTypes() error {
	names := make([]string, 0, len(frame.columns))
	for _, column := range frame.columns {
		names = append(names, column.Encode())
	}

	schema := db.NewTableSchema(names)
	for _, row := range frame.rows {
		if err := schema.DeduceDataTypesFromRow(row); err != nil {
			return err
		}
	}

	for i, column := range frame.columns {
		dataType := schema.Columns[i].DataType
		if !dataType.IsValid() {
			// Column with no non-blank values; treat as text.
			dataType = db.DataTypeText
		}
		frame.types[column] = dataType
	}
	return nil
}

// leftJoin merges another source's frame into this one with left-join semantics on the given
// equi-join key pairs: rows without a match keep blank cells for the joined columns, and rows
// with multiple matches are repeated per match.
func (frame *frame) leftJoin(other *frame, joinKeys []db.JoinKey) error {
	leftIndices := make([]int, 0, len(joinKeys))
	rightIndices := make([]int, 0, len(joinKeys))
	for _, joinKey := range joinKeys {
		leftIndex, found := frame.columnIndex(joinKey.Left)
		if !found {
			return db.SchemaMismatchError{Column: joinKey.Left}
		}
		rightIndex, found := other.columnIndex(joinKey.Right)
		if !found {
			return db.SchemaMismatchError{Column: joinKey.Right}
		}
		leftIndices = append(leftIndices, leftIndex)
		rightIndices = append(rightIndices, rightIndex)
	}

	rowsByKey := make(map[string][]int, len(other.rows))
	for i, row := range other.rows {
		key := compositeJoinValue(row, rightIndices)
		rowsByKey[key] = append(rowsByKey[key], i)
	}

	joined := make([][]string, 0, len(frame.rows))
	for _, leftRow := range frame.rows {
		matches := rowsByKey[compositeJoinValue(leftRow, leftIndices)]
		if len(matches) == 0 {
			joinedRow := make([]string, len(frame.columns)+len(other.columns))
			copy(joinedRow, leftRow)
			joined = append(joined, joinedRow)
			continue
		}

		for _, match := range matches {
			joinedRow := make([]string, 0, len(frame.columns)+len(other.columns))
			joinedRow = append(joinedRow, leftRow...)
			joinedRow = append(joinedRow, other.rows[match]...)
			joined = append(joined, joinedRow)
		}
	}

	frame.columns = append(frame.columns, other.columns...)
	for column, dataType := range other.types {
		frame.types[column] = dataType
	}
	frame.rows = joined
	return nil
}

// Join key values are concatenated with an unprintable separator, so multi-column keys cannot
// collide with single-column values containing the separator of another.
func compositeJoinValue(row []string, indices []int) string {
	var builder strings.Builder
	for i, index := range indices {
		if i > 0 {
			builder.WriteByte(0)
		}
		builder.WriteString(row[index])
	}
	return builder.String()
}

// mask evaluates the given filters against every row, returning one include flag per row.
// ShowAll equality filters must already be stripped by the caller.
func (frame *frame) mask(filters []db.Filter) ([]bool, error) {
	mask := make([]bool, len(frame.rows))
	for i := range mask {
		mask[i] = true
	}

	for _, filter := range filters {
		switch filter := filter.(type) {
		case db.EqualityFilter:
			index, found := frame.columnIndex(filter.Column)
			if !found {
				return nil, db.SchemaMismatchError{Column: filter.Column}
			}
			for i, row := range frame.rows {
				if mask[i] {
					mask[i] = equalsAny(row[index], filter.Values)
				}
			}
		case db.NumericFilter:
			index, found := frame.columnIndex(filter.Column)
			if !found {
				return nil, db.SchemaMismatchError{Column: filter.Column}
			}
			for i, row := range frame.rows {
				if mask[i] {
					matches, err := compareNumericCell(row[index], filter)
					if err != nil {
						return nil, wrap.Errorf(
							err, "failed to apply numeric filter on column '%s'",
							filter.Column.Encode(),
						)
					}
					mask[i] = matches
				}
			}
		case db.MatchFilter, db.AggregationSpec:
			return nil, db.ConfigurationError{
				Reason: filter.FilterType().String() +
					" filters are only supported by the search backend",
			}
		default:
			return nil, fmt.Errorf("unrecognized filter type %T", filter)
		}
	}

	return mask, nil
}

func equalsAny(field string, values []string) bool {
	for _, value := range values {
		if field == value {
			return true
		}
	}
	return false
}

func compareNumericCell(field string, filter db.NumericFilter) (bool, error) {
	if field == "" {
		return false, nil
	}

	switch value := filter.Value.(type) {
	case float64:
		fieldValue, err := strconv.ParseFloat(field, 64)
		if err != nil {
			// Unparseable cells never match a numeric predicate.
			return false, nil
		}
		return filter.Operator.Compare(fieldValue, value), nil
	case time.Time:
		fieldValue, err := time.Parse(time.RFC3339, field)
		if err != nil {
			return false, nil
		}
		return filter.Operator.Compare(
			float64(fieldValue.UnixMilli()), float64(value.UnixMilli()),
		), nil
	default:
		return false, fmt.Errorf(
			"numeric filter value must be a number or datetime, got %T", filter.Value,
		)
	}
}

// typedValue converts a raw cell to the column's deduced data type for output. Blank cells
// become nil.
func (frame *frame) typedValue(field string, column db.ColumnKey) (any, error) {
	dataType, ok := frame.types[column]
	if !ok {
		dataType = db.DataTypeText
	}

	return db.ConvertField(field, db.Column{
		Name:     column.Encode(),
		DataType: dataType,
		Optional: true,
	})
}
