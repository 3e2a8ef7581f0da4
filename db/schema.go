package db

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"hermannm.dev/wrap"
)

type TableSchema struct {
	Columns []Column `json:"columns"`
}

type Column struct {
	Name     string   `json:"name"`
	DataType DataType `json:"dataType"`
	Optional bool     `json:"optional"`
}

func NewTableSchema(columnNames []string) TableSchema {
	columns := make([]Column, 0, len(columnNames))
	for _, columnName := range columnNames {
		columns = append(columns, Column{Name: columnName})
	}

	return TableSchema{Columns: columns}
}

func (schema TableSchema) ColumnNames() []string {
	names := make([]string, 0, len(schema.Columns))
	for _, column := range schema.Columns {
		names = append(names, column.Name)
	}
	return names
}

func (schema TableSchema) ColumnByName(name string) (Column, bool) {
	for _, column := range schema.Columns {
		if column.Name == name {
			return column, true
		}
	}
	return Column{}, false
}

func (schema TableSchema) DeduceDataTypesFromRow(row []string) error {
	for i, field := range row {
		if i >= len(schema.Columns) {
			return errors.New("row contains more fields than there are columns")
		}

		column := schema.Columns[i]

		deducedType, isBlank := deduceDataTypeFromField(field)
		if isBlank {
			column.Optional = true
		} else if !column.DataType.IsValid() {
			column.DataType = deducedType
		} else if column.DataType != deducedType {
			// Ints parse as floats too, so a column with both widens to float.
			if column.DataType == DataTypeInt && deducedType == DataTypeFloat {
				column.DataType = DataTypeFloat
			} else if !(column.DataType == DataTypeFloat && deducedType == DataTypeInt) {
				return fmt.Errorf(
					"found incompatible data types '%s' and '%s' in column '%s'",
					column.DataType.String(),
					deducedType.String(),
					column.Name,
				)
			}
		}

		schema.Columns[i] = column
	}

	return nil
}

func deduceDataTypeFromField(field string) (deducedType DataType, isBlank bool) {
	if field == "" {
		return 0, true
	}
	if _, err := strconv.ParseInt(field, 10, 64); err == nil {
		return DataTypeInt, false
	}
	if _, err := strconv.ParseFloat(field, 64); err == nil {
		return DataTypeFloat, false
	}
	if _, err := strconv.ParseBool(field); err == nil {
		return DataTypeBool, false
	}
	if _, err := time.Parse(time.RFC3339, field); err == nil {
		return DataTypeDateTime, false
	}
	return DataTypeText, false
}

// ConvertRowToMap converts a raw row of strings to the data types declared by the schema, keyed
// by column name.
func (schema TableSchema) ConvertRowToMap(rawRow []string) (map[string]any, error) {
	if len(rawRow) != len(schema.Columns) {
		return nil, IngestValidationError{
			Reason: fmt.Sprintf(
				"row has %d fields, but table schema has %d columns",
				len(rawRow),
				len(schema.Columns),
			),
		}
	}

	rowMap := make(map[string]any, len(schema.Columns))

	for i, field := range rawRow {
		column := schema.Columns[i]

		convertedField, err := ConvertField(field, column)
		if err != nil {
			return nil, wrap.Errorf(
				err,
				"failed to convert field '%s' to %s for column '%s'",
				field,
				column.DataType,
				column.Name,
			)
		}

		rowMap[column.Name] = convertedField
	}

	return rowMap, nil
}

func ConvertField(field string, column Column) (convertedField any, err error) {
	if field == "" {
		if column.Optional {
			return nil, nil
		} else {
			return nil, errors.New("tried to insert empty value into non-optional column")
		}
	}

	switch column.DataType {
	case DataTypeInt:
		return strconv.ParseInt(field, 10, 64)
	case DataTypeFloat:
		return strconv.ParseFloat(field, 64)
	case DataTypeBool:
		return strconv.ParseBool(field)
	case DataTypeDateTime:
		return time.Parse(time.RFC3339, field)
	case DataTypeText:
		return field, nil
	}

	return nil, fmt.Errorf("unrecognized data type '%s' in column", column.DataType)
}

func (schema TableSchema) Validate() []error {
	var errs []error

	if len(schema.Columns) == 0 {
		errs = append(errs, errors.New("table schema has no columns"))
	}

	for i, column := range schema.Columns {
		if err := column.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("column %d ('%s'): %w", i, column.Name, err))
		}
	}

	return errs
}

func (column Column) Validate() error {
	if column.Name == "" {
		return errors.New("column name is blank")
	}

	if !column.DataType.IsValid() {
		return errors.New("invalid column data type")
	}

	return nil
}
