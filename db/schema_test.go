package db_test

import (
	"testing"
	"time"

	"hermannm.dev/dashboard/db"
)

func TestDeduceDataTypesFromRows(t *testing.T) {
	schema := db.NewTableSchema([]string{"name", "count", "ratio", "tagged", "created"})

	rows := [][]string{
		{"Adelie", "12", "1", "true", "2024-01-15T00:00:00Z"},
		{"Gentoo", "7", "0.58", "false", "2024-02-20T00:00:00Z"},
	}
	for _, row := range rows {
		if err := schema.DeduceDataTypesFromRow(row); err != nil {
			t.Fatalf("failed to deduce data types: %v", err)
		}
	}

	expectedTypes := []db.DataType{
		db.DataTypeText,
		db.DataTypeInt,
		// The ratio column sees both an int-like and a float value, so it must widen to float.
		db.DataTypeFloat,
		db.DataTypeBool,
		db.DataTypeDateTime,
	}
	for i, expected := range expectedTypes {
		if schema.Columns[i].DataType != expected {
			t.Errorf(
				"expected column '%s' to deduce as %v, got %v",
				schema.Columns[i].Name,
				expected,
				schema.Columns[i].DataType,
			)
		}
	}
}

func TestBlankFieldsMarkColumnsOptional(t *testing.T) {
	schema := db.NewTableSchema([]string{"name", "count"})

	if err := schema.DeduceDataTypesFromRow([]string{"Adelie", ""}); err != nil {
		t.Fatalf("failed to deduce data types: %v", err)
	}
	if err := schema.DeduceDataTypesFromRow([]string{"Gentoo", "7"}); err != nil {
		t.Fatalf("failed to deduce data types: %v", err)
	}

	if !schema.Columns[1].Optional {
		t.Error("expected column with blank field to be marked optional")
	}
}

func TestConvertRowToMap(t *testing.T) {
	schema := db.TableSchema{Columns: []db.Column{
		{Name: "name", DataType: db.DataTypeText},
		{Name: "count", DataType: db.DataTypeInt},
		{Name: "created", DataType: db.DataTypeDateTime},
	}}

	rowMap, err := schema.ConvertRowToMap([]string{"Adelie", "12", "2024-01-15T00:00:00Z"})
	if err != nil {
		t.Fatalf("failed to convert row: %v", err)
	}

	if rowMap["name"] != "Adelie" {
		t.Errorf("unexpected name value: %v", rowMap["name"])
	}
	if rowMap["count"] != int64(12) {
		t.Errorf("unexpected count value: %v", rowMap["count"])
	}
	if _, isTime := rowMap["created"].(time.Time); !isTime {
		t.Errorf("expected created value to convert to time.Time, got %T", rowMap["created"])
	}
}

func TestConvertRowToMapFieldCountMismatch(t *testing.T) {
	schema := db.TableSchema{Columns: []db.Column{
		{Name: "name", DataType: db.DataTypeText},
	}}

	if _, err := schema.ConvertRowToMap([]string{"Adelie", "extra"}); err == nil {
		t.Error("expected error for row with more fields than schema columns")
	}
}
