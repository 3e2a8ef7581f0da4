package csv_test

import (
	"strings"
	"testing"

	"hermannm.dev/dashboard/csv"
	"hermannm.dev/dashboard/db"
)

const commaSeparatedCSV = `study_name,sex,culmen_length_mm,sampled_at
PAL0708,FEMALE,38.9,2007-11-09T10:00:00Z
PAL0708,MALE,39.2,2007-11-09T11:30:00Z
PAL0809,FEMALE,45.1,2008-11-14T09:15:00Z
`

const semicolonSeparatedCSV = `study_name;sex;culmen_length_mm
PAL0708;FEMALE;38.9
PAL0708;MALE;39.2
`

func TestDeduceFieldDelimiter(t *testing.T) {
	testCases := []struct {
		name      string
		content   string
		delimiter rune
	}{
		{"comma", commaSeparatedCSV, ','},
		{"semicolon", semicolonSeparatedCSV, ';'},
		{"tab", "a\tb\tc\n1\t2\t3\n", '\t'},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			file := strings.NewReader(testCase.content)

			delimiter, err := csv.DeduceFieldDelimiter(file, 20, csv.DefaultDelimitersToCheck)
			if err != nil {
				t.Fatalf("failed to deduce delimiter: %v", err)
			}
			if delimiter != testCase.delimiter {
				t.Errorf("expected delimiter %q, got %q", testCase.delimiter, delimiter)
			}

			// The file must be readable from the start afterwards.
			buffer := make([]byte, 10)
			if _, err := file.Read(buffer); err != nil || buffer[0] != testCase.content[0] {
				t.Error("expected read position to be reset after delimiter deduction")
			}
		})
	}
}

func TestReadRowsAfterHeader(t *testing.T) {
	reader, err := csv.NewReader(strings.NewReader(commaSeparatedCSV), true)
	if err != nil {
		t.Fatalf("failed to create reader: %v", err)
	}

	rowCount := 0
	for {
		row, rowNumber, done, err := reader.ReadRow()
		if err != nil {
			t.Fatalf("failed to read row: %v", err)
		}
		if done {
			break
		}

		rowCount++
		// Row numbers include the header row.
		if rowNumber != rowCount+1 {
			t.Errorf("expected row number %d, got %d", rowCount+1, rowNumber)
		}
		if len(row) != 4 {
			t.Errorf("expected 4 fields, got %v", row)
		}
	}

	if rowCount != 3 {
		t.Errorf("expected 3 data rows, got %d", rowCount)
	}
}

func TestResetReadPosition(t *testing.T) {
	reader, err := csv.NewReader(strings.NewReader(commaSeparatedCSV), true)
	if err != nil {
		t.Fatalf("failed to create reader: %v", err)
	}

	firstRow, _, _, err := reader.ReadRow()
	if err != nil {
		t.Fatalf("failed to read row: %v", err)
	}

	if err := reader.ResetReadPosition(true); err != nil {
		t.Fatalf("failed to reset read position: %v", err)
	}

	rowAfterReset, rowNumber, done, err := reader.ReadRow()
	if err != nil || done {
		t.Fatalf("failed to re-read first row: %v", err)
	}
	if rowNumber != 2 {
		t.Errorf("expected to be back at row 2 after reset, got %d", rowNumber)
	}
	if rowAfterReset[0] != firstRow[0] {
		t.Errorf("expected same first row after reset, got %v", rowAfterReset)
	}
}

func TestReadHeaderRowAfterDataRowFails(t *testing.T) {
	reader, err := csv.NewReader(strings.NewReader(commaSeparatedCSV), true)
	if err != nil {
		t.Fatalf("failed to create reader: %v", err)
	}
	if _, _, _, err := reader.ReadRow(); err != nil {
		t.Fatalf("failed to read row: %v", err)
	}

	if _, err := reader.ReadHeaderRow(); err == nil {
		t.Error("expected error when reading header row mid-file")
	}
}

func TestDeduceTableSchema(t *testing.T) {
	reader, err := csv.NewReader(strings.NewReader(commaSeparatedCSV), false)
	if err != nil {
		t.Fatalf("failed to create reader: %v", err)
	}

	schema, err := reader.DeduceTableSchema(100)
	if err != nil {
		t.Fatalf("failed to deduce table schema: %v", err)
	}

	expected := []db.Column{
		{Name: "study_name", DataType: db.DataTypeText},
		{Name: "sex", DataType: db.DataTypeText},
		{Name: "culmen_length_mm", DataType: db.DataTypeFloat},
		{Name: "sampled_at", DataType: db.DataTypeDateTime},
	}
	if len(schema.Columns) != len(expected) {
		t.Fatalf("expected %d columns, got %d", len(expected), len(schema.Columns))
	}
	for i, column := range expected {
		if schema.Columns[i].Name != column.Name || schema.Columns[i].DataType != column.DataType {
			t.Errorf(
				"column %d: expected %s %v, got %s %v",
				i,
				column.Name,
				column.DataType,
				schema.Columns[i].Name,
				schema.Columns[i].DataType,
			)
		}
	}

	// Schema deduction must leave the reader just after the header, ready for data reads.
	row, rowNumber, done, err := reader.ReadRow()
	if err != nil || done {
		t.Fatalf("failed to read after schema deduction: %v", err)
	}
	if rowNumber != 2 || row[0] != "PAL0708" {
		t.Errorf("expected first data row after schema deduction, got row %d: %v", rowNumber, row)
	}
}
