package csv

import (
	"errors"

	"hermannm.dev/dashboard/db"
	"hermannm.dev/wrap"
)

// DeduceTableSchema reads the CSV file's header row for column names, then deduces column data
// types from up to maxRowsToCheck rows of data. The reader's position is reset to just after
// the header row before returning, so the data can be read subsequently.
func (reader *Reader) DeduceTableSchema(maxRowsToCheck int) (schema db.TableSchema, err error) {
	defer func() {
		if resetErr := reader.setPositionToAfterHeaderRow(); resetErr != nil {
			err = wrap.Error(resetErr, "failed to reset CSV file after deducing its table schema")
		}
	}()

	if err := reader.ResetReadPosition(false); err != nil {
		return db.TableSchema{}, wrap.Error(err, "failed to reset CSV file before schema deduction")
	}

	headers, err := reader.ReadHeaderRow()
	if err != nil {
		return db.TableSchema{}, wrap.Error(err, "failed to read CSV column names")
	}
	schema = db.NewTableSchema(headers)

	for i := 0; i < maxRowsToCheck; i++ {
		row, rowNumber, done, err := reader.ReadRow()
		if done {
			break
		}
		if err != nil {
			return db.TableSchema{}, wrap.Errorf(err, "failed to read row %d of CSV file", rowNumber)
		}

		if err := schema.DeduceDataTypesFromRow(row); err != nil {
			return db.TableSchema{}, wrap.Errorf(
				err, "failed to deduce column data types from row %d", rowNumber,
			)
		}
	}

	if errs := schema.Validate(); len(errs) > 0 {
		return db.TableSchema{}, wrap.Errors(
			"failed to deduce data types for all columns in CSV file", errs...,
		)
	}

	return schema, nil
}

func (reader *Reader) setPositionToAfterHeaderRow() error {
	if err := reader.ResetReadPosition(true); err != nil {
		return err
	}
	if reader.currentRow != 1 {
		return errors.New("expected read position to be at row 1 after skipping header")
	}
	return nil
}
