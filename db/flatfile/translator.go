package flatfile

import (
	"context"

	"hermannm.dev/dashboard/db"
	"hermannm.dev/wrap"
)

// Translator implements db.QueryTranslator over the combined in-memory frame built when the
// translator was constructed. It holds no backend handle; all I/O happened at construction.
type Translator struct {
	frame *frame
}

func (translator *Translator) GetColumnData(
	ctx context.Context,
	columns []db.ColumnKey,
	filters []db.Filter,
) (db.Table, error) {
	indices := make([]int, 0, len(columns))
	for _, column := range columns {
		index, found := translator.frame.columnIndex(column)
		if !found {
			return db.Table{}, db.SchemaMismatchError{Column: column}
		}
		indices = append(indices, index)
	}

	mask, err := translator.frame.mask(db.ActiveFilters(filters))
	if err != nil {
		return db.Table{}, err
	}

	table := db.NewTable(columns)
	for i, row := range translator.frame.rows {
		if !mask[i] {
			continue
		}

		values := make([]any, 0, len(indices))
		for j, index := range indices {
			value, err := translator.frame.typedValue(row[index], columns[j])
			if err != nil {
				return db.Table{}, wrap.Errorf(
					err, "failed to convert value in column '%s'", columns[j].Encode(),
				)
			}
			values = append(values, value)
		}

		if err := table.AppendRow(values); err != nil {
			return db.Table{}, err
		}
	}

	return table, nil
}

func (translator *Translator) GetTableData(
	ctx context.Context,
	filters []db.Filter,
) (db.Table, error) {
	return translator.GetColumnData(ctx, translator.frame.columns, filters)
}

func (translator *Translator) GetColumnUniqueEntries(
	ctx context.Context,
	columns []db.ColumnKey,
	filters []db.Filter,
) (map[db.ColumnKey][]string, error) {
	uniqueEntries := make(map[db.ColumnKey][]string, len(columns))

	for _, column := range columns {
		index, found := translator.frame.columnIndex(column)
		if !found {
			return nil, db.SchemaMismatchError{Column: column}
		}

		mask, err := translator.frame.mask(db.FiltersForUniqueEntries(column, filters))
		if err != nil {
			return nil, wrap.Errorf(
				err, "failed to narrow candidate values for column '%s'", column.Encode(),
			)
		}

		values, withinCap := distinctValues(translator.frame, index, mask)
		if withinCap {
			uniqueEntries[column] = values
		}
	}

	return uniqueEntries, nil
}
