package relational

import (
	"context"
	"sort"
	"strings"

	"hermannm.dev/dashboard/db"
	"hermannm.dev/wrap"
)

func (backend *Backend) ListAvailableSources(ctx context.Context) ([]string, error) {
	var names []string
	result := backend.gorm.WithContext(ctx).
		Raw(
			"SELECT name FROM sqlite_master WHERE type = 'table'"+
				" AND name NOT LIKE 'sqlite_%' AND name <> ? ORDER BY name",
			metadataTableName,
		).
		Scan(&names)
	if result.Error != nil {
		return nil, wrap.Error(result.Error, "failed to list database tables")
	}

	return names, nil
}

func (backend *Backend) ColumnsForSource(
	ctx context.Context,
	source string,
) ([]db.SourceColumn, error) {
	rows, err := backend.gorm.WithContext(ctx).
		Raw("SELECT name, type FROM pragma_table_info(?)", source).
		Rows()
	if err != nil {
		return nil, wrap.Errorf(err, "failed to introspect columns of table '%s'", source)
	}
	defer rows.Close()

	var columns []db.SourceColumn
	for rows.Next() {
		var name, sqlType string
		if err := rows.Scan(&name, &sqlType); err != nil {
			return nil, wrap.Error(err, "failed to scan column info")
		}

		columns = append(columns, db.SourceColumn{
			Key:      db.NewColumnKey(source, name),
			DataType: sqlTypeToDataType(strings.ToUpper(sqlType)),
		})
	}

	return columns, nil
}

func (backend *Backend) UniqueValues(
	ctx context.Context,
	columns []db.ColumnKey,
	onlyUseActive bool,
) (map[db.ColumnKey][]string, error) {
	var activeUploads map[string][]int64
	if onlyUseActive {
		sources := make([]string, 0, len(columns))
		for _, column := range columns {
			if !contains(sources, column.Source) {
				sources = append(sources, column.Source)
			}
		}

		ledger, _ := backend.Ledger()
		var err error
		activeUploads, err = activeUploadIDs(ctx, ledger, sources)
		if err != nil {
			return nil, wrap.Error(err, "failed to look up active uploads")
		}
	}

	uniqueValues := make(map[db.ColumnKey][]string, len(columns))

	for _, column := range columns {
		if err := validateColumnKey(column); err != nil {
			return nil, wrap.Error(err, "invalid column key")
		}

		query := backend.gorm.WithContext(ctx).
			Table(column.Source).
			Select("DISTINCT " + qualifiedColumn(column)).
			Limit(db.UniqueValueCap + 1)

		if activeIDs, tracked := activeUploads[column.Source]; tracked {
			uploadColumn := db.NewColumnKey(column.Source, db.UploadIDColumn)
			query = query.Where(qualifiedColumn(uploadColumn)+" IN ?", activeIDs)
		}

		rows, err := query.Rows()
		if err != nil {
			return nil, wrap.Errorf(
				err, "unique value query failed for column '%s'", column.Encode(),
			)
		}

		values, withinCap, err := scanUniqueValues(rows)
		if err != nil {
			return nil, err
		}
		if withinCap {
			sort.Strings(values)
			uniqueValues[column] = values
		}
	}

	return uniqueValues, nil
}

func contains(values []string, value string) bool {
	for _, candidate := range values {
		if candidate == value {
			return true
		}
	}
	return false
}
