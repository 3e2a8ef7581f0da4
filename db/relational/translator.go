package relational

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
	"hermannm.dev/dashboard/db"
	"hermannm.dev/wrap"
)

// Translator implements db.QueryTranslator for one page render: it carries the request's query
// context, the introspected columns of the descriptor's sources, and the active upload IDs
// resolved at construction when active-only mode is on.
type Translator struct {
	gorm          *gorm.DB
	queryCtx      db.QueryContext
	sourceColumns map[string][]db.SourceColumn
	// activeUploads maps source name to active upload IDs, for sources with ledger records.
	// Nil when the query context disables active-only filtering.
	activeUploads map[string][]int64
}

func (translator *Translator) hasColumn(key db.ColumnKey) bool {
	for _, column := range translator.sourceColumns[key.Source] {
		if column.Key == key {
			return true
		}
	}
	return false
}

func (translator *Translator) GetColumnData(
	ctx context.Context,
	columns []db.ColumnKey,
	filters []db.Filter,
) (db.Table, error) {
	for _, column := range columns {
		if err := validateColumnKey(column); err != nil {
			return db.Table{}, wrap.Error(err, "invalid column key")
		}
		if !translator.hasColumn(column) {
			return db.Table{}, db.SchemaMismatchError{Column: column}
		}
	}

	query, err := translator.buildFilteredQuery(ctx, filters)
	if err != nil {
		return db.Table{}, err
	}

	aliases := newAliasTable()
	selects := make([]string, 0, len(columns))
	for _, column := range columns {
		alias := aliases.alias(column)
		if err := validateIdentifier(alias); err != nil {
			return db.Table{}, wrap.Error(err, "invalid column alias")
		}
		selects = append(
			selects, qualifiedColumn(column)+" AS "+quoteIdentifier(alias),
		)
	}

	rows, err := query.Select(strings.Join(selects, ", ")).Rows()
	if err != nil {
		return db.Table{}, wrap.Error(err, "data query failed")
	}
	defer rows.Close()

	resultAliases, err := rows.Columns()
	if err != nil {
		return db.Table{}, wrap.Error(err, "failed to read result columns")
	}

	// Maps result aliases back to the composite keys that came in, restoring the
	// "source:column" form (rename round-trip).
	resultColumns := make([]db.ColumnKey, 0, len(resultAliases))
	for _, alias := range resultAliases {
		key, found := aliases.columnKey(alias)
		if !found {
			return db.Table{}, fmt.Errorf("query returned unrequested column '%s'", alias)
		}
		resultColumns = append(resultColumns, key)
	}

	table := db.NewTable(resultColumns)
	for rows.Next() {
		pointers := make([]any, len(resultColumns))
		for i := range pointers {
			pointers[i] = new(any)
		}
		if err := rows.Scan(pointers...); err != nil {
			return db.Table{}, wrap.Error(err, "failed to scan result row")
		}

		values := make([]any, 0, len(pointers))
		for _, pointer := range pointers {
			values = append(values, normalizeDBValue(*(pointer.(*any))))
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
	var columns []db.ColumnKey
	for _, source := range translator.queryCtx.Descriptor.Sources() {
		for _, column := range translator.sourceColumns[source] {
			columns = append(columns, column.Key)
		}
	}

	return translator.GetColumnData(ctx, columns, filters)
}

func (translator *Translator) GetColumnUniqueEntries(
	ctx context.Context,
	columns []db.ColumnKey,
	filters []db.Filter,
) (map[db.ColumnKey][]string, error) {
	uniqueEntries := make(map[db.ColumnKey][]string, len(columns))

	for _, column := range columns {
		if err := validateColumnKey(column); err != nil {
			return nil, wrap.Error(err, "invalid column key")
		}
		if !translator.hasColumn(column) {
			return nil, db.SchemaMismatchError{Column: column}
		}

		query, err := translator.buildFilteredQuery(
			ctx, db.FiltersForUniqueEntries(column, filters),
		)
		if err != nil {
			return nil, err
		}

		rows, err := query.
			Select("DISTINCT " + qualifiedColumn(column)).
			Limit(db.UniqueValueCap + 1).
			Rows()
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
			uniqueEntries[column] = values
		}
	}

	return uniqueEntries, nil
}

// buildFilteredQuery builds the per-graphic base query: the main source, a left join per
// additional source on its declared key pairs, the given filter predicates, and (in active-only
// mode) the implicit active-upload restriction on each ledger-tracked source. The main source's
// restriction is a WHERE predicate; a joined source's restriction goes into its JOIN ON clause,
// since a WHERE predicate on the right side of a left join would drop the non-matching rows.
func (translator *Translator) buildFilteredQuery(
	ctx context.Context,
	filters []db.Filter,
) (*gorm.DB, error) {
	descriptor := translator.queryCtx.Descriptor

	if err := validateIdentifier(descriptor.MainSource); err != nil {
		return nil, wrap.Error(err, "invalid main source name")
	}
	query := translator.gorm.WithContext(ctx).Table(descriptor.MainSource)

	for _, additional := range descriptor.AdditionalSources {
		joinClause, joinArgs, err := translator.buildJoinClause(additional)
		if err != nil {
			return nil, err
		}
		query = query.Joins(joinClause, joinArgs...)
	}

	for _, filter := range db.ActiveFilters(filters) {
		switch filter := filter.(type) {
		case db.EqualityFilter:
			if err := validateColumnKey(filter.Column); err != nil {
				return nil, wrap.Error(err, "invalid filter column")
			}
			if len(filter.Values) == 1 {
				query = query.Where(qualifiedColumn(filter.Column)+" = ?", filter.Values[0])
			} else {
				query = query.Where(qualifiedColumn(filter.Column)+" IN ?", filter.Values)
			}
		case db.NumericFilter:
			if err := validateColumnKey(filter.Column); err != nil {
				return nil, wrap.Error(err, "invalid filter column")
			}
			if !filter.Operator.IsValid() {
				return nil, fmt.Errorf("invalid numeric filter operator")
			}
			query = query.Where(
				fmt.Sprintf("%s %s ?", qualifiedColumn(filter.Column), filter.Operator),
				filter.Value,
			)
		case db.MatchFilter, db.AggregationSpec:
			return nil, db.ConfigurationError{
				Reason: filter.FilterType().String() +
					" filters are only supported by the search backend",
			}
		default:
			return nil, fmt.Errorf("unrecognized filter type %T", filter)
		}
	}

	if activeIDs, tracked := translator.activeUploads[descriptor.MainSource]; tracked {
		uploadColumn := db.NewColumnKey(descriptor.MainSource, db.UploadIDColumn)
		query = query.Where(qualifiedColumn(uploadColumn)+" IN ?", activeIDs)
	}

	return query, nil
}

func (translator *Translator) buildJoinClause(
	additional db.AdditionalSource,
) (clause string, args []any, err error) {
	if err := validateIdentifier(additional.Source); err != nil {
		return "", nil, wrap.Error(err, "invalid joined source name")
	}

	var join strings.Builder
	join.WriteString("LEFT JOIN ")
	join.WriteString(quoteIdentifier(additional.Source))
	join.WriteString(" ON ")

	for i, joinKey := range additional.JoinKeys {
		if err := validateColumnKey(joinKey.Left); err != nil {
			return "", nil, wrap.Error(err, "invalid left join key")
		}
		if err := validateColumnKey(joinKey.Right); err != nil {
			return "", nil, wrap.Error(err, "invalid right join key")
		}

		if i > 0 {
			join.WriteString(" AND ")
		}
		join.WriteString(qualifiedColumn(joinKey.Left))
		join.WriteString(" = ")
		join.WriteString(qualifiedColumn(joinKey.Right))
	}

	// Restricting a joined source to active uploads must happen in the join condition: rows
	// from inactive uploads then simply fail to match, instead of erasing the main-source row.
	if activeIDs, tracked := translator.activeUploads[additional.Source]; tracked {
		join.WriteString(" AND ")
		join.WriteString(qualifiedColumn(db.NewColumnKey(additional.Source, db.UploadIDColumn)))
		join.WriteString(" IN ?")
		args = append(args, activeIDs)
	}

	return join.String(), args, nil
}

func scanUniqueValues(rows *sql.Rows) (values []string, withinCap bool, err error) {
	defer rows.Close()

	for rows.Next() {
		var value any
		if err := rows.Scan(&value); err != nil {
			return nil, false, wrap.Error(err, "failed to scan unique value")
		}
		if value == nil {
			continue
		}
		values = append(values, stringifyDBValue(normalizeDBValue(value)))
	}

	if len(values) > db.UniqueValueCap {
		return nil, false, nil
	}

	sort.Strings(values)
	return values, true, nil
}
