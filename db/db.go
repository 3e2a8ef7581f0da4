// Package db defines the uniform query/filter/aggregation contract that every data backend
// implements, along with the value types crossing the contract boundary. The backends live in
// subpackages: relational (SQL through an ORM), flatfile (CSV directories) and elastic (search
// engine). A single graphic always queries exactly one backend.
package db

import (
	"context"
)

// UniqueValueCap is the cardinality cap for unique-value enumeration: columns with more
// distinct values than this are omitted from unique-value results, and the caller falls back
// to a free-text selector instead of a dropdown.
const UniqueValueCap = 200

// QueryTranslator is the common query contract, implemented once per backend. A translator is
// constructed per incoming page render from a QueryContext and discarded at response time;
// instances are not shared across requests. All methods block until the backend call completes;
// none of them retry.
type QueryTranslator interface {
	// GetColumnData returns the requested columns across the translator's main and joined
	// sources, restricted by the given filters. Equality filters carrying the ShowAll sentinel
	// contribute no predicate.
	GetColumnData(ctx context.Context, columns []ColumnKey, filters []Filter) (Table, error)

	// GetTableData returns all columns of the combined sources, restricted by the given
	// filters. Used for data export.
	GetTableData(ctx context.Context, filters []Filter) (Table, error)

	// GetColumnUniqueEntries returns the distinct values of each requested column, as strings
	// for selector rendering. A column whose filter has FilteredSelector set is narrowed by all
	// other active filters; otherwise its entries come from the unfiltered table. Columns
	// exceeding UniqueValueCap are omitted from the result.
	GetColumnUniqueEntries(
		ctx context.Context,
		columns []ColumnKey,
		filters []Filter,
	) (map[ColumnKey][]string, error)
}

// DataWriter ingests one batch of rows as a new upload for a data source. Implementations must
// validate the incoming data against the schema before writing anything; no partial writes.
type DataWriter interface {
	WriteDataUpload(
		ctx context.Context,
		source string,
		schema TableSchema,
		data DataSource,
		username string,
		notes string,
	) (UploadRecord, error)
}

// SchemaIntrospector discovers what can be queried on a backend, for populating the
// configuration wizard and selector widgets.
type SchemaIntrospector interface {
	// ListAvailableSources enumerates queryable sources (tables/directories/indices),
	// excluding backend metadata.
	ListAvailableSources(ctx context.Context) ([]string, error)

	// ColumnsForSource returns the source's columns with their primitive types.
	ColumnsForSource(ctx context.Context, source string) ([]SourceColumn, error)

	// UniqueValues enumerates distinct values for the given columns, subject to
	// UniqueValueCap: columns exceeding the cap are omitted from the result map. When
	// onlyUseActive is set, backends with an upload ledger restrict enumeration to rows from
	// active uploads.
	UniqueValues(
		ctx context.Context,
		columns []ColumnKey,
		onlyUseActive bool,
	) (map[ColumnKey][]string, error)
}

// SourceColumn is a column discovered by schema introspection.
type SourceColumn struct {
	Key      ColumnKey `json:"key"`
	DataType DataType  `json:"dataType"`
}

// Backend ties together everything a configured data backend provides. Ledger returns false
// for backends without an upload ledger (the flat-file backend versions by file presence only).
type Backend interface {
	SchemaIntrospector
	DataWriter

	// NewQueryTranslator constructs a request-scoped translator. The query context's
	// descriptor is validated against the backend's schema; unknown sources or join columns
	// give a ConfigurationError.
	NewQueryTranslator(ctx context.Context, queryCtx QueryContext) (QueryTranslator, error)

	Ledger() (ledger UploadLedger, hasLedger bool)
}

// DataSource is a row-wise reader of raw tabular data, implemented by the csv package's Reader.
type DataSource interface {
	ReadRow() (row []string, rowNumber int, done bool, err error)
}

// NumericVsCategorical partitions the given columns into identity-filter candidates and
// range-filter candidates. Low-cardinality columns (those present in uniqueValues, i.e. within
// UniqueValueCap) are identity-eligible regardless of type; numeric and datetime columns are
// range-eligible.
func NumericVsCategorical(
	columns []SourceColumn,
	uniqueValues map[ColumnKey][]string,
) (filterable []ColumnKey, numeric []ColumnKey) {
	for _, column := range columns {
		if _, lowCardinality := uniqueValues[column.Key]; lowCardinality {
			filterable = append(filterable, column.Key)
		}
		if column.DataType.IsRangeEligible() {
			numeric = append(numeric, column.Key)
		}
	}
	return filterable, numeric
}
