package db

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBackendConnectivity marks errors caused by an unreachable backend (database, search engine
// or filesystem). This layer never retries; callers are expected to render a failure state.
var ErrBackendConnectivity = errors.New("data backend unreachable")

// ConfigurationError marks a malformed data-source descriptor or selector configuration. It is
// surfaced before any query executes.
type ConfigurationError struct {
	Reason string
}

func (err ConfigurationError) Error() string {
	return "invalid data source configuration: " + err.Reason
}

// SchemaMismatchError marks a requested column that does not exist in the backend schema, e.g. a
// stale graphic referencing a dropped column.
type SchemaMismatchError struct {
	Column ColumnKey
}

func (err SchemaMismatchError) Error() string {
	return fmt.Sprintf("column '%s' not present in backend schema", err.Column.Encode())
}

// IngestValidationError marks an uploaded table that fails validation before any write occurs.
// No partial writes are permitted.
type IngestValidationError struct {
	Reason string
}

func (err IngestValidationError) Error() string {
	return "uploaded data failed validation: " + err.Reason
}

// AggregationShapeError marks a requested column that the declared aggregation buckets cannot
// produce. Raised synchronously before the query is issued.
type AggregationShapeError struct {
	Column        ColumnKey
	ResultColumns []ColumnKey
}

func (err AggregationShapeError) Error() string {
	resultColumns := make([]string, 0, len(err.ResultColumns))
	for _, column := range err.ResultColumns {
		resultColumns = append(resultColumns, column.Encode())
	}

	return fmt.Sprintf(
		"requested column '%s' is not among the aggregation's result columns [%s]",
		err.Column.Encode(),
		strings.Join(resultColumns, ", "),
	)
}
