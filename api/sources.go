package api

import (
	"net/http"

	"hermannm.dev/dashboard/db"
)

// Returns:
//   - JSON list of queryable data source names on the configured backend
func (api DashboardAPI) ListSources(res http.ResponseWriter, req *http.Request) {
	sources, err := api.backend.ListAvailableSources(req.Context())
	if err != nil {
		sendServerError(res, err, "failed to list available data sources")
		return
	}

	sendJSON(res, sources)
}

type SourceColumnsResponse struct {
	Columns []db.SourceColumn `json:"columns"`
	// FilterableColumns lists columns eligible for dropdown selectors (cardinality within the
	// unique-value cap); NumericColumns lists columns eligible for range selectors.
	FilterableColumns []db.ColumnKey `json:"filterableColumns"`
	NumericColumns    []db.ColumnKey `json:"numericColumns"`
}

// Expects:
//   - query parameter 'source': name of data source to get columns for
//
// Returns:
//   - JSON-encoded SourceColumnsResponse, for populating the graphic configuration wizard
func (api DashboardAPI) SourceColumns(res http.ResponseWriter, req *http.Request) {
	source := req.URL.Query().Get("source")
	if source == "" {
		sendClientError(res, nil, "missing 'source' query parameter in request")
		return
	}

	columns, err := api.backend.ColumnsForSource(req.Context(), source)
	if err != nil {
		sendServerError(res, err, "failed to get columns for data source")
		return
	}

	columnKeys := make([]db.ColumnKey, 0, len(columns))
	for _, column := range columns {
		columnKeys = append(columnKeys, column.Key)
	}

	uniqueValues, err := api.backend.UniqueValues(req.Context(), columnKeys, true)
	if err != nil {
		sendServerError(res, err, "failed to get unique values for data source columns")
		return
	}

	filterable, numeric := db.NumericVsCategorical(columns, uniqueValues)

	sendJSON(res, SourceColumnsResponse{
		Columns:           columns,
		FilterableColumns: filterable,
		NumericColumns:    numeric,
	})
}
