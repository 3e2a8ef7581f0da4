package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"hermannm.dev/dashboard/db"
)

// FilterSpec is the JSON shape of a single filter in a query request, covering every variant of
// the filter union. Type decides which of the other fields are read.
type FilterSpec struct {
	Type db.FilterType `json:"type"`

	// Equality and numerical filter fields.
	Column           db.ColumnKey `json:"column,omitempty"`
	Values           []string     `json:"values,omitempty"`
	FilteredSelector bool         `json:"filteredSelector,omitempty"`

	// Numerical filter fields. Value is a number, or an RFC 3339 timestamp string for datetime
	// columns.
	Operator db.NumericOperator `json:"operator,omitempty"`
	Value    any                `json:"value,omitempty"`

	// Match filter fields.
	Fields        []db.ColumnKey   `json:"fields,omitempty"`
	Query         string           `json:"query,omitempty"`
	Fuzziness     string           `json:"fuzziness,omitempty"`
	MatchOperator db.MatchOperator `json:"matchOperator,omitempty"`

	// Aggregation fields.
	Aggregation *db.AggregationSpec `json:"aggregation,omitempty"`
}

func (spec FilterSpec) ToFilter() (db.Filter, error) {
	switch spec.Type {
	case db.FilterTypeEquality:
		if len(spec.Values) == 0 {
			return nil, errors.New("equality filter has no values")
		}
		return db.EqualityFilter{
			Column:           spec.Column,
			Values:           spec.Values,
			FilteredSelector: spec.FilteredSelector,
		}, nil
	case db.FilterTypeNumeric:
		value, err := numericFilterValue(spec.Value)
		if err != nil {
			return nil, err
		}
		if !spec.Operator.IsValid() {
			return nil, errors.New("numerical filter has invalid operator")
		}
		return db.NumericFilter{Column: spec.Column, Operator: spec.Operator, Value: value}, nil
	case db.FilterTypeMatch:
		if spec.Query == "" {
			return nil, errors.New("match filter has blank query")
		}
		operator := spec.MatchOperator
		if operator == 0 {
			operator = db.MatchOperatorOR
		}
		return db.MatchFilter{
			Fields:    spec.Fields,
			Query:     spec.Query,
			Fuzziness: spec.Fuzziness,
			Operator:  operator,
		}, nil
	case db.FilterTypeAggregation:
		if spec.Aggregation == nil {
			return nil, errors.New("aggregation filter is missing aggregation")
		}
		return *spec.Aggregation, nil
	default:
		return nil, fmt.Errorf("unrecognized filter type")
	}
}

func numericFilterValue(rawValue any) (any, error) {
	switch rawValue := rawValue.(type) {
	case float64:
		return rawValue, nil
	case string:
		timestamp, err := time.Parse(time.RFC3339, rawValue)
		if err != nil {
			return nil, fmt.Errorf(
				"numerical filter value '%s' is not an RFC 3339 timestamp", rawValue,
			)
		}
		return timestamp, nil
	default:
		return nil, errors.New("numerical filter value must be a number or timestamp string")
	}
}

func filterSpecsToFilters(specs []FilterSpec) ([]db.Filter, error) {
	filters := make([]db.Filter, 0, len(specs))
	for i, spec := range specs {
		filter, err := spec.ToFilter()
		if err != nil {
			return nil, fmt.Errorf("invalid filter %d: %w", i, err)
		}
		filters = append(filters, filter)
	}
	return filters, nil
}

type QueryRequest struct {
	DataSources db.DataSourceDescriptor `json:"dataSources"`
	Columns     []db.ColumnKey          `json:"columns,omitempty"`
	Filters     []FilterSpec            `json:"filters,omitempty"`
	SortBy      []db.SortClause         `json:"sortBy,omitempty"`
	// OnlyUseActive defaults to true when omitted.
	OnlyUseActive *bool `json:"onlyUseActive,omitempty"`
	// Orient selects column- or record-oriented output, defaulting to columns.
	Orient db.Orient `json:"orient,omitempty"`
}

func (request QueryRequest) queryContext() db.QueryContext {
	queryCtx := db.NewQueryContext(request.DataSources)
	if request.OnlyUseActive != nil {
		queryCtx.OnlyUseActive = *request.OnlyUseActive
	}
	queryCtx.SortBy = request.SortBy
	return queryCtx
}

func (request QueryRequest) orient() db.Orient {
	if request.Orient == 0 {
		return db.OrientColumns
	}
	return request.Orient
}

// Expects:
//   - JSON-encoded QueryRequest body with a non-empty column list
//
// Returns:
//   - queried data in the requested orient
func (api DashboardAPI) Query(res http.ResponseWriter, req *http.Request) {
	var request QueryRequest
	if err := json.NewDecoder(req.Body).Decode(&request); err != nil {
		sendClientError(res, err, "failed to parse query from request body")
		return
	}
	if len(request.Columns) == 0 {
		sendClientError(res, nil, "query request has no columns")
		return
	}

	filters, err := filterSpecsToFilters(request.Filters)
	if err != nil {
		sendClientError(res, err, "")
		return
	}

	translator, err := api.backend.NewQueryTranslator(req.Context(), request.queryContext())
	if err != nil {
		sendServerError(res, err, "failed to prepare query")
		return
	}

	table, err := translator.GetColumnData(req.Context(), request.Columns, filters)
	if err != nil {
		sendServerError(res, err, "failed to run query")
		return
	}

	result, err := table.Orient(request.orient())
	if err != nil {
		sendClientError(res, err, "")
		return
	}

	sendJSON(res, result)
}

// Expects:
//   - JSON-encoded QueryRequest body (columns are ignored; all columns are returned)
//
// Returns:
//   - all columns of the combined data sources, in the requested orient
func (api DashboardAPI) TableData(res http.ResponseWriter, req *http.Request) {
	var request QueryRequest
	if err := json.NewDecoder(req.Body).Decode(&request); err != nil {
		sendClientError(res, err, "failed to parse query from request body")
		return
	}

	filters, err := filterSpecsToFilters(request.Filters)
	if err != nil {
		sendClientError(res, err, "")
		return
	}

	translator, err := api.backend.NewQueryTranslator(req.Context(), request.queryContext())
	if err != nil {
		sendServerError(res, err, "failed to prepare query")
		return
	}

	table, err := translator.GetTableData(req.Context(), filters)
	if err != nil {
		sendServerError(res, err, "failed to get table data")
		return
	}

	result, err := table.Orient(request.orient())
	if err != nil {
		sendClientError(res, err, "")
		return
	}

	sendJSON(res, result)
}

// Expects:
//   - JSON-encoded QueryRequest body with a non-empty column list
//
// Returns:
//   - JSON object mapping encoded column keys to their distinct values, omitting columns whose
//     cardinality exceeds the unique-value cap
func (api DashboardAPI) UniqueValues(res http.ResponseWriter, req *http.Request) {
	var request QueryRequest
	if err := json.NewDecoder(req.Body).Decode(&request); err != nil {
		sendClientError(res, err, "failed to parse query from request body")
		return
	}
	if len(request.Columns) == 0 {
		sendClientError(res, nil, "unique value request has no columns")
		return
	}

	filters, err := filterSpecsToFilters(request.Filters)
	if err != nil {
		sendClientError(res, err, "")
		return
	}

	translator, err := api.backend.NewQueryTranslator(req.Context(), request.queryContext())
	if err != nil {
		sendServerError(res, err, "failed to prepare query")
		return
	}

	uniqueEntries, err := translator.GetColumnUniqueEntries(req.Context(), request.Columns, filters)
	if err != nil {
		sendServerError(res, err, "failed to get unique column values")
		return
	}

	sendJSON(res, uniqueEntries)
}
