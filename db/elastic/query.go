package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"hermannm.dev/dashboard/db"
	"hermannm.dev/wrap"
)

// The search engine paginates hit-level results; this is the page size used when no
// aggregation replaces hit output.
const defaultPageSize = 10000

type Translator struct {
	client   *elasticsearch.Client
	queryCtx db.QueryContext
	index    string
	columns  []db.SourceColumn
	// activeUploads is non-nil when active-only mode found ledger records for the index.
	activeUploads *[]int64
}

func (translator *Translator) hasColumn(key db.ColumnKey) bool {
	for _, column := range translator.columns {
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
	aggregation, plainFilters, err := splitAggregation(filters)
	if err != nil {
		return db.Table{}, err
	}

	if aggregation != nil {
		if err := aggregation.CheckRequestedColumns(columns); err != nil {
			return db.Table{}, err
		}

		flattened, err := translator.runAggregationQuery(ctx, *aggregation, plainFilters)
		if err != nil {
			return db.Table{}, err
		}
		return projectColumns(flattened, columns)
	}

	for _, column := range columns {
		if column.Source != translator.index {
			return db.Table{}, db.ConfigurationError{
				Reason: fmt.Sprintf(
					"column '%s' does not belong to data source '%s'",
					column.Encode(),
					translator.index,
				),
			}
		}
		if !translator.hasColumn(column) {
			return db.Table{}, db.SchemaMismatchError{Column: column}
		}
	}

	request, err := translator.buildSearchRequest(columns, plainFilters, nil)
	if err != nil {
		return db.Table{}, err
	}

	response, err := translator.search(ctx, request)
	if err != nil {
		return db.Table{}, err
	}

	return parseHits(response, columns)
}

func (translator *Translator) GetTableData(
	ctx context.Context,
	filters []db.Filter,
) (db.Table, error) {
	columns := make([]db.ColumnKey, 0, len(translator.columns))
	for _, column := range translator.columns {
		columns = append(columns, column.Key)
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
		if !translator.hasColumn(column) {
			return nil, db.SchemaMismatchError{Column: column}
		}

		siblingFilters := db.FiltersForUniqueEntries(column, filters)
		request, err := translator.buildSearchRequest(nil, siblingFilters, &db.AggregationSpec{
			Buckets: []db.Bucket{
				{Kind: db.BucketTerms, Field: column, Size: db.UniqueValueCap + 1},
			},
			Metric: db.Metric{Kind: db.AggregationCount},
		})
		if err != nil {
			return nil, err
		}

		response, err := translator.search(ctx, request)
		if err != nil {
			return nil, wrap.Errorf(
				err, "unique value query failed for column '%s'", column.Encode(),
			)
		}

		values, withinCap, err := parseUniqueValues(response, column)
		if err != nil {
			return nil, err
		}
		if withinCap {
			uniqueEntries[column] = values
		}
	}

	return uniqueEntries, nil
}

func splitAggregation(
	filters []db.Filter,
) (aggregation *db.AggregationSpec, plainFilters []db.Filter, err error) {
	for _, filter := range db.ActiveFilters(filters) {
		if spec, isAggregation := filter.(db.AggregationSpec); isAggregation {
			if aggregation != nil {
				return nil, nil, db.ConfigurationError{
					Reason: "a query may carry at most one aggregation",
				}
			}
			spec := spec
			aggregation = &spec
		} else {
			plainFilters = append(plainFilters, filter)
		}
	}
	return aggregation, plainFilters, nil
}

// searchRequest is the structured query sent to the search engine. Clause families are
// resolved in a fixed order — sort, term filters, range filters, match, aggregation — since
// sort and filters must be settled before pagination, and an aggregation replaces hit-level
// pagination entirely.
type searchRequest struct {
	Sort   []map[string]string `json:"sort,omitempty"`
	Query  map[string]any      `json:"query,omitempty"`
	Aggs   map[string]any      `json:"aggs,omitempty"`
	From   int                 `json:"from"`
	Size   int                 `json:"size"`
	Source []string            `json:"_source,omitempty"`
}

func (translator *Translator) buildSearchRequest(
	columns []db.ColumnKey,
	filters []db.Filter,
	aggregation *db.AggregationSpec,
) (searchRequest, error) {
	var request searchRequest

	// 1: sort
	for _, sortClause := range translator.queryCtx.SortBy {
		order, ok := sortOrderToElastic(sortClause.Order)
		if !ok {
			return searchRequest{}, fmt.Errorf("invalid sort order in query context")
		}
		request.Sort = append(request.Sort, map[string]string{sortClause.Column.Column: order})
	}

	var filterClauses []map[string]any
	var mustClauses []map[string]any

	// 2: term filters
	for _, filter := range filters {
		if equality, isEquality := filter.(db.EqualityFilter); isEquality {
			filterClauses = append(filterClauses, termsClause(
				equality.Column.Column, equality.Values,
			))
		}
	}
	if translator.activeUploads != nil {
		filterClauses = append(filterClauses, map[string]any{
			"terms": map[string]any{db.UploadIDColumn: *translator.activeUploads},
		})
	}

	// 3: range filters
	for _, filter := range filters {
		if numeric, isNumeric := filter.(db.NumericFilter); isNumeric {
			clause, err := rangeClause(numeric)
			if err != nil {
				return searchRequest{}, err
			}
			filterClauses = append(filterClauses, clause)
		}
	}

	// 4: match
	for _, filter := range filters {
		if match, isMatch := filter.(db.MatchFilter); isMatch {
			mustClauses = append(mustClauses, matchClause(match))
		}
	}

	if len(filterClauses) > 0 || len(mustClauses) > 0 {
		boolQuery := make(map[string]any)
		if len(filterClauses) > 0 {
			boolQuery["filter"] = filterClauses
		}
		if len(mustClauses) > 0 {
			boolQuery["must"] = mustClauses
		}
		request.Query = map[string]any{"bool": boolQuery}
	}

	// 5: aggregation, which suppresses hit-level pagination
	if aggregation != nil {
		aggs, err := buildAggregations(*aggregation)
		if err != nil {
			return searchRequest{}, err
		}
		request.Aggs = aggs
		request.From = 0
		request.Size = 0
		request.Sort = nil
	} else {
		request.From = 0
		request.Size = defaultPageSize
		for _, column := range columns {
			request.Source = append(request.Source, column.Column)
		}
	}

	return request, nil
}

func termsClause(field string, values []string) map[string]any {
	if len(values) == 1 {
		return map[string]any{"term": map[string]any{field: map[string]any{
			"value": values[0],
		}}}
	}
	return map[string]any{"terms": map[string]any{field: values}}
}

func rangeClause(filter db.NumericFilter) (map[string]any, error) {
	value := filter.Value
	if timeValue, isTime := value.(time.Time); isTime {
		value = timeValue.Format(time.RFC3339)
	}

	field := filter.Column.Column

	var comparison string
	switch filter.Operator {
	case db.OperatorLess:
		comparison = "lt"
	case db.OperatorLessOrEqual:
		comparison = "lte"
	case db.OperatorEqual:
		return map[string]any{
			"term": map[string]any{field: map[string]any{"value": value}},
		}, nil
	case db.OperatorGreaterOrEqual:
		comparison = "gte"
	case db.OperatorGreater:
		comparison = "gt"
	default:
		return nil, fmt.Errorf("invalid numeric filter operator")
	}

	return map[string]any{
		"range": map[string]any{field: map[string]any{comparison: value}},
	}, nil
}

func matchClause(filter db.MatchFilter) map[string]any {
	operator := "or"
	if filter.Operator == db.MatchOperatorAND {
		operator = "and"
	}

	if len(filter.Fields) == 1 {
		clause := map[string]any{
			"query":    filter.Query,
			"operator": operator,
		}
		if filter.Fuzziness != "" {
			clause["fuzziness"] = filter.Fuzziness
		}
		return map[string]any{"match": map[string]any{filter.Fields[0].Column: clause}}
	}

	fields := make([]string, 0, len(filter.Fields))
	for _, field := range filter.Fields {
		fields = append(fields, field.Column)
	}

	clause := map[string]any{
		"query":    filter.Query,
		"fields":   fields,
		"operator": operator,
	}
	if filter.Fuzziness != "" {
		clause["fuzziness"] = filter.Fuzziness
	}
	return map[string]any{"multi_match": clause}
}

func sortOrderToElastic(sortOrder db.SortOrder) (elasticSortOrder string, ok bool) {
	switch sortOrder {
	case db.SortOrderAscending:
		return "asc", true
	case db.SortOrderDescending:
		return "desc", true
	default:
		return "", false
	}
}

func (translator *Translator) search(
	ctx context.Context,
	request searchRequest,
) (map[string]any, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, wrap.Error(err, "failed to serialize search request")
	}

	return parseResponse(translator.client.Search(
		translator.client.Search.WithContext(ctx),
		translator.client.Search.WithIndex(translator.index),
		translator.client.Search.WithBody(bytes.NewReader(body)),
	))
}

func parseHits(response map[string]any, columns []db.ColumnKey) (db.Table, error) {
	table := db.NewTable(columns)

	hitsContainer, ok := response["hits"].(map[string]any)
	if !ok {
		return db.Table{}, fmt.Errorf("search engine response is missing hits")
	}
	hits, ok := hitsContainer["hits"].([]any)
	if !ok {
		return db.Table{}, fmt.Errorf("search engine response has malformed hits list")
	}

	for _, hit := range hits {
		hitMap, ok := hit.(map[string]any)
		if !ok {
			return db.Table{}, fmt.Errorf("search engine response has malformed hit")
		}
		source, _ := hitMap["_source"].(map[string]any)

		values := make([]any, 0, len(columns))
		for _, column := range columns {
			values = append(values, source[column.Column])
		}
		if err := table.AppendRow(values); err != nil {
			return db.Table{}, err
		}
	}

	return table, nil
}

func parseUniqueValues(
	response map[string]any,
	column db.ColumnKey,
) (values []string, withinCap bool, err error) {
	buckets, err := bucketsFromResponse(response, column.Column)
	if err != nil {
		return nil, false, err
	}
	if len(buckets) > db.UniqueValueCap {
		return nil, false, nil
	}

	for _, bucket := range buckets {
		bucketMap, ok := bucket.(map[string]any)
		if !ok {
			return nil, false, fmt.Errorf("malformed aggregation bucket")
		}
		values = append(values, stringifyBucketKey(bucketKeyValue(bucketMap)))
	}

	sort.Strings(values)
	return values, true, nil
}

func bucketsFromResponse(response map[string]any, aggregationName string) ([]any, error) {
	aggregations, ok := response["aggregations"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("search engine response is missing aggregations")
	}
	return bucketsFromContainer(aggregations, aggregationName)
}

func bucketsFromContainer(container map[string]any, aggregationName string) ([]any, error) {
	aggregation, ok := container[aggregationName].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("response is missing aggregation '%s'", aggregationName)
	}
	buckets, ok := aggregation["buckets"].([]any)
	if !ok {
		return nil, fmt.Errorf("aggregation '%s' has no bucket list", aggregationName)
	}
	return buckets, nil
}

func stringifyBucketKey(key any) string {
	switch key := key.(type) {
	case string:
		return key
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%f", key), ".000000")
	default:
		return fmt.Sprintf("%v", key)
	}
}
