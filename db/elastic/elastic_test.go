package elastic

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"hermannm.dev/dashboard/db"
)

func accountsColumn(column string) db.ColumnKey {
	return db.NewColumnKey("accounts", column)
}

func accountsTranslator() *Translator {
	return &Translator{
		index: "accounts",
		columns: []db.SourceColumn{
			{Key: accountsColumn("gender"), DataType: db.DataTypeText},
			{Key: accountsColumn("state"), DataType: db.DataTypeText},
			{Key: accountsColumn("balance"), DataType: db.DataTypeInt},
		},
	}
}

func TestSearchRequestClauseFamilies(t *testing.T) {
	translator := accountsTranslator()
	translator.queryCtx.SortBy = []db.SortClause{
		{Column: accountsColumn("balance"), Order: db.SortOrderDescending},
	}
	activeUploads := []int64{1, 3}
	translator.activeUploads = &activeUploads

	request, err := translator.buildSearchRequest(
		[]db.ColumnKey{accountsColumn("gender"), accountsColumn("balance")},
		[]db.Filter{
			db.MatchFilter{
				Fields: []db.ColumnKey{accountsColumn("state")},
				Query:  "Virginia",
			},
			db.NumericFilter{
				Column:   accountsColumn("balance"),
				Operator: db.OperatorGreaterOrEqual,
				Value:    float64(1000),
			},
			db.EqualityFilter{Column: accountsColumn("gender"), Values: []string{"F"}},
		},
		nil,
	)
	if err != nil {
		t.Fatalf("failed to build search request: %v", err)
	}

	if len(request.Sort) != 1 || request.Sort[0]["balance"] != "desc" {
		t.Errorf("expected descending sort on balance, got %v", request.Sort)
	}

	boolQuery, ok := request.Query["bool"].(map[string]any)
	if !ok {
		t.Fatalf("expected bool query, got %v", request.Query)
	}

	// Term filters must precede range filters regardless of the order filters were given in,
	// with the active-upload restriction in between.
	filterClauses, ok := boolQuery["filter"].([]map[string]any)
	if !ok || len(filterClauses) != 3 {
		t.Fatalf("expected 3 filter clauses, got %v", boolQuery["filter"])
	}
	if _, isTerm := filterClauses[0]["term"]; !isTerm {
		t.Errorf("expected first filter clause to be a term clause, got %v", filterClauses[0])
	}
	if _, isTerms := filterClauses[1]["terms"]; !isTerms {
		t.Errorf("expected active-upload terms clause second, got %v", filterClauses[1])
	}
	if _, isRange := filterClauses[2]["range"]; !isRange {
		t.Errorf("expected range clause last, got %v", filterClauses[2])
	}

	mustClauses, ok := boolQuery["must"].([]map[string]any)
	if !ok || len(mustClauses) != 1 {
		t.Fatalf("expected 1 must clause, got %v", boolQuery["must"])
	}
	if _, isMatch := mustClauses[0]["match"]; !isMatch {
		t.Errorf("expected match clause in must, got %v", mustClauses[0])
	}

	if request.Size != defaultPageSize {
		t.Errorf("expected page size %d, got %d", defaultPageSize, request.Size)
	}
	if len(request.Source) != 2 || request.Source[0] != "gender" || request.Source[1] != "balance" {
		t.Errorf("expected source projection [gender balance], got %v", request.Source)
	}
}

func TestAggregationSuppressesPagination(t *testing.T) {
	translator := accountsTranslator()
	translator.queryCtx.SortBy = []db.SortClause{
		{Column: accountsColumn("balance"), Order: db.SortOrderAscending},
	}

	request, err := translator.buildSearchRequest(nil, nil, &db.AggregationSpec{
		Buckets: []db.Bucket{{Kind: db.BucketTerms, Field: accountsColumn("gender")}},
		Metric:  db.Metric{Kind: db.AggregationCount},
	})
	if err != nil {
		t.Fatalf("failed to build search request: %v", err)
	}

	if request.Aggs == nil {
		t.Error("expected aggregation clause to be set")
	}
	if request.From != 0 || request.Size != 0 {
		t.Errorf("expected pagination to be suppressed, got from=%d size=%d", request.From, request.Size)
	}
	if request.Sort != nil {
		t.Errorf("expected hit-level sort to be suppressed, got %v", request.Sort)
	}
	if request.Source != nil {
		t.Errorf("expected no source projection, got %v", request.Source)
	}
}

func TestRangeClauseOperators(t *testing.T) {
	balance := accountsColumn("balance")

	testCases := []struct {
		operator   db.NumericOperator
		comparison string
	}{
		{db.OperatorLess, "lt"},
		{db.OperatorLessOrEqual, "lte"},
		{db.OperatorGreaterOrEqual, "gte"},
		{db.OperatorGreater, "gt"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.comparison, func(t *testing.T) {
			clause, err := rangeClause(db.NumericFilter{
				Column:   balance,
				Operator: testCase.operator,
				Value:    float64(500),
			})
			if err != nil {
				t.Fatalf("failed to build range clause: %v", err)
			}

			rangeBody := clause["range"].(map[string]any)["balance"].(map[string]any)
			if rangeBody[testCase.comparison] != float64(500) {
				t.Errorf("expected %s comparison with value 500, got %v", testCase.comparison, rangeBody)
			}
		})
	}

	t.Run("equality becomes term clause", func(t *testing.T) {
		clause, err := rangeClause(db.NumericFilter{
			Column:   balance,
			Operator: db.OperatorEqual,
			Value:    float64(500),
		})
		if err != nil {
			t.Fatalf("failed to build clause: %v", err)
		}
		if _, isTerm := clause["term"]; !isTerm {
			t.Errorf("expected term clause for equality operator, got %v", clause)
		}
	})

	t.Run("time values formatted as timestamps", func(t *testing.T) {
		timestamp := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
		clause, err := rangeClause(db.NumericFilter{
			Column:   accountsColumn("created_at"),
			Operator: db.OperatorGreaterOrEqual,
			Value:    timestamp,
		})
		if err != nil {
			t.Fatalf("failed to build clause: %v", err)
		}

		rangeBody := clause["range"].(map[string]any)["created_at"].(map[string]any)
		if rangeBody["gte"] != "2023-06-01T12:00:00Z" {
			t.Errorf("expected RFC 3339 timestamp, got %v", rangeBody["gte"])
		}
	})
}

func TestMatchClauseVariants(t *testing.T) {
	t.Run("single field", func(t *testing.T) {
		clause := matchClause(db.MatchFilter{
			Fields:    []db.ColumnKey{accountsColumn("state")},
			Query:     "Virginia",
			Fuzziness: "AUTO",
		})

		matchBody, ok := clause["match"].(map[string]any)
		if !ok {
			t.Fatalf("expected match clause, got %v", clause)
		}
		fieldBody := matchBody["state"].(map[string]any)
		if fieldBody["query"] != "Virginia" || fieldBody["operator"] != "or" {
			t.Errorf("unexpected match clause body: %v", fieldBody)
		}
		if fieldBody["fuzziness"] != "AUTO" {
			t.Errorf("expected fuzziness to be forwarded, got %v", fieldBody)
		}
	})

	t.Run("multiple fields with AND", func(t *testing.T) {
		clause := matchClause(db.MatchFilter{
			Fields:   []db.ColumnKey{accountsColumn("state"), accountsColumn("gender")},
			Query:    "Virginia",
			Operator: db.MatchOperatorAND,
		})

		multiMatchBody, ok := clause["multi_match"].(map[string]any)
		if !ok {
			t.Fatalf("expected multi_match clause, got %v", clause)
		}
		if multiMatchBody["operator"] != "and" {
			t.Errorf("expected and operator, got %v", multiMatchBody["operator"])
		}
		fields := multiMatchBody["fields"].([]string)
		if len(fields) != 2 || fields[0] != "state" || fields[1] != "gender" {
			t.Errorf("expected fields [state gender], got %v", fields)
		}
		if _, hasFuzziness := multiMatchBody["fuzziness"]; hasFuzziness {
			t.Errorf("expected no fuzziness when not configured, got %v", multiMatchBody)
		}
	})
}

func TestBuildAggregationsNesting(t *testing.T) {
	aggs, err := buildAggregations(db.AggregationSpec{
		Buckets: []db.Bucket{
			{Kind: db.BucketTerms, Field: accountsColumn("gender"), Size: 10},
			{Kind: db.BucketTerms, Field: accountsColumn("state")},
		},
		Metric:    db.Metric{Kind: db.AggregationMax, Field: accountsColumn("balance")},
		SortOrder: db.SortOrderDescending,
	})
	if err != nil {
		t.Fatalf("failed to build aggregations: %v", err)
	}

	genderAgg, ok := aggs["gender"].(map[string]any)
	if !ok {
		t.Fatalf("expected outermost aggregation named gender, got %v", aggs)
	}
	genderTerms := genderAgg["terms"].(map[string]any)
	if genderTerms["field"] != "gender" || genderTerms["size"] != 10 {
		t.Errorf("unexpected terms clause for gender: %v", genderTerms)
	}
	if _, hasOrder := genderTerms["order"]; hasOrder {
		t.Error("expected no order on outer bucket")
	}

	stateAgg, ok := genderAgg["aggs"].(map[string]any)["state"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested aggregation named state, got %v", genderAgg["aggs"])
	}
	stateTerms := stateAgg["terms"].(map[string]any)
	order, ok := stateTerms["order"].(map[string]any)
	if !ok || order["balance"] != "desc" {
		t.Errorf("expected innermost bucket ordered by metric, got %v", stateTerms)
	}

	metricAgg, ok := stateAgg["aggs"].(map[string]any)["balance"].(map[string]any)
	if !ok {
		t.Fatalf("expected metric aggregation named balance, got %v", stateAgg["aggs"])
	}
	maxClause := metricAgg["max"].(map[string]any)
	if maxClause["field"] != "balance" {
		t.Errorf("expected max over balance, got %v", maxClause)
	}
}

func TestCountAggregationOrdersByDocCount(t *testing.T) {
	aggs, err := buildAggregations(db.AggregationSpec{
		Buckets:   []db.Bucket{{Kind: db.BucketTerms, Field: accountsColumn("gender")}},
		Metric:    db.Metric{Kind: db.AggregationCount},
		SortOrder: db.SortOrderAscending,
	})
	if err != nil {
		t.Fatalf("failed to build aggregations: %v", err)
	}

	genderTerms := aggs["gender"].(map[string]any)["terms"].(map[string]any)
	order := genderTerms["order"].(map[string]any)
	if order["_count"] != "asc" {
		t.Errorf("expected count aggregation ordered by _count, got %v", order)
	}
	if _, hasSubAggs := aggs["gender"].(map[string]any)["aggs"]; hasSubAggs {
		t.Error("expected no metric sub-aggregation for count")
	}
}

func TestDateHistogramInterval(t *testing.T) {
	clause, err := bucketAggregation(db.Bucket{
		Kind:     db.BucketDateHistogram,
		Field:    accountsColumn("created_at"),
		Interval: 7,
		Units:    "d",
	})
	if err != nil {
		t.Fatalf("failed to build bucket aggregation: %v", err)
	}

	dateHistogram := clause["date_histogram"].(map[string]any)
	if dateHistogram["fixed_interval"] != "7d" {
		t.Errorf("expected fixed interval 7d, got %v", dateHistogram["fixed_interval"])
	}
}

const nestedAggregationResponse = `{
	"aggregations": {
		"gender": {
			"buckets": [
				{
					"key": "F",
					"doc_count": 4,
					"state": {
						"buckets": [
							{"key": "TX", "doc_count": 3, "balance": {"value": 2500.0}},
							{"key": "VA", "doc_count": 1, "balance": {"value": 1200.0}}
						]
					}
				},
				{
					"key": "M",
					"doc_count": 2,
					"state": {
						"buckets": [
							{"key": "TX", "doc_count": 2, "balance": {"value": 900.0}}
						]
					}
				}
			]
		}
	}
}`

func TestFlattenNestedAggregationResponse(t *testing.T) {
	var response map[string]any
	if err := json.Unmarshal([]byte(nestedAggregationResponse), &response); err != nil {
		t.Fatalf("failed to parse canned response: %v", err)
	}

	aggregation := db.AggregationSpec{
		Buckets: []db.Bucket{
			{Kind: db.BucketTerms, Field: accountsColumn("gender")},
			{Kind: db.BucketTerms, Field: accountsColumn("state")},
		},
		Metric: db.Metric{Kind: db.AggregationMax, Field: accountsColumn("balance")},
	}

	table, err := flattenAggregations(response, aggregation)
	if err != nil {
		t.Fatalf("failed to flatten aggregations: %v", err)
	}

	expectedColumns := []db.ColumnKey{
		accountsColumn("gender"), accountsColumn("state"), accountsColumn("balance"),
	}
	for i, column := range table.Columns {
		if column != expectedColumns[i] {
			t.Errorf("expected column '%s', got '%s'", expectedColumns[i].Encode(), column.Encode())
		}
	}

	expectedRows := [][]any{
		{"F", "TX", 2500.0},
		{"F", "VA", 1200.0},
		{"M", "TX", 900.0},
	}
	if len(table.Rows) != len(expectedRows) {
		t.Fatalf("expected %d rows, got %d", len(expectedRows), len(table.Rows))
	}
	for i, expectedRow := range expectedRows {
		for j, expectedValue := range expectedRow {
			if table.Rows[i][j] != expectedValue {
				t.Errorf("row %d: expected %v, got %v", i, expectedRow, table.Rows[i])
				break
			}
		}
	}
}

func TestFlattenCountAggregation(t *testing.T) {
	var response map[string]any
	err := json.Unmarshal([]byte(`{
		"aggregations": {
			"gender": {
				"buckets": [
					{"key": "F", "doc_count": 4},
					{"key": "M", "doc_count": 2}
				]
			}
		}
	}`), &response)
	if err != nil {
		t.Fatalf("failed to parse canned response: %v", err)
	}

	table, err := flattenAggregations(response, db.AggregationSpec{
		Buckets: []db.Bucket{{Kind: db.BucketTerms, Field: accountsColumn("gender")}},
		Metric:  db.Metric{Kind: db.AggregationCount},
	})
	if err != nil {
		t.Fatalf("failed to flatten aggregations: %v", err)
	}

	if len(table.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(table.Rows))
	}
	if table.Rows[0][1] != 4.0 || table.Rows[1][1] != 2.0 {
		t.Errorf("expected document counts as metric values, got %v", table.Rows)
	}
}

func TestProjectColumnsUnknownColumn(t *testing.T) {
	table := db.NewTable([]db.ColumnKey{accountsColumn("gender")})

	_, err := projectColumns(table, []db.ColumnKey{accountsColumn("no_such_column")})
	if err == nil {
		t.Fatal("expected error for unknown column")
	}

	var schemaMismatch db.SchemaMismatchError
	if !errors.As(err, &schemaMismatch) {
		t.Errorf("expected SchemaMismatchError, got %T", err)
	}
}

func TestBucketKeyPrefersFormattedValue(t *testing.T) {
	key := bucketKeyValue(map[string]any{
		"key":           1685620800000.0,
		"key_as_string": "2023-06-01",
	})
	if key != "2023-06-01" {
		t.Errorf("expected formatted key, got %v", key)
	}

	key = bucketKeyValue(map[string]any{"key": "TX"})
	if key != "TX" {
		t.Errorf("expected plain key, got %v", key)
	}
}

func TestParseUniqueValuesCapsCardinality(t *testing.T) {
	buckets := make([]any, 0, db.UniqueValueCap+1)
	for i := 0; i <= db.UniqueValueCap; i++ {
		buckets = append(buckets, map[string]any{"key": "value", "doc_count": 1.0})
	}
	response := map[string]any{
		"aggregations": map[string]any{
			"id": map[string]any{"buckets": buckets},
		},
	}

	_, withinCap, err := parseUniqueValues(response, accountsColumn("id"))
	if err != nil {
		t.Fatalf("failed to parse unique values: %v", err)
	}
	if withinCap {
		t.Error("expected column exceeding the cardinality cap to be flagged")
	}

	response["aggregations"].(map[string]any)["id"] = map[string]any{
		"buckets": []any{
			map[string]any{"key": "b", "doc_count": 1.0},
			map[string]any{"key": "a", "doc_count": 2.0},
		},
	}
	values, withinCap, err := parseUniqueValues(response, accountsColumn("id"))
	if err != nil {
		t.Fatalf("failed to parse unique values: %v", err)
	}
	if !withinCap {
		t.Error("expected small column to be within the cap")
	}
	if len(values) != 2 || values[0] != "a" || values[1] != "b" {
		t.Errorf("expected sorted values [a b], got %v", values)
	}
}
