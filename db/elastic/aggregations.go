package elastic

import (
	"context"
	"fmt"

	"hermannm.dev/dashboard/db"
	"hermannm.dev/wrap"
)

func (translator *Translator) runAggregationQuery(
	ctx context.Context,
	aggregation db.AggregationSpec,
	filters []db.Filter,
) (db.Table, error) {
	if err := aggregation.Validate(); err != nil {
		return db.Table{}, wrap.Error(err, "invalid aggregation")
	}

	request, err := translator.buildSearchRequest(nil, filters, &aggregation)
	if err != nil {
		return db.Table{}, err
	}

	response, err := translator.search(ctx, request)
	if err != nil {
		return db.Table{}, wrap.Error(err, "aggregation query failed")
	}

	return flattenAggregations(response, aggregation)
}

// buildAggregations nests one sub-aggregation per bucket, in declared order, with a metric
// computation inside the innermost bucket (count uses the bucket's own document count, so it
// needs no sub-aggregation). Each bucket aggregation is named after its field, and the metric
// aggregation after the metric's field, so the response can be walked by those names.
func buildAggregations(aggregation db.AggregationSpec) (map[string]any, error) {
	var innermost map[string]any

	if aggregation.Metric.Kind != db.AggregationCount {
		metricClause, err := metricAggregation(aggregation.Metric)
		if err != nil {
			return nil, err
		}
		innermost = map[string]any{aggregation.Metric.Field.Column: metricClause}
	}

	aggs := innermost
	for i := len(aggregation.Buckets) - 1; i >= 0; i-- {
		bucket := aggregation.Buckets[i]

		bucketClause, err := bucketAggregation(bucket)
		if err != nil {
			return nil, err
		}

		// Bucket ordering by the metric applies on the innermost bucket only, as that is where
		// the metric is computed.
		if i == len(aggregation.Buckets)-1 && aggregation.SortOrder.IsValid() {
			order, _ := sortOrderToElastic(aggregation.SortOrder)

			orderTarget := "_count"
			if aggregation.Metric.Kind != db.AggregationCount {
				orderTarget = aggregation.Metric.Field.Column
			}

			for _, clause := range bucketClause {
				clauseMap, isMap := clause.(map[string]any)
				if isMap {
					clauseMap["order"] = map[string]any{orderTarget: order}
				}
			}
		}

		if aggs != nil {
			bucketClause["aggs"] = aggs
		}
		aggs = map[string]any{bucket.Field.Column: bucketClause}
	}

	return aggs, nil
}

func bucketAggregation(bucket db.Bucket) (map[string]any, error) {
	switch bucket.Kind {
	case db.BucketTerms:
		clause := map[string]any{"field": bucket.Field.Column}
		if bucket.Size > 0 {
			clause["size"] = bucket.Size
		}
		return map[string]any{"terms": clause}, nil
	case db.BucketHistogram:
		return map[string]any{"histogram": map[string]any{
			"field":    bucket.Field.Column,
			"interval": bucket.Interval,
		}}, nil
	case db.BucketDateHistogram:
		return map[string]any{"date_histogram": map[string]any{
			"field":          bucket.Field.Column,
			"fixed_interval": fmt.Sprintf("%d%s", bucket.Interval, bucket.Units),
		}}, nil
	default:
		return nil, fmt.Errorf("invalid bucket kind")
	}
}

func metricAggregation(metric db.Metric) (map[string]any, error) {
	var name string
	switch metric.Kind {
	case db.AggregationAverage:
		name = "avg"
	case db.AggregationSum:
		name = "sum"
	case db.AggregationMin:
		name = "min"
	case db.AggregationMax:
		name = "max"
	default:
		return nil, fmt.Errorf("invalid metric kind")
	}
	return map[string]any{name: map[string]any{"field": metric.Field.Column}}, nil
}

// flattenAggregations unrolls the nested bucket tree of a search engine response into a flat
// table: one column per bucket level in declared order, then the metric column. Every innermost
// bucket becomes one row, with the keys of its ancestor buckets repeated on the row.
func flattenAggregations(
	response map[string]any,
	aggregation db.AggregationSpec,
) (db.Table, error) {
	table := db.NewTable(aggregation.ResultColumns())

	aggregations, ok := response["aggregations"].(map[string]any)
	if !ok {
		return db.Table{}, fmt.Errorf("search engine response is missing aggregations")
	}

	err := walkBuckets(aggregations, aggregation, 0, nil, &table)
	if err != nil {
		return db.Table{}, err
	}
	return table, nil
}

func walkBuckets(
	container map[string]any,
	aggregation db.AggregationSpec,
	depth int,
	ancestorKeys []any,
	table *db.Table,
) error {
	bucket := aggregation.Buckets[depth]

	buckets, err := bucketsFromContainer(container, bucket.Field.Column)
	if err != nil {
		return err
	}

	lastLevel := depth == len(aggregation.Buckets)-1

	for _, rawBucket := range buckets {
		bucketMap, ok := rawBucket.(map[string]any)
		if !ok {
			return fmt.Errorf("malformed bucket in aggregation '%s'", bucket.Field.Column)
		}

		keys := append(ancestorKeys[:len(ancestorKeys):len(ancestorKeys)], bucketKeyValue(bucketMap))

		if !lastLevel {
			if err := walkBuckets(bucketMap, aggregation, depth+1, keys, table); err != nil {
				return err
			}
			continue
		}

		metricValue, err := metricValueFromBucket(bucketMap, aggregation.Metric)
		if err != nil {
			return err
		}
		if err := table.AppendRow(append(keys, metricValue)); err != nil {
			return err
		}
	}

	return nil
}

// bucketKeyValue prefers the formatted key where the search engine provides one (e.g. date
// histograms return both an epoch key and a formatted key_as_string).
func bucketKeyValue(bucket map[string]any) any {
	if keyAsString, hasFormatted := bucket["key_as_string"]; hasFormatted {
		return keyAsString
	}
	return bucket["key"]
}

func metricValueFromBucket(bucket map[string]any, metric db.Metric) (any, error) {
	if metric.Kind == db.AggregationCount {
		docCount, ok := bucket["doc_count"]
		if !ok {
			return nil, fmt.Errorf("aggregation bucket is missing document count")
		}
		return docCount, nil
	}

	metricContainer, ok := bucket[metric.Field.Column].(map[string]any)
	if !ok {
		return nil, fmt.Errorf(
			"aggregation bucket is missing metric '%s'", metric.Field.Column,
		)
	}
	return metricContainer["value"], nil
}

// projectColumns narrows a flattened aggregation table to the requested columns, in the
// requested order.
func projectColumns(table db.Table, columns []db.ColumnKey) (db.Table, error) {
	if len(columns) == 0 {
		return table, nil
	}

	indices := make([]int, 0, len(columns))
	for _, column := range columns {
		index, found := table.ColumnIndex(column)
		if !found {
			return db.Table{}, db.SchemaMismatchError{Column: column}
		}
		indices = append(indices, index)
	}

	projected := db.NewTable(columns)
	for _, row := range table.Rows {
		values := make([]any, 0, len(indices))
		for _, index := range indices {
			values = append(values, row[index])
		}
		if err := projected.AppendRow(values); err != nil {
			return db.Table{}, err
		}
	}
	return projected, nil
}
