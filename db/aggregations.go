package db

import (
	"errors"
	"fmt"
	"slices"

	"hermannm.dev/enumnames"
	"hermannm.dev/wrap"
)

type AggregationKind uint8

const (
	AggregationCount AggregationKind = iota + 1
	AggregationAverage
	AggregationSum
	AggregationMin
	AggregationMax
)

var aggregationKindNames = enumnames.NewMap(map[AggregationKind]string{
	AggregationCount:   "COUNT",
	AggregationAverage: "AVERAGE",
	AggregationSum:     "SUM",
	AggregationMin:     "MIN",
	AggregationMax:     "MAX",
})

func (kind AggregationKind) IsValid() bool {
	return aggregationKindNames.ContainsEnumValue(kind)
}

func (kind AggregationKind) String() string {
	return aggregationKindNames.GetNameOrFallback(kind, "INVALID_AGGREGATION_KIND")
}

func (kind AggregationKind) MarshalJSON() ([]byte, error) {
	return aggregationKindNames.MarshalToNameJSON(kind)
}

func (kind *AggregationKind) UnmarshalJSON(bytes []byte) error {
	return aggregationKindNames.UnmarshalFromNameJSON(bytes, kind)
}

type BucketKind uint8

const (
	BucketTerms BucketKind = iota + 1
	BucketHistogram
	BucketDateHistogram
)

var bucketKindNames = enumnames.NewMap(map[BucketKind]string{
	BucketTerms:         "TERMS",
	BucketHistogram:     "HISTOGRAM",
	BucketDateHistogram: "DATE_HISTOGRAM",
})

func (kind BucketKind) IsValid() bool {
	return bucketKindNames.ContainsEnumValue(kind)
}

func (kind BucketKind) String() string {
	return bucketKindNames.GetNameOrFallback(kind, "INVALID_BUCKET_KIND")
}

func (kind BucketKind) MarshalJSON() ([]byte, error) {
	return bucketKindNames.MarshalToNameJSON(kind)
}

func (kind *BucketKind) UnmarshalJSON(bytes []byte) error {
	return bucketKindNames.UnmarshalFromNameJSON(bytes, kind)
}

// Bucket is one level of an aggregation's grouping tree.
type Bucket struct {
	Kind  BucketKind `json:"kind"`
	Field ColumnKey  `json:"field"`
	// Size caps the number of buckets at this level. Only valid for TERMS buckets.
	Size int `json:"size,omitempty"`
	// Interval is the bucket width. Only valid for HISTOGRAM and DATE_HISTOGRAM buckets.
	Interval int `json:"interval,omitempty"`
	// Units qualifies Interval for DATE_HISTOGRAM buckets (e.g. "d" for days), combined with it
	// into the backend's fixed-interval string.
	Units string `json:"units,omitempty"`
}

func (bucket Bucket) Validate() error {
	if !bucket.Kind.IsValid() {
		return errors.New("invalid bucket kind")
	}
	if err := bucket.Field.Validate(); err != nil {
		return wrap.Error(err, "invalid bucket field")
	}

	switch bucket.Kind {
	case BucketTerms:
		if bucket.Size < 0 {
			return fmt.Errorf("negative size %d for terms bucket", bucket.Size)
		}
	case BucketHistogram:
		if bucket.Interval <= 0 {
			return fmt.Errorf("histogram bucket requires positive interval, got %d", bucket.Interval)
		}
	case BucketDateHistogram:
		if bucket.Interval <= 0 {
			return fmt.Errorf(
				"date histogram bucket requires positive interval, got %d", bucket.Interval,
			)
		}
		if bucket.Units == "" {
			return errors.New("date histogram bucket requires interval units")
		}
	}

	return nil
}

// Metric is the terminal computation applied within the innermost buckets of an aggregation.
// Field may be blank for COUNT, which counts documents rather than reading a field.
type Metric struct {
	Kind  AggregationKind `json:"kind"`
	Field ColumnKey       `json:"field,omitempty"`
}

func (metric Metric) Validate() error {
	if !metric.Kind.IsValid() {
		return errors.New("invalid metric kind")
	}
	if metric.Kind != AggregationCount {
		if err := metric.Field.Validate(); err != nil {
			return wrap.Errorf(err, "metric %v requires a valid field", metric.Kind)
		}
	}
	return nil
}

// AggregationSpec describes a nested bucket aggregation: rows are grouped by each bucket in
// declared order, and the metric is computed within the innermost buckets. The flattened result
// has one column per bucket (in declared order) plus one for the metric.
type AggregationSpec struct {
	Buckets []Bucket `json:"buckets"`
	Metric  Metric   `json:"metric"`
	// SortOrder optionally orders the innermost buckets by the metric value.
	SortOrder SortOrder `json:"sortOrder,omitempty"`
}

// AggregationSpec is the fourth variant of the Filter union. Only the search backend accepts
// it; the relational and flat-file translators reject aggregation filters.
func (aggregation AggregationSpec) FilterType() FilterType {
	return FilterTypeAggregation
}

func (aggregation AggregationSpec) Validate() error {
	if len(aggregation.Buckets) == 0 {
		return errors.New("aggregation requires at least one bucket")
	}
	for i, bucket := range aggregation.Buckets {
		if err := bucket.Validate(); err != nil {
			return wrap.Errorf(err, "invalid bucket %d", i)
		}
	}
	if err := aggregation.Metric.Validate(); err != nil {
		return wrap.Error(err, "invalid metric")
	}
	return nil
}

// ResultColumns lists the columns of the flattened aggregation result: every bucket field in
// declared order, then the metric field (or the COUNT pseudo-column).
func (aggregation AggregationSpec) ResultColumns() []ColumnKey {
	columns := make([]ColumnKey, 0, len(aggregation.Buckets)+1)
	for _, bucket := range aggregation.Buckets {
		columns = append(columns, bucket.Field)
	}
	columns = append(columns, aggregation.MetricColumn())
	return columns
}

// MetricColumn is the column under which the metric's values appear in the flattened result.
// COUNT has no source field, so it gets a pseudo-column on the first bucket's source.
func (aggregation AggregationSpec) MetricColumn() ColumnKey {
	if aggregation.Metric.Kind == AggregationCount {
		source := ""
		if len(aggregation.Buckets) > 0 {
			source = aggregation.Buckets[0].Field.Source
		}
		return ColumnKey{Source: source, Column: "doc_count"}
	}
	return aggregation.Metric.Field
}

// CheckRequestedColumns verifies that the requested columns are a subset of the columns the
// flattened aggregation will produce, returning an AggregationShapeError otherwise. Called
// before the query is issued.
func (aggregation AggregationSpec) CheckRequestedColumns(columns []ColumnKey) error {
	resultColumns := aggregation.ResultColumns()
	for _, column := range columns {
		if !slices.Contains(resultColumns, column) {
			return AggregationShapeError{Column: column, ResultColumns: resultColumns}
		}
	}
	return nil
}
