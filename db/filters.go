package db

import (
	"slices"

	"hermannm.dev/enumnames"
)

// ShowAll is the sentinel selection value meaning "no restriction". An equality filter whose
// accepted values are exactly [ShowAll] contributes no predicate to a query, and must never be
// matched against as a literal string.
const ShowAll = "SHOW_ALL_ROW_DATA"

type FilterType uint8

const (
	FilterTypeEquality FilterType = iota + 1
	FilterTypeNumeric
	FilterTypeMatch
	FilterTypeAggregation
)

var filterTypeNames = enumnames.NewMap(map[FilterType]string{
	FilterTypeEquality:    "FILTER",
	FilterTypeNumeric:     "NUMERICAL_FILTER",
	FilterTypeMatch:       "MATCH",
	FilterTypeAggregation: "AGGREGATIONS",
})

func (filterType FilterType) IsValid() bool {
	return filterTypeNames.ContainsEnumValue(filterType)
}

func (filterType FilterType) String() string {
	return filterTypeNames.GetNameOrFallback(filterType, "INVALID_FILTER_TYPE")
}

func (filterType FilterType) MarshalJSON() ([]byte, error) {
	return filterTypeNames.MarshalToNameJSON(filterType)
}

func (filterType *FilterType) UnmarshalJSON(bytes []byte) error {
	return filterTypeNames.UnmarshalFromNameJSON(bytes, filterType)
}

// Filter is the closed union of predicate value objects that query translators accept: the
// variants are EqualityFilter, NumericFilter, MatchFilter and AggregationSpec; translators
// switch on FilterType to build their backend's native predicate. Filters are immutable:
// resolvers produce new filter lists rather than mutating existing ones.
type Filter interface {
	FilterType() FilterType
}

// EqualityFilter accepts rows where the column's value equals any of the accepted values
// (IN semantics).
type EqualityFilter struct {
	Column ColumnKey
	Values []string
	// FilteredSelector controls candidate-value computation for this column's dropdown: when
	// true, candidates are narrowed by all other active filters; when false, candidates come
	// from the unfiltered table.
	FilteredSelector bool
}

func (filter EqualityFilter) FilterType() FilterType {
	return FilterTypeEquality
}

// IsShowAll reports whether this filter is the "no restriction" sentinel, in which case it must
// contribute no predicate.
func (filter EqualityFilter) IsShowAll() bool {
	return len(filter.Values) == 1 && filter.Values[0] == ShowAll
}

// NumericFilter accepts rows where the column's value compares against the filter value under
// the given operator. Value is either a float64 or a time.Time.
type NumericFilter struct {
	Column   ColumnKey
	Operator NumericOperator
	Value    any
}

func (filter NumericFilter) FilterType() FilterType {
	return FilterTypeNumeric
}

// MatchFilter accepts rows where any of the given fields match the query text. Only the search
// backend supports it; the relational and flat-file translators reject it.
type MatchFilter struct {
	Fields    []ColumnKey
	Query     string
	Fuzziness string
	Operator  MatchOperator
}

func (filter MatchFilter) FilterType() FilterType {
	return FilterTypeMatch
}

// ActiveFilters strips equality filters carrying the ShowAll sentinel, returning the filters
// that actually contribute predicates.
func ActiveFilters(filters []Filter) []Filter {
	active := make([]Filter, 0, len(filters))
	for _, filter := range filters {
		if equality, isEquality := filter.(EqualityFilter); isEquality && equality.IsShowAll() {
			continue
		}
		active = append(active, filter)
	}
	return active
}

// FiltersForUniqueEntries gives the filters to apply when computing candidate dropdown values
// for the given column. A column whose own filter has FilteredSelector set gets its candidates
// narrowed by every other active filter; otherwise candidates are computed unfiltered.
func FiltersForUniqueEntries(column ColumnKey, filters []Filter) []Filter {
	// The flag is checked against all filters, not just active ones: a selector whose current
	// selection is the ShowAll sentinel still narrows its candidates by its siblings.
	filteredSelector := false
	for _, filter := range filters {
		if equality, isEquality := filter.(EqualityFilter); isEquality &&
			equality.Column == column && equality.FilteredSelector {
			filteredSelector = true
			break
		}
	}
	if !filteredSelector {
		return nil
	}

	siblings := make([]Filter, 0, len(filters))
	for _, filter := range ActiveFilters(filters) {
		if equality, isEquality := filter.(EqualityFilter); isEquality &&
			equality.Column == column {
			continue
		}
		siblings = append(siblings, filter)
	}
	return siblings
}

// FilterColumns lists the distinct columns referenced by the given filters, in order of first
// appearance.
func FilterColumns(filters []Filter) []ColumnKey {
	var columns []ColumnKey
	appendColumn := func(column ColumnKey) {
		if !slices.Contains(columns, column) {
			columns = append(columns, column)
		}
	}

	for _, filter := range filters {
		switch filter := filter.(type) {
		case EqualityFilter:
			appendColumn(filter.Column)
		case NumericFilter:
			appendColumn(filter.Column)
		case MatchFilter:
			for _, field := range filter.Fields {
				appendColumn(field)
			}
		}
	}

	return columns
}
