// Package selector resolves a graphic's declared selectors and a user's submitted form values
// into the filter list passed to query translators, and builds the render descriptors for the
// selector widgets themselves.
package selector

import (
	"fmt"

	"hermannm.dev/dashboard/db"
	"hermannm.dev/wrap"
)

// Config is a graphic's selector configuration block, keyed by selector kind. Selectors are
// resolved in declaration order within each kind.
type Config struct {
	Filters          []FilterConfig          `json:"filter,omitempty"`
	NumericalFilters []NumericalFilterConfig `json:"numericalFilter,omitempty"`
	Matches          []MatchConfig           `json:"match,omitempty"`
	Aggregations     []db.AggregationSpec    `json:"aggregations,omitempty"`
}

// FilterConfig declares an identity-filter selector: a dropdown over a column's unique values.
type FilterConfig struct {
	Column db.ColumnKey `json:"column"`
	// Label is the widget's display name, falling back to the column name when blank.
	Label string `json:"label,omitempty"`
	// DefaultSelected is used when the request carries no value for this selector's form key.
	DefaultSelected []string `json:"defaultSelected,omitempty"`
	// UserSelectable controls whether the widget is rendered at all; a non-selectable filter
	// always applies its default.
	UserSelectable bool `json:"userSelectable"`
	// FilteredSelector narrows this dropdown's candidate values by the other active filters.
	FilteredSelector bool `json:"filteredSelector,omitempty"`
	AllowMultiple    bool `json:"allowMultiple,omitempty"`
}

// NumericalFilterConfig declares a numeric-range selector with independently optional bounds.
type NumericalFilterConfig struct {
	Column db.ColumnKey `json:"column"`
	Label  string       `json:"label,omitempty"`
	// DefaultMax/DefaultMin are raw bound values (numbers, or RFC 3339 timestamps for datetime
	// columns), used when the request carries no value for the corresponding form key. A blank
	// default leaves that bound unset.
	DefaultMax     string `json:"defaultMax,omitempty"`
	DefaultMin     string `json:"defaultMin,omitempty"`
	UserSelectable bool   `json:"userSelectable"`
}

// MatchConfig declares a free-text search selector, only supported on the search backend.
type MatchConfig struct {
	Fields         []db.ColumnKey   `json:"fields"`
	Label          string           `json:"label,omitempty"`
	DefaultQuery   string           `json:"defaultQuery,omitempty"`
	Fuzziness      string           `json:"fuzziness,omitempty"`
	Operator       db.MatchOperator `json:"operator,omitempty"`
	UserSelectable bool             `json:"userSelectable"`
}

func (config Config) Validate() error {
	for i, filter := range config.Filters {
		if err := filter.Column.Validate(); err != nil {
			return wrap.Errorf(err, "invalid column for filter selector %d", i)
		}
	}
	for i, numerical := range config.NumericalFilters {
		if err := numerical.Column.Validate(); err != nil {
			return wrap.Errorf(err, "invalid column for numerical filter selector %d", i)
		}
	}
	for i, match := range config.Matches {
		if len(match.Fields) == 0 {
			return fmt.Errorf("match selector %d has no fields", i)
		}
		for _, field := range match.Fields {
			if err := field.Validate(); err != nil {
				return wrap.Errorf(err, "invalid field for match selector %d", i)
			}
		}
	}
	for i, aggregation := range config.Aggregations {
		if err := aggregation.Validate(); err != nil {
			return wrap.Errorf(err, "invalid aggregation %d", i)
		}
	}
	return nil
}

func (config FilterConfig) label() string {
	if config.Label != "" {
		return config.Label
	}
	return config.Column.Column
}

func (config NumericalFilterConfig) label() string {
	if config.Label != "" {
		return config.Label
	}
	return config.Column.Column
}

func (config MatchConfig) label() string {
	if config.Label != "" {
		return config.Label
	}
	if len(config.Fields) > 0 {
		return config.Fields[0].Column
	}
	return ""
}
