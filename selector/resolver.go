package selector

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"hermannm.dev/dashboard/db"
	"hermannm.dev/wrap"
)

// Form key conventions for submitted selector values. Numeric bounds use the max/min naming,
// with fixed operators: max gives a <= predicate, min gives a >=.
const (
	BoundMax = "max"
	BoundMin = "min"
)

func FilterFormKey(index int) string {
	return fmt.Sprintf("filter_%d", index)
}

func NumericalFilterFormKey(index int, bound string) string {
	return fmt.Sprintf("numerical_filter_%d_%s_value", index, bound)
}

func MatchFormKey(index int) string {
	return fmt.Sprintf("match_%d", index)
}

// Resolve reconciles the configured selectors with submitted form values into the filter list
// for a page render. For each selector, in declaration order: a submitted value for the
// selector's form key wins, then the configured default, then a neutral default (the show-all
// sentinel for identity filters, unset bounds for numeric filters, no predicate for match
// selectors). Identity filters are always present in the result, so that their
// filtered-selector flag reaches candidate-value computation even when the selection is the
// show-all sentinel.
func Resolve(config Config, form url.Values) ([]db.Filter, error) {
	if err := config.Validate(); err != nil {
		return nil, wrap.Error(err, "invalid selector configuration")
	}

	var filters []db.Filter

	for i, filterConfig := range config.Filters {
		values := form[FilterFormKey(i)]
		if len(values) == 0 || !filterConfig.UserSelectable {
			values = filterConfig.DefaultSelected
		}
		if len(values) == 0 {
			values = []string{db.ShowAll}
		}

		filters = append(filters, db.EqualityFilter{
			Column:           filterConfig.Column,
			Values:           values,
			FilteredSelector: filterConfig.FilteredSelector,
		})
	}

	for i, numericalConfig := range config.NumericalFilters {
		bounds := []struct {
			name         string
			operator     db.NumericOperator
			defaultValue string
		}{
			{BoundMax, db.OperatorLessOrEqual, numericalConfig.DefaultMax},
			{BoundMin, db.OperatorGreaterOrEqual, numericalConfig.DefaultMin},
		}

		// Bounds are independently optional: only the bound(s) actually supplied contribute a
		// predicate.
		for _, bound := range bounds {
			rawValue := form.Get(NumericalFilterFormKey(i, bound.name))
			if rawValue == "" || !numericalConfig.UserSelectable {
				rawValue = bound.defaultValue
			}
			if rawValue == "" {
				continue
			}

			value, err := parseBound(rawValue)
			if err != nil {
				return nil, wrap.Errorf(
					err, "invalid %s bound for numerical filter %d", bound.name, i,
				)
			}

			filters = append(filters, db.NumericFilter{
				Column:   numericalConfig.Column,
				Operator: bound.operator,
				Value:    value,
			})
		}
	}

	for i, matchConfig := range config.Matches {
		query := form.Get(MatchFormKey(i))
		if query == "" || !matchConfig.UserSelectable {
			query = matchConfig.DefaultQuery
		}
		if query == "" {
			continue
		}

		filters = append(filters, db.MatchFilter{
			Fields:    matchConfig.Fields,
			Query:     query,
			Fuzziness: matchConfig.Fuzziness,
			Operator:  matchConfig.Operator,
		})
	}

	for _, aggregation := range config.Aggregations {
		filters = append(filters, aggregation)
	}

	return filters, nil
}

// parseBound interprets a raw bound value as a number, or as an RFC 3339 timestamp for bounds
// on datetime columns.
func parseBound(rawValue string) (any, error) {
	if number, err := strconv.ParseFloat(rawValue, 64); err == nil {
		return number, nil
	}
	if timestamp, err := time.Parse(time.RFC3339, rawValue); err == nil {
		return timestamp, nil
	}
	return nil, fmt.Errorf("'%s' is neither a number nor an RFC 3339 timestamp", rawValue)
}
