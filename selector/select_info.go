package selector

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"hermannm.dev/dashboard/db"
	"hermannm.dev/wrap"
)

// HTML templates used to render each selector kind.
const (
	DropdownTemplate    = "selector.html"
	RangeInputTemplate  = "numerical_filter.html"
	SearchInputTemplate = "text_search.html"
)

// SelectInfo describes one selector widget for the page-rendering layer.
type SelectInfo struct {
	SelectorType db.FilterType `json:"selectorType"`
	HTMLTemplate string        `json:"htmlTemplate"`
	FormKey      string        `json:"formKey"`
	Label        string        `json:"label"`
	// ActiveSelection is the selector's currently resolved value(s), so the widget can render
	// with the user's choice preserved.
	ActiveSelection []string `json:"activeSelection"`
	AllowMultiple   bool     `json:"allowMultiple"`
	// CandidateEntries holds the dropdown's choices. Empty for selector kinds without
	// enumerable candidates (numeric bounds, text search), and for columns whose cardinality
	// exceeds the unique-value cap, where the widget falls back to free-text input.
	CandidateEntries []string `json:"candidateEntries,omitempty"`
}

// BuildSelectInfo produces the render descriptors for a graphic's user-selectable selectors.
// Candidate values for identity-filter dropdowns come from the translator's unique-entry
// computation, which narrows by sibling filters when the selector's filtered-selector flag is
// set. The show-all sentinel is prepended to every dropdown's candidates.
func BuildSelectInfo(
	ctx context.Context,
	config Config,
	resolvedFilters []db.Filter,
	translator db.QueryTranslator,
) ([]SelectInfo, error) {
	var selectInfo []SelectInfo

	var dropdownColumns []db.ColumnKey
	for _, filterConfig := range config.Filters {
		if filterConfig.UserSelectable {
			dropdownColumns = append(dropdownColumns, filterConfig.Column)
		}
	}

	candidateEntries := make(map[db.ColumnKey][]string)
	if len(dropdownColumns) > 0 {
		var err error
		candidateEntries, err = translator.GetColumnUniqueEntries(
			ctx, dropdownColumns, resolvedFilters,
		)
		if err != nil {
			return nil, wrap.Error(err, "failed to get candidate values for selectors")
		}
	}

	for i, filterConfig := range config.Filters {
		if !filterConfig.UserSelectable {
			continue
		}

		candidates := candidateEntries[filterConfig.Column]
		if candidates != nil {
			candidates = append([]string{db.ShowAll}, candidates...)
		}

		selectInfo = append(selectInfo, SelectInfo{
			SelectorType:     db.FilterTypeEquality,
			HTMLTemplate:     DropdownTemplate,
			FormKey:          FilterFormKey(i),
			Label:            filterConfig.label(),
			ActiveSelection:  activeEqualitySelection(filterConfig.Column, resolvedFilters),
			AllowMultiple:    filterConfig.AllowMultiple,
			CandidateEntries: candidates,
		})
	}

	for i, numericalConfig := range config.NumericalFilters {
		if !numericalConfig.UserSelectable {
			continue
		}

		for _, bound := range []string{BoundMax, BoundMin} {
			operator := db.OperatorLessOrEqual
			if bound == BoundMin {
				operator = db.OperatorGreaterOrEqual
			}

			selectInfo = append(selectInfo, SelectInfo{
				SelectorType: db.FilterTypeNumeric,
				HTMLTemplate: RangeInputTemplate,
				FormKey:      NumericalFilterFormKey(i, bound),
				Label:        numericalConfig.label() + " (" + bound + ")",
				ActiveSelection: activeNumericSelection(
					numericalConfig.Column, operator, resolvedFilters,
				),
			})
		}
	}

	for i, matchConfig := range config.Matches {
		if !matchConfig.UserSelectable {
			continue
		}

		selectInfo = append(selectInfo, SelectInfo{
			SelectorType:    db.FilterTypeMatch,
			HTMLTemplate:    SearchInputTemplate,
			FormKey:         MatchFormKey(i),
			Label:           matchConfig.label(),
			ActiveSelection: activeMatchSelection(matchConfig.Fields, resolvedFilters),
		})
	}

	return selectInfo, nil
}

func activeEqualitySelection(column db.ColumnKey, filters []db.Filter) []string {
	for _, filter := range filters {
		if equality, isEquality := filter.(db.EqualityFilter); isEquality &&
			equality.Column == column {
			return equality.Values
		}
	}
	return nil
}

func activeNumericSelection(
	column db.ColumnKey,
	operator db.NumericOperator,
	filters []db.Filter,
) []string {
	for _, filter := range filters {
		if numeric, isNumeric := filter.(db.NumericFilter); isNumeric &&
			numeric.Column == column && numeric.Operator == operator {
			return []string{stringifyBound(numeric.Value)}
		}
	}
	return nil
}

func activeMatchSelection(fields []db.ColumnKey, filters []db.Filter) []string {
	for _, filter := range filters {
		match, isMatch := filter.(db.MatchFilter)
		if isMatch && fieldsEqual(match.Fields, fields) {
			return []string{match.Query}
		}
	}
	return nil
}

func fieldsEqual(left []db.ColumnKey, right []db.ColumnKey) bool {
	if len(left) != len(right) {
		return false
	}
	for i := range left {
		if left[i] != right[i] {
			return false
		}
	}
	return true
}

func stringifyBound(value any) string {
	switch value := value.(type) {
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case time.Time:
		return value.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", value)
	}
}
