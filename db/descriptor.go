package db

import (
	"fmt"
)

// JoinKey pairs a column of an already-joined source with a column of the source being joined
// in. Joins are equi-joins only.
type JoinKey struct {
	Left  ColumnKey `json:"left"`
	Right ColumnKey `json:"right"`
}

// AdditionalSource declares a secondary data source to left-join onto the main source.
type AdditionalSource struct {
	Source   string    `json:"dataSourceType"`
	JoinKeys []JoinKey `json:"joinKeys"`
}

// DataSourceDescriptor identifies the backend tables/collections a single graphic queries:
// exactly one main source, plus any number of additional sources joined in declared order.
type DataSourceDescriptor struct {
	MainSource        string             `json:"mainDataSource"`
	AdditionalSources []AdditionalSource `json:"additionalDataSources,omitempty"`
}

func (descriptor DataSourceDescriptor) Validate() error {
	if descriptor.MainSource == "" {
		return ConfigurationError{Reason: "missing main data source"}
	}

	for _, additional := range descriptor.AdditionalSources {
		if additional.Source == "" {
			return ConfigurationError{Reason: "additional data source missing source name"}
		}
		if len(additional.JoinKeys) == 0 {
			return ConfigurationError{
				Reason: fmt.Sprintf(
					"additional data source '%s' declares no join keys", additional.Source,
				),
			}
		}

		for _, joinKey := range additional.JoinKeys {
			if err := joinKey.Left.Validate(); err != nil {
				return ConfigurationError{
					Reason: fmt.Sprintf(
						"invalid left join key for source '%s': %v", additional.Source, err,
					),
				}
			}
			if err := joinKey.Right.Validate(); err != nil {
				return ConfigurationError{
					Reason: fmt.Sprintf(
						"invalid right join key for source '%s': %v", additional.Source, err,
					),
				}
			}
			if joinKey.Right.Source != additional.Source {
				return ConfigurationError{
					Reason: fmt.Sprintf(
						"right join key '%s' does not belong to joined source '%s'",
						joinKey.Right.Encode(),
						additional.Source,
					),
				}
			}
		}
	}

	return nil
}

// Sources lists the main source followed by the additional sources, in declaration order.
func (descriptor DataSourceDescriptor) Sources() []string {
	sources := make([]string, 0, len(descriptor.AdditionalSources)+1)
	sources = append(sources, descriptor.MainSource)
	for _, additional := range descriptor.AdditionalSources {
		sources = append(sources, additional.Source)
	}
	return sources
}

// QueryContext carries the request-scoped inputs a query translator is constructed with. It is
// built fresh per page render and discarded with the translator at response time; translators
// never read ambient globals.
type QueryContext struct {
	Descriptor DataSourceDescriptor `json:"dataSources"`
	// OnlyUseActive restricts queries to rows from active uploads (the default for backends
	// with an upload ledger). Disabling it lets admin callers query inactive uploads directly.
	OnlyUseActive bool `json:"onlyUseActive"`
	// SortBy orders hit-level results on the search backend. Resolved before pagination, and
	// suppressed (along with pagination) when the query carries an aggregation.
	SortBy []SortClause `json:"sortBy,omitempty"`
}

type SortClause struct {
	Column ColumnKey `json:"column"`
	Order  SortOrder `json:"order"`
}

func NewQueryContext(descriptor DataSourceDescriptor) QueryContext {
	return QueryContext{Descriptor: descriptor, OnlyUseActive: true}
}
