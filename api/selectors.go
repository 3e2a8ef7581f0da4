package api

import (
	"encoding/json"
	"net/http"
	"net/url"

	"hermannm.dev/dashboard/db"
	"hermannm.dev/dashboard/selector"
)

type SelectorRequest struct {
	DataSources db.DataSourceDescriptor `json:"dataSources"`
	Selectors   selector.Config         `json:"selectors"`
	// SubmittedValues holds the form values from the user's latest submission, keyed by the
	// selectors' form keys. Omitted keys fall back to configured defaults.
	SubmittedValues url.Values `json:"submittedValues,omitempty"`
	OnlyUseActive   *bool      `json:"onlyUseActive,omitempty"`
}

type SelectorResponse struct {
	// ResolvedFilters is the filter list produced by selector resolution, echoed back so the
	// web layer can reuse it for the subsequent data query.
	ResolvedFilters []db.Filter           `json:"resolvedFilters"`
	SelectInfo      []selector.SelectInfo `json:"selectInfo"`
}

// Expects:
//   - JSON-encoded SelectorRequest body
//
// Returns:
//   - JSON-encoded SelectorResponse with the resolved filters and the widget render
//     descriptors, including candidate dropdown values
func (api DashboardAPI) ResolveSelectors(res http.ResponseWriter, req *http.Request) {
	var request SelectorRequest
	if err := json.NewDecoder(req.Body).Decode(&request); err != nil {
		sendClientError(res, err, "failed to parse selector request body")
		return
	}

	filters, err := selector.Resolve(request.Selectors, request.SubmittedValues)
	if err != nil {
		sendClientError(res, err, "")
		return
	}

	queryCtx := db.NewQueryContext(request.DataSources)
	if request.OnlyUseActive != nil {
		queryCtx.OnlyUseActive = *request.OnlyUseActive
	}

	translator, err := api.backend.NewQueryTranslator(req.Context(), queryCtx)
	if err != nil {
		sendServerError(res, err, "failed to prepare selector resolution")
		return
	}

	selectInfo, err := selector.BuildSelectInfo(req.Context(), request.Selectors, filters, translator)
	if err != nil {
		sendServerError(res, err, "failed to build selector render info")
		return
	}

	sendJSON(res, SelectorResponse{ResolvedFilters: filters, SelectInfo: selectInfo})
}
