package api

import (
	"encoding/json"
	"net/http"
)

// Expects:
//   - query parameter 'table': name of data source to list uploads for
//
// Returns:
//   - JSON list of db.UploadRecord, oldest first
func (api DashboardAPI) ListUploads(res http.ResponseWriter, req *http.Request) {
	table := req.URL.Query().Get("table")
	if table == "" {
		sendClientError(res, nil, "missing 'table' query parameter in request")
		return
	}

	ledger, hasLedger := api.backend.Ledger()
	if !hasLedger {
		sendClientError(res, nil, "the configured data backend has no upload ledger")
		return
	}

	uploads, err := ledger.ListUploads(req.Context(), table)
	if err != nil {
		sendServerError(res, err, "failed to list uploads")
		return
	}

	sendJSON(res, uploads)
}

type ActiveStatusRequest struct {
	Table string `json:"table"`
	// Statuses maps upload IDs to their new active flag. Flipping a flag never touches row
	// data; inactive uploads are only excluded from default queries.
	Statuses map[int64]bool `json:"statuses"`
}

// Expects:
//   - JSON-encoded ActiveStatusRequest body
func (api DashboardAPI) UpdateUploadActiveStatus(res http.ResponseWriter, req *http.Request) {
	var request ActiveStatusRequest
	if err := json.NewDecoder(req.Body).Decode(&request); err != nil {
		sendClientError(res, err, "failed to parse active status update from request body")
		return
	}
	if request.Table == "" || len(request.Statuses) == 0 {
		sendClientError(res, nil, "active status update requires a table and at least one status")
		return
	}

	ledger, hasLedger := api.backend.Ledger()
	if !hasLedger {
		sendClientError(res, nil, "the configured data backend has no upload ledger")
		return
	}

	if err := ledger.UpdateActiveStatus(req.Context(), request.Table, request.Statuses); err != nil {
		sendServerError(res, err, "failed to update upload active status")
		return
	}

	sendJSON(res, struct{}{})
}

// Expects:
//   - query parameter 'table': name of data source to remove upload metadata for
//
// Destructive maintenance operation, only used when replacing a table wholesale.
func (api DashboardAPI) RemoveUploadMetadata(res http.ResponseWriter, req *http.Request) {
	table := req.URL.Query().Get("table")
	if table == "" {
		sendClientError(res, nil, "missing 'table' query parameter in request")
		return
	}

	ledger, hasLedger := api.backend.Ledger()
	if !hasLedger {
		sendClientError(res, nil, "the configured data backend has no upload ledger")
		return
	}

	if err := ledger.RemoveMetadataRowsForTable(req.Context(), table); err != nil {
		sendServerError(res, err, "failed to remove upload metadata")
		return
	}

	sendJSON(res, struct{}{})
}
