package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"hermannm.dev/dashboard/db"
	"hermannm.dev/devlog/log"
	"hermannm.dev/wrap"
)

func sendJSON(res http.ResponseWriter, value any) {
	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(res).Encode(value); err != nil {
		log.ErrorCause(err, "failed to serialize response")
	}
}

func sendClientError(res http.ResponseWriter, err error, message string) {
	sendError(res, err, message, http.StatusBadRequest)
}

func sendServerError(res http.ResponseWriter, err error, message string) {
	sendError(res, err, message, statusCodeForError(err))
}

func sendError(res http.ResponseWriter, err error, message string, statusCode int) {
	if err != nil {
		if message == "" {
			message = err.Error()
		} else {
			message = wrap.Error(err, message).Error()
		}
	}

	if statusCode >= http.StatusInternalServerError {
		log.ErrorMessage(message)
	}
	http.Error(res, message, statusCode)
}

// statusCodeForError downgrades errors caused by the caller's request (bad configuration,
// invalid uploads, malformed aggregations) to client errors, and maps unreachable backends to
// a gateway error, so the web layer can distinguish failure states.
func statusCodeForError(err error) int {
	var configurationError db.ConfigurationError
	var schemaMismatchError db.SchemaMismatchError
	var ingestValidationError db.IngestValidationError
	var aggregationShapeError db.AggregationShapeError

	switch {
	case errors.As(err, &configurationError),
		errors.As(err, &schemaMismatchError),
		errors.As(err, &ingestValidationError),
		errors.As(err, &aggregationShapeError):
		return http.StatusBadRequest
	case errors.Is(err, db.ErrBackendConnectivity):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
