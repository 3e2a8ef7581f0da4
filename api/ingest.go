package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"hermannm.dev/dashboard/csv"
	"hermannm.dev/dashboard/db"
	"hermannm.dev/wrap"
)

const maxRowsToCheckForCSVSchemaDeduction = 100

// Expects:
//   - multipart form field 'csvFile': CSV file to deduce types from
//
// Returns:
//   - JSON-encoded db.TableSchema
func (api DashboardAPI) DeduceCSVTableSchema(res http.ResponseWriter, req *http.Request) {
	csvFile, _, err := req.FormFile("csvFile")
	if err != nil {
		sendClientError(res, err, "failed to get file upload from request")
		return
	}
	defer csvFile.Close()

	csvReader, err := csv.NewReader(csvFile, false)
	if err != nil {
		sendServerError(res, err, "failed to read uploaded CSV file")
		return
	}

	schema, err := csvReader.DeduceTableSchema(maxRowsToCheckForCSVSchemaDeduction)
	if err != nil {
		sendServerError(res, err, "failed to deduce table schema from uploaded CSV")
		return
	}

	sendJSON(res, schema)
}

// Expects:
//   - query parameter 'source': name of data source to upload to
//   - optional query parameters 'username' and 'notes' for the upload record
//   - multipart form field 'tableSchema': JSON-encoded db.TableSchema
//   - multipart form field 'csvFile': CSV file to read data from
//
// Returns:
//   - JSON-encoded db.UploadRecord for the new upload
func (api DashboardAPI) UploadCSVData(res http.ResponseWriter, req *http.Request) {
	source := req.URL.Query().Get("source")
	if source == "" {
		sendClientError(res, nil, "missing 'source' query parameter in request")
		return
	}

	schema, err := getTableSchemaFromRequest(req)
	if err != nil {
		sendClientError(res, err, "")
		return
	}

	csvFile, _, err := req.FormFile("csvFile")
	if err != nil {
		sendClientError(res, err, "failed to get CSV file from request")
		return
	}
	defer csvFile.Close()

	csvReader, err := csv.NewReader(csvFile, true)
	if err != nil {
		sendServerError(res, err, "failed to read uploaded CSV file")
		return
	}

	upload, err := api.backend.WriteDataUpload(
		req.Context(),
		source,
		schema,
		csvReader,
		req.URL.Query().Get("username"),
		req.URL.Query().Get("notes"),
	)
	if err != nil {
		sendServerError(res, err, "failed to write uploaded CSV data")
		return
	}

	sendJSON(res, upload)
}

func getTableSchemaFromRequest(req *http.Request) (db.TableSchema, error) {
	schemaInput := req.FormValue("tableSchema")
	if schemaInput == "" {
		return db.TableSchema{}, errors.New("missing form field 'tableSchema' in request")
	}

	var schema db.TableSchema
	if err := json.Unmarshal([]byte(schemaInput), &schema); err != nil {
		return db.TableSchema{}, wrap.Error(err, "failed to parse table schema from request")
	}

	if errs := schema.Validate(); len(errs) > 0 {
		return db.TableSchema{}, wrap.Errors("invalid table schema", errs...)
	}

	return schema, nil
}
