package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/google/uuid"
	"hermannm.dev/dashboard/db"
	"hermannm.dev/wrap"
)

// metadataIndexName is the index holding upload ledger records for every data index.
const metadataIndexName = "data_upload_metadata"

// Ledger implements the upload ledger on a dedicated metadata index, with one document per
// upload. Document IDs are deterministic ("<table>-<uploadID>") so that active-status updates
// can address records directly.
type Ledger struct {
	client *elasticsearch.Client
}

func uploadDocumentID(table string, uploadID int64) string {
	return fmt.Sprintf("%s-%d", table, uploadID)
}

func (ledger *Ledger) ListUploads(
	ctx context.Context,
	table string,
) ([]db.UploadRecord, error) {
	requestBody, err := json.Marshal(map[string]any{
		"query": map[string]any{
			"term": map[string]any{"tableName": map[string]any{"value": table}},
		},
		"sort": []map[string]string{{"uploadId": "asc"}},
		"size": defaultPageSize,
	})
	if err != nil {
		return nil, wrap.Error(err, "failed to serialize upload metadata query")
	}

	response, err := parseResponse(ledger.client.Search(
		ledger.client.Search.WithContext(ctx),
		ledger.client.Search.WithIndex(metadataIndexName),
		ledger.client.Search.WithBody(bytes.NewReader(requestBody)),
		// A missing metadata index just means nothing has been uploaded yet.
		ledger.client.Search.WithIgnoreUnavailable(true),
	))
	if err != nil {
		return nil, wrap.Errorf(err, "upload metadata query failed for table '%s'", table)
	}

	hitsContainer, _ := response["hits"].(map[string]any)
	hits, _ := hitsContainer["hits"].([]any)

	uploads := make([]db.UploadRecord, 0, len(hits))
	for _, hit := range hits {
		hitMap, _ := hit.(map[string]any)

		sourceJSON, err := json.Marshal(hitMap["_source"])
		if err != nil {
			return nil, wrap.Error(err, "failed to re-encode upload metadata document")
		}

		var upload db.UploadRecord
		if err := json.Unmarshal(sourceJSON, &upload); err != nil {
			return nil, wrap.Error(err, "failed to decode upload metadata document")
		}
		uploads = append(uploads, upload)
	}

	return uploads, nil
}

func (ledger *Ledger) NextUploadID(ctx context.Context, table string) (int64, error) {
	uploads, err := ledger.ListUploads(ctx, table)
	if err != nil {
		return 0, err
	}

	var maxID int64
	for _, upload := range uploads {
		if upload.UploadID > maxID {
			maxID = upload.UploadID
		}
	}
	return maxID + 1, nil
}

func (ledger *Ledger) UpdateActiveStatus(
	ctx context.Context,
	table string,
	statuses map[int64]bool,
) error {
	for uploadID, active := range statuses {
		updateBody, err := json.Marshal(map[string]any{
			"doc": map[string]any{"active": active},
		})
		if err != nil {
			return wrap.Error(err, "failed to serialize active status update")
		}

		response, err := ledger.client.Update(
			metadataIndexName,
			uploadDocumentID(table, uploadID),
			bytes.NewReader(updateBody),
			ledger.client.Update.WithContext(ctx),
			ledger.client.Update.WithRefresh("wait_for"),
		)
		if err != nil {
			return wrap.Error(db.ErrBackendConnectivity, err.Error())
		}
		if response.StatusCode == 404 {
			response.Body.Close()
			return fmt.Errorf("table '%s' has no upload with ID %d", table, uploadID)
		}
		if _, err := parseResponse(response, nil); err != nil {
			return wrap.Errorf(
				err, "failed to update active status of upload %d for table '%s'",
				uploadID, table,
			)
		}
	}

	return nil
}

func (ledger *Ledger) RemoveMetadataRowsForTable(ctx context.Context, table string) error {
	requestBody, err := json.Marshal(map[string]any{
		"query": map[string]any{
			"term": map[string]any{"tableName": map[string]any{"value": table}},
		},
	})
	if err != nil {
		return wrap.Error(err, "failed to serialize upload metadata deletion query")
	}

	_, err = parseResponse(ledger.client.DeleteByQuery(
		[]string{metadataIndexName},
		bytes.NewReader(requestBody),
		ledger.client.DeleteByQuery.WithContext(ctx),
		ledger.client.DeleteByQuery.WithIgnoreUnavailable(true),
		ledger.client.DeleteByQuery.WithRefresh(true),
	))
	if err != nil {
		return wrap.Errorf(err, "failed to remove upload metadata for table '%s'", table)
	}

	return nil
}

func (ledger *Ledger) insertUploadRecord(ctx context.Context, upload db.UploadRecord) error {
	documentJSON, err := json.Marshal(upload)
	if err != nil {
		return wrap.Error(err, "failed to serialize upload metadata document")
	}

	_, err = parseResponse(ledger.client.Index(
		metadataIndexName,
		bytes.NewReader(documentJSON),
		ledger.client.Index.WithContext(ctx),
		ledger.client.Index.WithDocumentID(uploadDocumentID(upload.TableName, upload.UploadID)),
		ledger.client.Index.WithRefresh("wait_for"),
	))
	if err != nil {
		return wrap.Error(err, "failed to store upload metadata document")
	}

	return nil
}

func (backend *Backend) WriteDataUpload(
	ctx context.Context,
	source string,
	schema db.TableSchema,
	data db.DataSource,
	username string,
	notes string,
) (db.UploadRecord, error) {
	if errs := schema.Validate(); len(errs) > 0 {
		return db.UploadRecord{}, wrap.Errors("invalid table schema", errs...)
	}

	ledger := &Ledger{client: backend.client}
	uploadID, err := ledger.NextUploadID(ctx, source)
	if err != nil {
		return db.UploadRecord{}, wrap.Error(err, "failed to allocate upload ID")
	}
	uploadTime := time.Now().UTC()

	// Every row is validated and converted before anything is written, so a malformed row
	// cannot leave a partial upload behind.
	var rows []map[string]any
	for {
		row, rowNumber, done, err := data.ReadRow()
		if done {
			break
		}
		if err != nil {
			return db.UploadRecord{}, wrap.Error(err, "failed to read row")
		}

		rowMap, err := schema.ConvertRowToMap(row)
		if err != nil {
			return db.UploadRecord{}, wrap.Errorf(
				err,
				"failed to convert row %d to data types expected by table schema",
				rowNumber,
			)
		}

		rowMap[db.UploadIDColumn] = uploadID
		rowMap[db.UploadTimeColumn] = uploadTime.Format(time.RFC3339)
		rowMap[db.RowIndexColumn] = len(rows)
		rows = append(rows, rowMap)
	}

	if err := backend.ensureDataIndex(ctx, source, schema); err != nil {
		return db.UploadRecord{}, err
	}

	if err := backend.bulkInsert(ctx, source, rows); err != nil {
		return db.UploadRecord{}, err
	}

	upload := db.UploadRecord{
		TableName:  source,
		UploadID:   uploadID,
		UploadTime: uploadTime,
		Active:     true,
		Username:   username,
		Notes:      notes,
	}
	if err := ledger.insertUploadRecord(ctx, upload); err != nil {
		return db.UploadRecord{}, err
	}

	return upload, nil
}

func (backend *Backend) ensureDataIndex(
	ctx context.Context,
	index string,
	schema db.TableSchema,
) error {
	existsResponse, err := backend.client.Indices.Exists(
		[]string{index},
		backend.client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return wrap.Error(db.ErrBackendConnectivity, err.Error())
	}
	existsResponse.Body.Close()
	if existsResponse.StatusCode == 200 {
		return nil
	}

	mappings, err := schemaToElasticMappings(schema)
	if err != nil {
		return err
	}
	mappingsJSON, err := json.Marshal(map[string]any{"mappings": mappings})
	if err != nil {
		return wrap.Error(err, "failed to serialize index mappings")
	}

	_, err = parseResponse(backend.client.Indices.Create(
		index,
		backend.client.Indices.Create.WithContext(ctx),
		backend.client.Indices.Create.WithBody(bytes.NewReader(mappingsJSON)),
	))
	if err != nil {
		return wrap.Errorf(err, "index creation failed for data source '%s'", index)
	}

	return nil
}

func schemaToElasticMappings(schema db.TableSchema) (map[string]any, error) {
	properties := make(map[string]any, len(schema.Columns)+3)

	for _, column := range schema.Columns {
		mappingType, err := dataTypeToElasticMapping(column.DataType)
		if err != nil {
			return nil, wrap.Errorf(err, "unsupported data type for column '%s'", column.Name)
		}
		properties[column.Name] = map[string]any{"type": mappingType}
	}

	properties[db.UploadIDColumn] = map[string]any{"type": "long"}
	properties[db.UploadTimeColumn] = map[string]any{"type": "date"}
	properties[db.RowIndexColumn] = map[string]any{"type": "long"}

	return map[string]any{"properties": properties}, nil
}

func (backend *Backend) bulkInsert(
	ctx context.Context,
	index string,
	rows []map[string]any,
) error {
	bulk, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:  backend.client,
		Index:   index,
		Refresh: "wait_for",
	})
	if err != nil {
		return wrap.Error(err, "failed to prepare bulk data insert")
	}

	ctx, cancel := context.WithCancelCause(ctx)

	for i, row := range rows {
		rowNumber := i

		id, err := uuid.NewUUID()
		if err != nil {
			return wrap.Errorf(err, "failed to generate unique ID for row %d", rowNumber)
		}

		rowJSON, err := json.Marshal(row)
		if err != nil {
			return wrap.Errorf(err, "failed to encode row %d for bulk insert", rowNumber)
		}

		if err := bulk.Add(ctx, esutil.BulkIndexerItem{
			DocumentID: id.String(),
			Body:       bytes.NewReader(rowJSON),
			OnFailure: func(
				ctx context.Context,
				item esutil.BulkIndexerItem,
				response esutil.BulkIndexerResponseItem,
				err error,
			) {
				if err == nil {
					err = fmt.Errorf("%s: %s", response.Error.Type, response.Error.Reason)
				}
				cancel(wrap.Errorf(err, "failed to insert row %d", rowNumber))
			},
		}); err != nil {
			return wrap.Errorf(err, "failed to add row %d to bulk insert", rowNumber)
		}
	}

	if err := bulk.Close(ctx); err != nil {
		return wrap.Error(err, "failed to finish bulk insert")
	}

	if err := ctx.Err(); err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return wrap.Error(err, "bulk insert was canceled with error")
	}

	return nil
}
