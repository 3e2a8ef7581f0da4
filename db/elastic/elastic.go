// Package elastic implements the db query contract over an Elasticsearch-compatible search
// engine: one index per data source, with filters and aggregations translated to the engine's
// structured query DSL. Joins between sources are not supported on this backend.
package elastic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"hermannm.dev/dashboard/config"
	"hermannm.dev/dashboard/db"
	"hermannm.dev/wrap"
)

type Backend struct {
	client *elasticsearch.Client
}

func NewBackend(conf config.Config) (*Backend, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:         []string{conf.Elasticsearch.Address},
		EnableDebugLogger: conf.Elasticsearch.Debug,
	})
	if err != nil {
		return nil, wrap.Errorf(
			db.ErrBackendConnectivity, "failed to connect to Elasticsearch: %v", err,
		)
	}

	return &Backend{client: client}, nil
}

func (backend *Backend) Ledger() (ledger db.UploadLedger, hasLedger bool) {
	return &Ledger{client: backend.client}, true
}

func (backend *Backend) NewQueryTranslator(
	ctx context.Context,
	queryCtx db.QueryContext,
) (db.QueryTranslator, error) {
	if err := queryCtx.Descriptor.Validate(); err != nil {
		return nil, err
	}
	if len(queryCtx.Descriptor.AdditionalSources) > 0 {
		return nil, db.ConfigurationError{
			Reason: "the search backend does not support joined data sources",
		}
	}

	index := queryCtx.Descriptor.MainSource
	columns, err := backend.ColumnsForSource(ctx, index)
	if err != nil {
		return nil, err
	}

	translator := &Translator{
		client:   backend.client,
		queryCtx: queryCtx,
		index:    index,
		columns:  columns,
	}

	if queryCtx.OnlyUseActive {
		ledger := &Ledger{client: backend.client}
		uploads, err := ledger.ListUploads(ctx, index)
		if err != nil {
			return nil, wrap.Error(err, "failed to look up active uploads")
		}
		if len(uploads) > 0 {
			activeIDs := make([]int64, 0, len(uploads))
			for _, upload := range uploads {
				if upload.Active {
					activeIDs = append(activeIDs, upload.UploadID)
				}
			}
			translator.activeUploads = &activeIDs
		}
	}

	return translator, nil
}

// parseResponse decodes a search engine response body, converting error responses to Go errors
// with the engine's root cause attached.
func parseResponse(res *esapi.Response, err error) (map[string]any, error) {
	if err != nil {
		return nil, wrap.Error(db.ErrBackendConnectivity, err.Error())
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, wrap.Error(err, "failed to read search engine response")
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, wrap.Error(err, "failed to decode search engine response")
	}

	if res.IsError() {
		return nil, formatResponseError(res.StatusCode, decoded)
	}

	return decoded, nil
}

func formatResponseError(statusCode int, body map[string]any) error {
	errBody, ok := body["error"].(map[string]any)
	if !ok {
		return fmt.Errorf("search engine request failed with status %d", statusCode)
	}

	errType, _ := errBody["type"].(string)
	reason, hasReason := errBody["reason"].(string)

	if hasReason {
		return fmt.Errorf("%s (%s, status %d)", reason, errType, statusCode)
	}
	return fmt.Errorf("%s (status %d)", errType, statusCode)
}
