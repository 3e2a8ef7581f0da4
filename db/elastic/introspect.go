package elastic

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"hermannm.dev/dashboard/db"
	"hermannm.dev/wrap"
)

func (backend *Backend) ListAvailableSources(ctx context.Context) ([]string, error) {
	response, err := parseResponse(backend.client.Indices.Get(
		[]string{"*"},
		backend.client.Indices.Get.WithContext(ctx),
	))
	if err != nil {
		return nil, wrap.Error(err, "failed to list search engine indices")
	}

	var sources []string
	for index := range response {
		// Dot-prefixed indices are the engine's own system indices.
		if strings.HasPrefix(index, ".") || index == metadataIndexName {
			continue
		}
		sources = append(sources, index)
	}

	sort.Strings(sources)
	return sources, nil
}

func (backend *Backend) ColumnsForSource(
	ctx context.Context,
	source string,
) ([]db.SourceColumn, error) {
	response, err := parseResponse(backend.client.Indices.GetMapping(
		backend.client.Indices.GetMapping.WithContext(ctx),
		backend.client.Indices.GetMapping.WithIndex(source),
	))
	if err != nil {
		return nil, db.ConfigurationError{
			Reason: fmt.Sprintf("failed to get mappings for data source '%s': %v", source, err),
		}
	}

	indexMappings, ok := response[source].(map[string]any)
	if !ok {
		return nil, db.ConfigurationError{
			Reason: fmt.Sprintf("data source '%s' not found on search backend", source),
		}
	}
	mappings, _ := indexMappings["mappings"].(map[string]any)
	properties, _ := mappings["properties"].(map[string]any)

	columnNames := make([]string, 0, len(properties))
	for columnName := range properties {
		columnNames = append(columnNames, columnName)
	}
	sort.Strings(columnNames)

	columns := make([]db.SourceColumn, 0, len(columnNames))
	for _, columnName := range columnNames {
		property, _ := properties[columnName].(map[string]any)
		mappingType, _ := property["type"].(string)

		dataType, err := elasticTypeToDataType(mappingType)
		if err != nil {
			return nil, wrap.Errorf(err, "unsupported mapping for column '%s'", columnName)
		}

		columns = append(columns, db.SourceColumn{
			Key:      db.ColumnKey{Source: source, Column: columnName},
			DataType: dataType,
		})
	}

	return columns, nil
}

func (backend *Backend) UniqueValues(
	ctx context.Context,
	columns []db.ColumnKey,
	onlyUseActive bool,
) (map[db.ColumnKey][]string, error) {
	uniqueValues := make(map[db.ColumnKey][]string, len(columns))

	// Translators cache active uploads per index; here we look them up as needed, since the
	// given columns may span multiple indices.
	activeUploadsBySource := make(map[string]*[]int64)

	for _, column := range columns {
		translator := &Translator{
			client:   backend.client,
			queryCtx: db.QueryContext{OnlyUseActive: onlyUseActive},
			index:    column.Source,
			columns:  []db.SourceColumn{{Key: column}},
		}

		if onlyUseActive {
			activeUploads, cached := activeUploadsBySource[column.Source]
			if !cached {
				var err error
				activeUploads, err = activeUploadsForIndex(ctx, backend, column.Source)
				if err != nil {
					return nil, err
				}
				activeUploadsBySource[column.Source] = activeUploads
			}
			translator.activeUploads = activeUploads
		}

		entries, err := translator.GetColumnUniqueEntries(ctx, []db.ColumnKey{column}, nil)
		if err != nil {
			return nil, err
		}
		if values, withinCap := entries[column]; withinCap {
			uniqueValues[column] = values
		}
	}

	return uniqueValues, nil
}

func activeUploadsForIndex(
	ctx context.Context,
	backend *Backend,
	index string,
) (*[]int64, error) {
	ledger := &Ledger{client: backend.client}

	uploads, err := ledger.ListUploads(ctx, index)
	if err != nil {
		return nil, wrap.Errorf(err, "failed to look up active uploads for '%s'", index)
	}
	if len(uploads) == 0 {
		return nil, nil
	}

	activeIDs := make([]int64, 0, len(uploads))
	for _, upload := range uploads {
		if upload.Active {
			activeIDs = append(activeIDs, upload.UploadID)
		}
	}
	return &activeIDs, nil
}

func dataTypeToElasticMapping(dataType db.DataType) (string, error) {
	switch dataType {
	case db.DataTypeText:
		return "keyword", nil
	case db.DataTypeInt:
		return "long", nil
	case db.DataTypeFloat:
		return "double", nil
	case db.DataTypeBool:
		return "boolean", nil
	case db.DataTypeDateTime:
		return "date", nil
	default:
		return "", fmt.Errorf("unrecognized data type '%v'", dataType)
	}
}

func elasticTypeToDataType(mappingType string) (db.DataType, error) {
	switch mappingType {
	case "keyword", "text":
		return db.DataTypeText, nil
	case "long", "integer", "short", "byte":
		return db.DataTypeInt, nil
	case "float", "double", "half_float":
		return db.DataTypeFloat, nil
	case "boolean":
		return db.DataTypeBool, nil
	case "date":
		return db.DataTypeDateTime, nil
	default:
		return 0, fmt.Errorf("unrecognized search engine mapping type '%s'", mappingType)
	}
}
