// Package flatfile implements the db query contract over directories of CSV files: one
// subdirectory per data source, one file per uploaded batch. There is no upload ledger;
// version history is file-presence-based, with an optional externally-supplied file allowlist
// standing in for active-upload filtering.
package flatfile

import (
	"context"
	stdcsv "encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"hermannm.dev/dashboard/csv"
	"hermannm.dev/dashboard/db"
	"hermannm.dev/wrap"
)

type Backend struct {
	baseDir string
	// activeFiles optionally restricts which CSV files (by base name) are loaded per source.
	// Sources without an entry load every file in their directory.
	activeFiles map[string][]string
}

type Option func(*Backend)

// WithActiveFiles sets an admin-controlled allowlist of file names per source, standing in for
// the active-upload filtering that ledger-backed backends do.
func WithActiveFiles(activeFiles map[string][]string) Option {
	return func(backend *Backend) {
		backend.activeFiles = activeFiles
	}
}

func NewBackend(baseDir string, options ...Option) (*Backend, error) {
	info, err := os.Stat(baseDir)
	if err != nil {
		return nil, wrap.Errorf(
			db.ErrBackendConnectivity, "failed to open data directory '%s': %v", baseDir, err,
		)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("data path '%s' is not a directory", baseDir)
	}

	backend := &Backend{baseDir: baseDir}
	for _, option := range options {
		option(backend)
	}
	return backend, nil
}

func (backend *Backend) Ledger() (ledger db.UploadLedger, hasLedger bool) {
	return nil, false
}

func (backend *Backend) NewQueryTranslator(
	ctx context.Context,
	queryCtx db.QueryContext,
) (db.QueryTranslator, error) {
	if err := queryCtx.Descriptor.Validate(); err != nil {
		return nil, err
	}

	combined, err := backend.loadSource(queryCtx.Descriptor.MainSource)
	if err != nil {
		return nil, wrap.Errorf(
			err, "failed to load main data source '%s'", queryCtx.Descriptor.MainSource,
		)
	}

	for _, additional := range queryCtx.Descriptor.AdditionalSources {
		joined, err := backend.loadSource(additional.Source)
		if err != nil {
			return nil, wrap.Errorf(
				err, "failed to load additional data source '%s'", additional.Source,
			)
		}
		if err := combined.leftJoin(joined, additional.JoinKeys); err != nil {
			return nil, wrap.Errorf(err, "failed to join data source '%s'", additional.Source)
		}
	}

	return &Translator{frame: combined}, nil
}

// loadSource reads all the source's CSV files (or its allowlisted subset) and unions them
// row-wise. Every query re-reads from disk; there is no caching layer.
func (backend *Backend) loadSource(source string) (*frame, error) {
	files, err := backend.sourceFiles(source)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, db.ConfigurationError{
			Reason: fmt.Sprintf("data source '%s' has no data files", source),
		}
	}

	combined := newFrame()
	for _, file := range files {
		columns, rows, err := readCSVFile(file, source)
		if err != nil {
			return nil, wrap.Errorf(err, "failed to read data file '%s'", file)
		}
		combined.appendTable(columns, rows)
	}

	if err := combined.deduceTypes(); err != nil {
		return nil, wrap.Errorf(err, "failed to deduce column types for source '%s'", source)
	}
	return combined, nil
}

func (backend *Backend) sourceFiles(source string) ([]string, error) {
	dir := filepath.Join(backend.baseDir, source)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, db.ConfigurationError{
			Reason: fmt.Sprintf("unknown data source '%s': %v", source, err),
		}
	}

	allowed, hasAllowlist := backend.activeFiles[source]

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		if hasAllowlist && !equalsAny(entry.Name(), allowed) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}

	sort.Strings(files)
	return files, nil
}

func readCSVFile(path string, source string) (columns []db.ColumnKey, rows [][]string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, wrap.Error(db.ErrBackendConnectivity, err.Error())
	}
	defer file.Close()

	reader, err := csv.NewReader(file, false)
	if err != nil {
		return nil, nil, err
	}

	headers, err := reader.ReadHeaderRow()
	if err != nil {
		return nil, nil, wrap.Error(err, "failed to read CSV header row")
	}
	for _, header := range headers {
		columns = append(columns, db.NewColumnKey(source, header))
	}

	for {
		row, rowNumber, done, err := reader.ReadRow()
		if done {
			break
		}
		if err != nil {
			return nil, nil, wrap.Errorf(err, "failed to read row %d", rowNumber)
		}
		rows = append(rows, append([]string(nil), row...))
	}

	return columns, rows, nil
}

func (backend *Backend) ListAvailableSources(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(backend.baseDir)
	if err != nil {
		return nil, wrap.Error(db.ErrBackendConnectivity, err.Error())
	}

	var sources []string
	for _, entry := range entries {
		if entry.IsDir() {
			sources = append(sources, entry.Name())
		}
	}
	return sources, nil
}

func (backend *Backend) ColumnsForSource(
	ctx context.Context,
	source string,
) ([]db.SourceColumn, error) {
	frame, err := backend.loadSource(source)
	if err != nil {
		return nil, err
	}

	columns := make([]db.SourceColumn, 0, len(frame.columns))
	for _, column := range frame.columns {
		columns = append(columns, db.SourceColumn{Key: column, DataType: frame.types[column]})
	}
	return columns, nil
}

// UniqueValues enumerates distinct values per column, omitting columns whose cardinality
// exceeds db.UniqueValueCap. The flat-file backend has no upload ledger, so onlyUseActive is
// covered by the backend-level file allowlist instead.
func (backend *Backend) UniqueValues(
	ctx context.Context,
	columns []db.ColumnKey,
	onlyUseActive bool,
) (map[db.ColumnKey][]string, error) {
	columnsBySource := make(map[string][]db.ColumnKey)
	for _, column := range columns {
		columnsBySource[column.Source] = append(columnsBySource[column.Source], column)
	}

	uniqueValues := make(map[db.ColumnKey][]string)
	for source, sourceColumns := range columnsBySource {
		frame, err := backend.loadSource(source)
		if err != nil {
			return nil, err
		}

		for _, column := range sourceColumns {
			index, found := frame.columnIndex(column)
			if !found {
				return nil, db.SchemaMismatchError{Column: column}
			}

			values, withinCap := distinctValues(frame, index, nil)
			if withinCap {
				uniqueValues[column] = values
			}
		}
	}

	return uniqueValues, nil
}

func distinctValues(frame *frame, columnIndex int, mask []bool) (values []string, withinCap bool) {
	seen := make(map[string]struct{})
	for i, row := range frame.rows {
		if mask != nil && !mask[i] {
			continue
		}
		field := row[columnIndex]
		if field == "" {
			continue
		}
		if _, alreadySeen := seen[field]; alreadySeen {
			continue
		}

		seen[field] = struct{}{}
		if len(seen) > db.UniqueValueCap {
			return nil, false
		}
		values = append(values, field)
	}

	sort.Strings(values)
	return values, true
}

// WriteDataUpload appends one batch of rows as a new CSV file in the source's directory. The
// whole batch is validated against the schema before anything is written; no partial writes.
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

	var rows [][]string
	for {
		row, rowNumber, done, err := data.ReadRow()
		if done {
			break
		}
		if err != nil {
			return db.UploadRecord{}, wrap.Errorf(err, "failed to read row %d", rowNumber)
		}
		if _, err := schema.ConvertRowToMap(row); err != nil {
			return db.UploadRecord{}, wrap.Errorf(err, "invalid data in row %d", rowNumber)
		}
		rows = append(rows, append([]string(nil), row...))
	}

	dir := filepath.Join(backend.baseDir, source)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return db.UploadRecord{}, wrap.Error(db.ErrBackendConnectivity, err.Error())
	}

	// Upload IDs count every file in the directory, not just allowlisted ones, so a new upload
	// never reuses the ID of an excluded file.
	uploadTime := time.Now().UTC()
	uploadID := countCSVFiles(dir) + 1
	fileName := fmt.Sprintf(
		"%s_upload_%d_%s.csv", source, uploadID, uploadTime.Format("20060102T150405"),
	)

	if err := writeCSVFile(
		filepath.Join(dir, fileName), schema.ColumnNames(), rows,
	); err != nil {
		return db.UploadRecord{}, wrap.Errorf(err, "failed to write data file '%s'", fileName)
	}

	return db.UploadRecord{
		TableName:  source,
		UploadID:   uploadID,
		UploadTime: uploadTime,
		Active:     true,
		Username:   username,
		Notes:      notes,
	}, nil
}

func countCSVFiles(dir string) int64 {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	var count int64
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".csv") {
			count++
		}
	}
	return count
}

func writeCSVFile(path string, headers []string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return wrap.Error(db.ErrBackendConnectivity, err.Error())
	}
	defer file.Close()

	writer := stdcsv.NewWriter(file)
	if err := writer.Write(headers); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
