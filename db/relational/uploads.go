package relational

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"hermannm.dev/dashboard/db"
	"hermannm.dev/wrap"
)

const metadataTableName = "data_upload_metadata"

// uploadMetadata is the ledger row for one ingested batch, keyed by (table_name, upload_id).
// The data table's name is in the Table field, since TableName is taken by gorm's table naming
// convention.
type uploadMetadata struct {
	Table      string    `gorm:"column:table_name;primaryKey"`
	UploadID   int64     `gorm:"column:upload_id;primaryKey;autoIncrement:false"`
	UploadTime time.Time `gorm:"column:upload_time"`
	Active     bool      `gorm:"column:active"`
	Username   string    `gorm:"column:username"`
	Notes      string    `gorm:"column:notes"`
}

func (uploadMetadata) TableName() string {
	return metadataTableName
}

func (metadata uploadMetadata) toUploadRecord() db.UploadRecord {
	return db.UploadRecord{
		TableName:  metadata.Table,
		UploadID:   metadata.UploadID,
		UploadTime: metadata.UploadTime,
		Active:     metadata.Active,
		Username:   metadata.Username,
		Notes:      metadata.Notes,
	}
}

type Ledger struct {
	gorm *gorm.DB
}

func (ledger *Ledger) ListUploads(ctx context.Context, table string) ([]db.UploadRecord, error) {
	var results []uploadMetadata
	result := ledger.gorm.WithContext(ctx).
		Where(&uploadMetadata{Table: table}).
		Order("upload_id").
		Find(&results)
	if result.Error != nil {
		return nil, wrap.Errorf(result.Error, "failed to list uploads for table '%s'", table)
	}

	uploads := make([]db.UploadRecord, 0, len(results))
	for _, metadata := range results {
		uploads = append(uploads, metadata.toUploadRecord())
	}
	return uploads, nil
}

func (ledger *Ledger) NextUploadID(ctx context.Context, table string) (int64, error) {
	var nextID int64
	result := ledger.gorm.WithContext(ctx).
		Model(&uploadMetadata{}).
		Select("COALESCE(MAX(upload_id), 0) + 1").
		Where(&uploadMetadata{Table: table}).
		Scan(&nextID)
	if result.Error != nil {
		return 0, wrap.Errorf(
			result.Error, "failed to get next upload ID for table '%s'", table,
		)
	}

	return nextID, nil
}

// UpdateActiveStatus flips the active flag on existing upload records. Row data is never
// touched.
func (ledger *Ledger) UpdateActiveStatus(
	ctx context.Context,
	table string,
	statuses map[int64]bool,
) error {
	return ledger.gorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for uploadID, active := range statuses {
			result := tx.Model(&uploadMetadata{}).
				Where(&uploadMetadata{Table: table, UploadID: uploadID}).
				Update("active", active)
			if result.Error != nil {
				return wrap.Errorf(
					result.Error, "failed to update upload %d of table '%s'", uploadID, table,
				)
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("table '%s' has no upload with ID %d", table, uploadID)
			}
		}
		return nil
	})
}

func (ledger *Ledger) RemoveMetadataRowsForTable(ctx context.Context, table string) error {
	result := ledger.gorm.WithContext(ctx).
		Where(&uploadMetadata{Table: table}).
		Delete(&uploadMetadata{})
	if result.Error != nil {
		return wrap.Errorf(
			result.Error, "failed to remove upload metadata for table '%s'", table,
		)
	}
	return nil
}

const batchInsertSize = 1000

// WriteDataUpload ingests one batch: every row is converted and validated against the schema
// up front, then rows are stamped with the next upload ID, the upload time and a fresh row
// index, bulk-inserted, and summarized by exactly one active ledger record. The data insert and
// the ledger write share a transaction, so a failure leaves no partial upload behind.
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
	if err := validateIdentifier(source); err != nil {
		return db.UploadRecord{}, wrap.Error(err, "invalid table name")
	}

	uploadTime := time.Now().UTC()

	var rowMaps []map[string]any
	for {
		row, rowNumber, done, err := data.ReadRow()
		if done {
			break
		}
		if err != nil {
			return db.UploadRecord{}, wrap.Errorf(err, "failed to read row %d", rowNumber)
		}

		rowMap, err := schema.ConvertRowToMap(row)
		if err != nil {
			return db.UploadRecord{}, wrap.Errorf(err, "invalid data in row %d", rowNumber)
		}
		rowMaps = append(rowMaps, rowMap)
	}

	if err := backend.ensureDataTable(ctx, source, schema); err != nil {
		return db.UploadRecord{}, err
	}

	var record db.UploadRecord
	err := backend.gorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ledger := &Ledger{gorm: tx}
		uploadID, err := ledger.NextUploadID(ctx, source)
		if err != nil {
			return err
		}

		for i, rowMap := range rowMaps {
			rowMap[db.UploadIDColumn] = uploadID
			rowMap[db.UploadTimeColumn] = uploadTime
			rowMap[db.RowIndexColumn] = i
		}

		if len(rowMaps) > 0 {
			result := tx.Table(source).CreateInBatches(rowMaps, batchInsertSize)
			if result.Error != nil {
				return wrap.Error(result.Error, "bulk insert failed")
			}
		}

		metadata := uploadMetadata{
			Table:      source,
			UploadID:   uploadID,
			UploadTime: uploadTime,
			Active:     true,
			Username:   username,
			Notes:      notes,
		}
		if result := tx.Create(&metadata); result.Error != nil {
			return wrap.Error(result.Error, "failed to write upload metadata")
		}

		record = metadata.toUploadRecord()
		return nil
	})
	if err != nil {
		return db.UploadRecord{}, wrap.Errorf(err, "data upload failed for table '%s'", source)
	}

	return record, nil
}

// ensureDataTable creates the source's data table from the schema if it does not exist yet, or
// verifies that the schema's columns are all present if it does.
func (backend *Backend) ensureDataTable(
	ctx context.Context,
	source string,
	schema db.TableSchema,
) error {
	existing, err := backend.ColumnsForSource(ctx, source)
	if err != nil {
		return err
	}

	if len(existing) > 0 {
		for _, column := range schema.Columns {
			if !columnExists(existing, column.Name) {
				return db.IngestValidationError{
					Reason: fmt.Sprintf(
						"table '%s' has no column '%s'", source, column.Name,
					),
				}
			}
		}
		return nil
	}

	createQuery, err := buildCreateTableQuery(source, schema)
	if err != nil {
		return err
	}
	if err := backend.gorm.WithContext(ctx).Exec(createQuery).Error; err != nil {
		return wrap.Errorf(err, "failed to create table '%s'", source)
	}
	return nil
}

func columnExists(columns []db.SourceColumn, name string) bool {
	for _, column := range columns {
		if column.Key.Column == name {
			return true
		}
	}
	return false
}

func buildCreateTableQuery(source string, schema db.TableSchema) (string, error) {
	var query strings.Builder
	query.WriteString("CREATE TABLE ")
	query.WriteString(quoteIdentifier(source))
	query.WriteString(" (")
	query.WriteString(quoteIdentifier(db.RowIndexColumn))
	query.WriteString(" INTEGER, ")
	query.WriteString(quoteIdentifier(db.UploadIDColumn))
	query.WriteString(" INTEGER, ")
	query.WriteString(quoteIdentifier(db.UploadTimeColumn))
	query.WriteString(" DATETIME")

	for _, column := range schema.Columns {
		sqlType, err := dataTypeToSQL(column.DataType)
		if err != nil {
			return "", wrap.Errorf(err, "invalid data type for column '%s'", column.Name)
		}
		if err := validateIdentifier(column.Name); err != nil {
			return "", wrap.Error(err, "invalid column name")
		}

		query.WriteString(", ")
		query.WriteString(quoteIdentifier(column.Name))
		query.WriteRune(' ')
		query.WriteString(sqlType)
	}

	query.WriteRune(')')
	return query.String(), nil
}
