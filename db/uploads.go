package db

import (
	"context"
	"time"
)

// Reserved column names stamped onto every uploaded row by backends with an upload ledger.
const (
	UploadIDColumn   = "upload_id"
	UploadTimeColumn = "upload_time"
	RowIndexColumn   = "row_index"
)

// UploadRecord summarizes one ingested batch for a data source. Upload IDs are monotonic per
// table, starting at 1. Only rows from active uploads participate in default queries; the
// Active flag is flipped by an explicit admin action and rows are never deleted by it.
type UploadRecord struct {
	TableName  string    `json:"tableName"`
	UploadID   int64     `json:"uploadId"`
	UploadTime time.Time `json:"uploadTime"`
	Active     bool      `json:"active"`
	Username   string    `json:"username"`
	Notes      string    `json:"notes"`
}

// UploadLedger tracks uploaded batches per data source. The relational and search backends
// implement it; the flat-file backend versions by file presence only and does not.
type UploadLedger interface {
	// ListUploads returns the upload records for a table, oldest first.
	ListUploads(ctx context.Context, table string) ([]UploadRecord, error)

	// NextUploadID returns 1 + the highest existing upload ID for the table, or 1 if the table
	// has no uploads yet.
	NextUploadID(ctx context.Context, table string) (int64, error)

	// UpdateActiveStatus flips the active flag on the given upload IDs. It never touches row
	// data, and fails if any of the IDs has no upload record.
	UpdateActiveStatus(ctx context.Context, table string, statuses map[int64]bool) error

	// RemoveMetadataRowsForTable deletes all upload records for a table. Destructive; only used
	// when replacing a table wholesale.
	RemoveMetadataRowsForTable(ctx context.Context, table string) error
}
