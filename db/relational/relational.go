// Package relational implements the db query contract over a SQL database through the gorm
// ORM, with one table per data source and an upload-ledger table tracking ingested batches.
package relational

import (
	"context"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"hermannm.dev/dashboard/config"
	"hermannm.dev/dashboard/db"
	"hermannm.dev/wrap"
)

type Backend struct {
	gorm *gorm.DB
}

func NewBackend(conf config.Config) (*Backend, error) {
	logLevel := logger.Silent
	if conf.SQLite.Debug {
		logLevel = logger.Info
	}

	gormDB, err := gorm.Open(sqlite.Open(conf.SQLite.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, wrap.Errorf(db.ErrBackendConnectivity, "failed to open database: %v", err)
	}

	if err := gormDB.AutoMigrate(&uploadMetadata{}); err != nil {
		return nil, wrap.Error(err, "failed to migrate upload metadata table")
	}

	return &Backend{gorm: gormDB}, nil
}

func (backend *Backend) Ledger() (ledger db.UploadLedger, hasLedger bool) {
	return &Ledger{gorm: backend.gorm}, true
}

// NewQueryTranslator introspects the descriptor's sources up front, so that unknown sources and
// join columns surface as configuration errors before any data query runs.
func (backend *Backend) NewQueryTranslator(
	ctx context.Context,
	queryCtx db.QueryContext,
) (db.QueryTranslator, error) {
	if err := queryCtx.Descriptor.Validate(); err != nil {
		return nil, err
	}

	translator := &Translator{
		gorm:          backend.gorm,
		queryCtx:      queryCtx,
		sourceColumns: make(map[string][]db.SourceColumn),
	}

	for _, source := range queryCtx.Descriptor.Sources() {
		columns, err := backend.ColumnsForSource(ctx, source)
		if err != nil {
			return nil, err
		}
		if len(columns) == 0 {
			return nil, db.ConfigurationError{Reason: "unknown data source '" + source + "'"}
		}
		translator.sourceColumns[source] = columns
	}

	for _, additional := range queryCtx.Descriptor.AdditionalSources {
		for _, joinKey := range additional.JoinKeys {
			for _, key := range []db.ColumnKey{joinKey.Left, joinKey.Right} {
				if !translator.hasColumn(key) {
					return nil, db.ConfigurationError{
						Reason: "join key column '" + key.Encode() + "' does not exist",
					}
				}
			}
		}
	}

	if queryCtx.OnlyUseActive {
		ledger, _ := backend.Ledger()
		activeUploads, err := activeUploadIDs(ctx, ledger, queryCtx.Descriptor.Sources())
		if err != nil {
			return nil, wrap.Error(err, "failed to look up active uploads")
		}
		translator.activeUploads = activeUploads
	}

	return translator, nil
}

// activeUploadIDs collects the active upload IDs per source, for sources that have ledger
// records at all. Sources absent from the ledger (e.g. tables created outside the upload path)
// get no implicit upload filter.
func activeUploadIDs(
	ctx context.Context,
	ledger db.UploadLedger,
	sources []string,
) (map[string][]int64, error) {
	activeUploads := make(map[string][]int64)

	for _, source := range sources {
		uploads, err := ledger.ListUploads(ctx, source)
		if err != nil {
			return nil, err
		}
		if len(uploads) == 0 {
			continue
		}

		active := make([]int64, 0, len(uploads))
		for _, upload := range uploads {
			if upload.Active {
				active = append(active, upload.UploadID)
			}
		}
		activeUploads[source] = active
	}

	return activeUploads, nil
}
