package source

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"hexdash/internal/logging"
)

// SQLiteSource reads activity rows from the IDE's sqlite database. The
// database is owned and written by the IDE; we open it read-only per call
// and never hold a handle across invocations.
type SQLiteSource struct {
	dbPath string
}

// NewSQLiteSource creates a reader for the database at path.
func NewSQLiteSource(path string) *SQLiteSource {
	return &SQLiteSource{dbPath: path}
}

// RowsSince implements Source. A missing or unopenable database maps to
// ErrSourceUnavailable so callers can abort without mutating state.
func (s *SQLiteSource) RowsSince(ctx context.Context, threshold time.Time) ([]Row, error) {
	if s.dbPath == "" {
		return nil, fmt.Errorf("%w: no database path configured", ErrSourceUnavailable)
	}
	if _, err := os.Stat(s.dbPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceUnavailable, s.dbPath)
	}

	db, err := sql.Open("sqlite3", "file:"+s.dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.ReconcileDebug("Failed to set sqlite busy_timeout: %v", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT hash, model, file_name, file_extension, source, created_at,
		        conversation_id, request_id
		 FROM generations
		 WHERE created_at >= ?
		 ORDER BY created_at ASC`,
		threshold.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query failed: %v", ErrSourceUnavailable, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var model, fileName, fileExt, src, convID, reqID sql.NullString
		if err := rows.Scan(&r.Hash, &model, &fileName, &fileExt, &src, &r.CreatedAt, &convID, &reqID); err != nil {
			logging.Get(logging.CategoryReconcile).Warn("Skipping unreadable activity row: %v", err)
			continue
		}
		r.Model = model.String
		r.FileName = fileName.String
		r.FileExtension = fileExt.String
		r.Source = src.String
		r.ConversationID = convID.String
		r.RequestID = reqID.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	logging.ReconcileDebug("Fetched %d activity rows since %s", len(out), threshold.Format(time.RFC3339))
	return out, nil
}
