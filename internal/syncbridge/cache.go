package syncbridge

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"hexdash/internal/logging"
	"hexdash/internal/session"
)

// CacheStorage is the cache tier: a single-file sqlite database holding
// the same session documents as the file tier. It implements
// session.Storage so the bridge can treat tiers uniformly.
type CacheStorage struct {
	db *sql.DB
}

// NewCacheStorage opens (or creates) the cache database at path.
func NewCacheStorage(path string) (*CacheStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		doc TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &CacheStorage{db: db}, nil
}

// Close releases the database handle.
func (c *CacheStorage) Close() error {
	return c.db.Close()
}

// Load reads every cached session document in insertion order. Corrupt
// documents are skipped, not fatal.
func (c *CacheStorage) Load() ([]*session.Session, error) {
	rows, err := c.db.Query("SELECT doc FROM sessions ORDER BY position ASC")
	if err != nil {
		logging.Get(logging.CategoryStore).Warn("Cache read failed, treating as empty: %v", err)
		return nil, nil
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			continue
		}
		var sess session.Session
		if err := json.Unmarshal([]byte(doc), &sess); err != nil {
			logging.Get(logging.CategoryStore).Warn("Skipping corrupt cached session: %v", err)
			continue
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// Save rewrites the full cached set, keeping both copies byte-identical
// with the file tier.
func (c *CacheStorage) Save(sessions []*session.Session) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM sessions"); err != nil {
		return err
	}
	for i, sess := range sessions {
		doc, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(
			"INSERT INTO sessions (id, position, doc) VALUES (?, ?, ?)",
			sess.ID, i, string(doc),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadActiveID reads the cached active-session pointer.
func (c *CacheStorage) LoadActiveID() (string, error) {
	var id string
	err := c.db.QueryRow("SELECT value FROM meta WHERE key = 'active_session'").Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		logging.Get(logging.CategoryStore).Warn("Cache pointer read failed: %v", err)
		return "", nil
	}
	return id, nil
}

// SaveActiveID writes the cached pointer; empty clears it.
func (c *CacheStorage) SaveActiveID(id string) error {
	_, err := c.db.Exec(
		"INSERT INTO meta (key, value) VALUES ('active_session', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		id,
	)
	return err
}
