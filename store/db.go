package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the SQLite reference implementation of Store and CheckpointStore.
// It doubles as the device-local cache (send buffer, poll checkpoints).
type DB struct {
	*sql.DB
}

var (
	_ Store           = (*DB)(nil)
	_ CheckpointStore = (*DB)(nil)
)

// Open creates a SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}
