package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

const dirPerm = 0o755

// InitDB opens the ledger database at path and creates the downloads table if needed.
func InitDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	// Workers write concurrently; sqlite serialises writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY,
		file_name TEXT NOT NULL,
		source_url TEXT NOT NULL,
		content_hash TEXT NOT NULL UNIQUE,
		size INTEGER NOT NULL DEFAULT 0,
		downloaded_at DATETIME NOT NULL
	)`); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create downloads table: %w", err)
	}

	return db, nil
}
