package state

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/surge-downloader/kadtable/internal/utils"
)

var (
	db         *sql.DB
	dbMu       sync.Mutex
	dbPath     string
	configured bool
)

// Configure sets the path for the SQLite database
func Configure(path string) {
	dbMu.Lock()
	defer dbMu.Unlock()
	dbPath = path
	configured = true
}

func initDB() error {
	dbMu.Lock()
	defer dbMu.Unlock()

	if db != nil {
		return nil
	}

	if !configured || dbPath == "" {
		return fmt.Errorf("state database not configured: call state.Configure() first")
	}

	var err error
	db, err = sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: sqlite serialises writers anyway.
	db.SetMaxOpenConns(1)

	query := `
	CREATE TABLE IF NOT EXISTS census_samples (
		id TEXT PRIMARY KEY,
		node_id TEXT NOT NULL,
		taken_at INTEGER NOT NULL,
		size INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS census_buckets (
		sample_id TEXT NOT NULL,
		bucket INTEGER NOT NULL,
		count INTEGER NOT NULL,
		PRIMARY KEY (sample_id, bucket),
		FOREIGN KEY(sample_id) REFERENCES census_samples(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_census_taken_at ON census_samples(taken_at);
	`

	if _, err := db.Exec(query); err != nil {
		_ = db.Close()
		db = nil
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// CloseDB closes the database connection
func CloseDB() {
	dbMu.Lock()
	defer dbMu.Unlock()
	if db != nil {
		if err := db.Close(); err != nil {
			utils.Debug("state: close db: %v", err)
		}
		db = nil
	}
}

// GetDB returns the database instance, initializing it if necessary
func GetDB() (*sql.DB, error) {
	dbMu.Lock()
	d := db
	dbMu.Unlock()
	if d != nil {
		return d, nil
	}
	if err := initDB(); err != nil {
		return nil, err
	}
	dbMu.Lock()
	defer dbMu.Unlock()
	return db, nil
}

func withTx(fn func(*sql.Tx) error) error {
	d, err := GetDB()
	if err != nil {
		return err
	}

	tx, err := d.Begin()
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}
