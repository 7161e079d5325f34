// Package storage provides SQLite persistence for circuitdiag.
package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/user/circuitdiag/internal/util"
)

// DB wraps the SQLite database connection.
type DB struct {
	*sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) circuitdiag.db in dataDir.
func Open(dataDir string) (*DB, error) {
	if err := util.EnsureDir(dataDir); err != nil {
		return nil, err
	}
	return OpenPath(filepath.Join(dataDir, "circuitdiag.db"))
}

// OpenPath opens the database file at path.
func OpenPath(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)

	d := &DB{DB: db}
	if err := d.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return d, nil
}

func (db *DB) createTables() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS diagnoses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service_id TEXT NOT NULL,
			status TEXT NOT NULL,
			responsibility TEXT NOT NULL,
			issue_type TEXT NOT NULL,
			reason TEXT,
			message TEXT,
			max_loss REAL DEFAULT 0,
			lookback_hours INTEGER,
			availability TEXT,
			loss_events TEXT,
			probes TEXT,
			evaluated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_diagnoses_service ON diagnoses(service_id)`,
		`CREATE INDEX IF NOT EXISTS idx_diagnoses_evaluated_at ON diagnoses(evaluated_at)`,

		`CREATE TABLE IF NOT EXISTS evidence (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			diagnosis_id INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			device TEXT,
			stage TEXT NOT NULL,
			outcome TEXT,
			raw TEXT,
			error TEXT,
			FOREIGN KEY (diagnosis_id) REFERENCES diagnoses(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_evidence_diagnosis_id ON evidence(diagnosis_id)`,

		`CREATE TABLE IF NOT EXISTS samples (
			host TEXT NOT NULL,
			metric TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			value REAL NOT NULL,
			PRIMARY KEY (host, metric, timestamp)
		)`,

		`CREATE TABLE IF NOT EXISTS devices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			name TEXT NOT NULL,
			management_ip TEXT,
			device_type TEXT,
			manufacturer TEXT,
			vendor TEXT,
			role TEXT,
			site TEXT,
			connected_to TEXT,
			last_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(service_id, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_devices_service ON devices(service_id)`,
	}

	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to execute: %s: %w", table, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

// WithLock executes fn while holding the write lock.
func (db *DB) WithLock(fn func() error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn()
}
