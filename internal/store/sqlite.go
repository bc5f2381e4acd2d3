package store

import (
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/srg/blecentral/internal/device"
)

// SQLiteStore keeps identifiers in a SQLite table
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *logrus.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at path and runs the schema migration.
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logrus.New()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &device.PersistError{Op: "open", Path: path, Err: err}
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, &device.PersistError{Op: "open", Path: path, Err: fmt.Errorf("migrate: %w", err)}
	}
	return &SQLiteStore{db: db, path: path, logger: logger}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS peripherals (
			identifier TEXT PRIMARY KEY
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load() ([]string, error) {
	rows, err := s.db.Query("SELECT identifier FROM peripherals ORDER BY identifier")
	if err != nil {
		return nil, &device.PersistError{Op: "load", Path: s.path, Err: err}
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &device.PersistError{Op: "load", Path: s.path, Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &device.PersistError{Op: "load", Path: s.path, Err: err}
	}
	return NormalizeIdentifiers(ids), nil
}

// Save replaces the stored set in one transaction
func (s *SQLiteStore) Save(identifiers []string) error {
	ids := NormalizeIdentifiers(identifiers)

	tx, err := s.db.Begin()
	if err != nil {
		return &device.PersistError{Op: "save", Path: s.path, Err: err}
	}
	if _, err := tx.Exec("DELETE FROM peripherals"); err != nil {
		tx.Rollback() //nolint:errcheck
		return &device.PersistError{Op: "save", Path: s.path, Err: err}
	}
	for _, id := range ids {
		if _, err := tx.Exec("INSERT INTO peripherals (identifier) VALUES (?)", id); err != nil {
			tx.Rollback() //nolint:errcheck
			return &device.PersistError{Op: "save", Path: s.path, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &device.PersistError{Op: "save", Path: s.path, Err: err}
	}

	s.logger.WithFields(logrus.Fields{
		"path":  s.path,
		"count": len(ids),
	}).Debug("Persisted peripherals")
	return nil
}
