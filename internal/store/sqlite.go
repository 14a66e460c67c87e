package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/manzt/higlass-go/internal/model"

	_ "modernc.org/sqlite"
)

const createRemoteTilesetsTable = `
CREATE TABLE IF NOT EXISTS remote_tilesets (
    uid        TEXT PRIMARY KEY,
    file_url   TEXT NOT NULL,
    filetype   TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    UNIQUE (file_url, filetype)
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createRemoteTilesetsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create remote_tilesets table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRegistration inserts a new remote tileset registration.
func (s *SQLiteStore) CreateRegistration(ctx context.Context, r *model.RemoteTileset) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO remote_tilesets (uid, file_url, filetype, created_at)
		VALUES (?, ?, ?, ?)`,
		r.UID, r.FileURL, r.Filetype, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

// GetRegistration retrieves a registration by uid.
func (s *SQLiteStore) GetRegistration(ctx context.Context, uid string) (*model.RemoteTileset, error) {
	r := &model.RemoteTileset{}
	err := s.db.QueryRowContext(ctx,
		`SELECT uid, file_url, filetype, created_at
		FROM remote_tilesets WHERE uid = ?`, uid,
	).Scan(&r.UID, &r.FileURL, &r.Filetype, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return r, nil
}

// GetRegistrationByKey retrieves a registration by its (url, filetype) pair,
// the idempotency key of the register endpoint.
func (s *SQLiteStore) GetRegistrationByKey(ctx context.Context, fileURL, filetype string) (*model.RemoteTileset, error) {
	r := &model.RemoteTileset{}
	err := s.db.QueryRowContext(ctx,
		`SELECT uid, file_url, filetype, created_at
		FROM remote_tilesets WHERE file_url = ? AND filetype = ?`, fileURL, filetype,
	).Scan(&r.UID, &r.FileURL, &r.Filetype, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get registration by key: %w", err)
	}
	return r, nil
}

// ListRegistrations returns all registrations ordered by creation time.
func (s *SQLiteStore) ListRegistrations(ctx context.Context) ([]*model.RemoteTileset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uid, file_url, filetype, created_at
		FROM remote_tilesets ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var regs []*model.RemoteTileset
	for rows.Next() {
		r := &model.RemoteTileset{}
		if err := rows.Scan(&r.UID, &r.FileURL, &r.Filetype, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registrations: %w", err)
	}

	return regs, nil
}

// DeleteRegistration removes a registration by uid.
func (s *SQLiteStore) DeleteRegistration(ctx context.Context, uid string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM remote_tilesets WHERE uid = ?", uid,
	)
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
