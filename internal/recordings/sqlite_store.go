// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recordings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ManuGH/camcore/internal/persistence/sqlite"
)

const schemaVersion = 1

const selectColumns = `id, camera, file_name, name, extension, storing, record_type, trigger_name,
	room, ts, time_text, label, type, path, uploaded, complete`

// SqliteStore implements Store using SQLite.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens (or creates) the catalogue at dbPath.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("recordings store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS recordings (
		id TEXT PRIMARY KEY,
		camera TEXT NOT NULL,
		file_name TEXT NOT NULL,
		name TEXT NOT NULL,
		extension TEXT NOT NULL,
		storing BOOLEAN NOT NULL DEFAULT 0,
		record_type TEXT NOT NULL,
		trigger_name TEXT NOT NULL,
		room TEXT NOT NULL,
		ts INTEGER NOT NULL,
		time_text TEXT NOT NULL,
		label TEXT NOT NULL,
		type TEXT NOT NULL,
		path TEXT NOT NULL,
		uploaded BOOLEAN NOT NULL DEFAULT 0,
		complete BOOLEAN NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_recordings_camera_ts ON recordings(camera, ts);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SqliteStore) Create(ctx context.Context, d Descriptor) (Descriptor, error) {
	query := `
	INSERT INTO recordings (` + selectColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.DB.ExecContext(ctx, query,
		d.ID, d.Camera, d.FileName, d.Name, d.Extension, d.Storing, d.RecordType, d.Trigger,
		d.Room, d.Timestamp, d.Time, d.Label, d.Type, d.Path, d.Uploaded, d.Complete,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return Descriptor{}, ErrDuplicate
		}
		return Descriptor{}, err
	}
	return d, nil
}

func (s *SqliteStore) MarkComplete(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, "UPDATE recordings SET complete = 1, storing = 0 WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDescriptor(row scanner) (Descriptor, error) {
	var d Descriptor
	err := row.Scan(&d.ID, &d.Camera, &d.FileName, &d.Name, &d.Extension, &d.Storing, &d.RecordType,
		&d.Trigger, &d.Room, &d.Timestamp, &d.Time, &d.Label, &d.Type, &d.Path, &d.Uploaded, &d.Complete)
	return d, err
}

func (s *SqliteStore) Get(ctx context.Context, id string) (Descriptor, error) {
	row := s.DB.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM recordings WHERE id = ?", id)
	d, err := scanDescriptor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Descriptor{}, ErrNotFound
	}
	return d, err
}

func (s *SqliteStore) List(ctx context.Context, camera string) ([]Descriptor, error) {
	query := "SELECT " + selectColumns + " FROM recordings"
	var args []any
	if camera != "" {
		query += " WHERE camera = ?"
		args = append(args, camera)
	}
	query += " ORDER BY ts DESC, id ASC"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Descriptor
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Check reports catalogue corruption found by a quick integrity check.
func (s *SqliteStore) Check(ctx context.Context) error {
	issues, err := sqlite.QuickCheck(ctx, s.DB)
	if err != nil {
		return err
	}
	if len(issues) > 0 {
		return fmt.Errorf("recordings store integrity: %s", strings.Join(issues, "; "))
	}
	return nil
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}
