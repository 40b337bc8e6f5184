package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Record is the persisted form of a tracked accessory.
type Record struct {
	ID              string
	Name            string
	Host            string
	Node            int
	Serial          string
	SoftwareVersion string
	Type            string
	Location        string
	Config          []byte
	IsOn            bool
	RotationSpeed   int
	UpdatedAt       time.Time
}

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS accessories (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	host             TEXT NOT NULL,
	node             INTEGER NOT NULL,
	serial           TEXT NOT NULL,
	software_version TEXT NOT NULL,
	type             TEXT NOT NULL,
	location         TEXT NOT NULL,
	config           BLOB,
	is_on            INTEGER NOT NULL DEFAULT 0,
	rotation_speed   INTEGER NOT NULL DEFAULT 0,
	updated_at       INTEGER NOT NULL
)`

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Save(ctx context.Context, r Record) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accessories (id, name, host, node, serial, software_version, type, location, config, is_on, rotation_speed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			host = excluded.host,
			node = excluded.node,
			serial = excluded.serial,
			software_version = excluded.software_version,
			type = excluded.type,
			location = excluded.location,
			config = excluded.config,
			is_on = excluded.is_on,
			rotation_speed = excluded.rotation_speed,
			updated_at = excluded.updated_at`,
		r.ID, r.Name, r.Host, r.Node, r.Serial, r.SoftwareVersion, r.Type, r.Location, r.Config,
		r.IsOn, r.RotationSpeed, r.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save accessory %v: %w", r.ID, err)
	}

	return nil
}

// UpdateState writes only the volatile state of an accessory.
func (s *Store) UpdateState(ctx context.Context, id string, isOn bool, rotationSpeed int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accessories SET is_on = ?, rotation_speed = ?, updated_at = ? WHERE id = ?`,
		isOn, rotationSpeed, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to update accessory %v: %w", id, err)
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM accessories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete accessory %v: %w", id, err)
	}

	return nil
}

func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, host, node, serial, software_version, type, location, config, is_on, rotation_speed, updated_at
		FROM accessories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accessories: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var updatedAt int64
		if err := rows.Scan(&r.ID, &r.Name, &r.Host, &r.Node, &r.Serial, &r.SoftwareVersion, &r.Type,
			&r.Location, &r.Config, &r.IsOn, &r.RotationSpeed, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan accessory: %w", err)
		}
		r.UpdatedAt = time.UnixMilli(updatedAt)
		records = append(records, r)
	}

	return records, rows.Err()
}
