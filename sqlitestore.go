package aqgeval

import (
	"bytes"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB is a SQLite database holding segment records of many projects
type DB struct {
	db  *sql.DB
	log zerolog.Logger
}

// DBProject is a project row
type DBProject struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	LastStage string    `json:"last_stage"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OpenDB opens a new database connection
func OpenDB(dbPath string, logger zerolog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db: db, log: componentLogger(logger, "sqlite")}, nil
}

// CloseDB closes the database connection
func (db *DB) CloseDB() error {
	return db.db.Close()
}

// CreateTables creates the necessary tables if they don't exist
func (db *DB) CreateTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			name TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL,
			last_stage TEXT NOT NULL DEFAULT 'created',
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS segments (
			project TEXT NOT NULL,
			idx INTEGER NOT NULL,
			data BLOB NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (project, idx),
			FOREIGN KEY (project) REFERENCES projects(name)
		)`,
	}

	for _, query := range queries {
		if _, err := db.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute %s: %w", query, err)
		}
	}
	return nil
}

// CreateProject registers a project, doing nothing if it already exists
func (db *DB) CreateProject(name string) error {
	now := time.Now().UTC()
	_, err := db.db.Exec(
		"INSERT OR IGNORE INTO projects (name, created_at, last_stage, updated_at) VALUES (?, ?, 'created', ?)",
		name, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by name
func (db *DB) GetProject(name string) (*DBProject, error) {
	var p DBProject
	err := db.db.QueryRow(
		"SELECT name, created_at, last_stage, updated_at FROM projects WHERE name = ?",
		name,
	).Scan(&p.Name, &p.CreatedAt, &p.LastStage, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, name)
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

// ProjectExists checks if a project row exists
func (db *DB) ProjectExists(name string) (bool, error) {
	var exists bool
	err := db.db.QueryRow("SELECT EXISTS(SELECT 1 FROM projects WHERE name = ?)", name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check if project exists: %w", err)
	}
	return exists, nil
}

// UpdateProjectStage records the last pipeline stage run on a project
func (db *DB) UpdateProjectStage(name, stage string) error {
	_, err := db.db.Exec("UPDATE projects SET last_stage = ?, updated_at = ? WHERE name = ?", stage, time.Now().UTC(), name)
	if err != nil {
		return fmt.Errorf("failed to update project stage: %w", err)
	}
	return nil
}

// Segments returns the segment store of one project
func (db *DB) Segments(project string, metrics *Metrics) *SQLiteSegmentStore {
	return &SQLiteSegmentStore{
		db:      db,
		project: project,
		log:     db.log.With().Str("project", project).Logger(),
		metrics: metrics,
	}
}

// SQLiteSegmentStore is a SegmentStore backed by the segments table
type SQLiteSegmentStore struct {
	db      *DB
	project string
	log     zerolog.Logger
	metrics *Metrics
}

// Prepare inserts the project row
func (s *SQLiteSegmentStore) Prepare() error {
	return s.db.CreateProject(s.project)
}

// Ready reports whether the project row exists
func (s *SQLiteSegmentStore) Ready() bool {
	exists, err := s.db.ProjectExists(s.project)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to check project row")
		return false
	}
	return exists
}

// Read decodes the segment row at index
func (s *SQLiteSegmentStore) Read(index int) (*Segment, error) {
	var data []byte
	err := s.db.db.QueryRow("SELECT data FROM segments WHERE project = ? AND idx = ?", s.project, index).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: index %d", ErrSegmentNotFound, index)
		}
		return nil, fmt.Errorf("failed to get segment: %w", err)
	}
	return DecodeSegment(data)
}

// Write upserts seg at index unless the row already holds the same record
func (s *SQLiteSegmentStore) Write(index int, seg *Segment) (bool, error) {
	if !s.Ready() {
		s.log.Error().Int("index", index).Msg("project is not registered, refusing write")
		s.metrics.RecordSegmentWrite("failed")
		return false, ErrFolderMissing
	}

	data, err := EncodeSegment(seg)
	if err != nil {
		s.metrics.RecordSegmentWrite("failed")
		return false, err
	}

	var current []byte
	err = s.db.db.QueryRow("SELECT data FROM segments WHERE project = ? AND idx = ?", s.project, index).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return false, fmt.Errorf("failed to get segment: %w", err)
	default:
		if bytes.Equal(current, data) {
			s.metrics.RecordSegmentWrite("skipped")
			return false, nil
		}
		var duplicate bool
		err := s.db.db.QueryRow(
			"SELECT EXISTS(SELECT 1 FROM segments WHERE project = ? AND data = ?)",
			s.project, data,
		).Scan(&duplicate)
		if err != nil {
			return false, fmt.Errorf("failed to check for identical segment: %w", err)
		}
		if duplicate {
			s.log.Debug().Int("index", index).Msg("identical segment record exists, skipping write")
			s.metrics.RecordSegmentWrite("skipped")
			return false, nil
		}
	}

	_, err = s.db.db.Exec(
		`INSERT INTO segments (project, idx, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(project, idx) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		s.project, index, data, time.Now().UTC(),
	)
	if err != nil {
		s.metrics.RecordSegmentWrite("failed")
		return false, fmt.Errorf("failed to write segment: %w", err)
	}
	s.metrics.RecordSegmentWrite("written")
	return true, nil
}

// Indices returns the stored segment indices in ascending order
func (s *SQLiteSegmentStore) Indices() ([]int, error) {
	rows, err := s.db.db.Query("SELECT idx FROM segments WHERE project = ? ORDER BY idx", s.project)
	if err != nil {
		return nil, fmt.Errorf("failed to get segments: %w", err)
	}
	defer rows.Close()

	var indices []int
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		indices = append(indices, idx)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating segments: %w", err)
	}

	return indices, nil
}

// Delete removes the segment row at index
func (s *SQLiteSegmentStore) Delete(index int) error {
	res, err := s.db.db.Exec("DELETE FROM segments WHERE project = ? AND idx = ?", s.project, index)
	if err != nil {
		return fmt.Errorf("failed to delete segment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: index %d", ErrSegmentNotFound, index)
	}
	return nil
}

// RecordStage stores the name of the last stage run on the project
func (s *SQLiteSegmentStore) RecordStage(stage string) error {
	return s.db.UpdateProjectStage(s.project, stage)
}
