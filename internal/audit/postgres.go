package audit

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL audit store.
// It expects the audit_log table to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL audit store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Record appends an entry.
func (s *PostgresStore) Record(ctx context.Context, entry *Entry) error {
	query := `
		INSERT INTO audit_log (action, subject_id, actor_id, details, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	var details any
	if len(entry.Details) > 0 {
		details = string(entry.Details)
	}

	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, query,
		string(entry.Action),
		entry.SubjectID,
		entry.ActorID,
		details,
		entry.CorrelationID,
		now,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}

	entry.CreatedAt = now
	return nil
}

// ListBySubject returns the entries recorded for subjectID, oldest first.
func (s *PostgresStore) ListBySubject(ctx context.Context, subjectID string, limit int) ([]*Entry, error) {
	query := `
		SELECT id, action, subject_id, actor_id, details, correlation_id, created_at
		FROM audit_log
		WHERE subject_id = $1
		ORDER BY id ASC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	return collect(rows)
}

// Count returns the total number of entries.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return count, nil
}

// ExportJSON exports all entries to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, subject_id, actor_id, details, correlation_id, created_at
		FROM audit_log
		ORDER BY id ASC
		LIMIT $1
	`, maxExportLimit)
	if err != nil {
		return fmt.Errorf("failed to export audit entries: %w", err)
	}
	defer rows.Close()

	all, err := collect(rows)
	if err != nil {
		return err
	}
	return encodeExport(writer, all)
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
