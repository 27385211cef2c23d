// Package litestore implements the triage stores on a single SQLite file for
// the lite server. Every guarded transition is one conditional statement.
package litestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/triage-review-server/internal/domain"
)

// Store implements the domain store interfaces on SQLite
type Store struct {
	db     *sql.DB
	dbPath string
	log    *logrus.Logger
}

// Open creates the database file and schema if they don't exist.
func Open(dbPath string, logger *logrus.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection serializes statements.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.WithField("path", dbPath).Info("SQLite store opened")
	return &Store{db: db, dbPath: dbPath, log: logger}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Health checks the database connection
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS clinicians (
	id TEXT PRIMARY KEY,
	slug TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	active INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS patients (
	id TEXT PRIMARY KEY,
	first_name TEXT NOT NULL,
	last_name TEXT NOT NULL,
	email TEXT NOT NULL,
	phone TEXT NOT NULL DEFAULT '',
	government_id TEXT NOT NULL,
	weight_kg REAL NOT NULL,
	height_cm REAL NOT NULL,
	bmi REAL NOT NULL,
	is_pregnant INTEGER NOT NULL DEFAULT 0,
	has_active_malignancy INTEGER NOT NULL DEFAULT 0,
	has_pancreatitis INTEGER NOT NULL DEFAULT 0,
	uses_insulin INTEGER NOT NULL DEFAULT 0,
	consent_data_processing INTEGER NOT NULL,
	consent_treatment INTEGER NOT NULL,
	referrer_slug TEXT NOT NULL DEFAULT '',
	clinician_id TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS assessments (
	id TEXT PRIMARY KEY,
	patient_id TEXT NOT NULL REFERENCES patients(id),
	clinician_id TEXT NOT NULL,
	is_high_risk INTEGER NOT NULL,
	alerts TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS review_tasks (
	id TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	subject_name TEXT NOT NULL DEFAULT '',
	assessment_id TEXT NOT NULL DEFAULT '',
	assignee_id TEXT NOT NULL,
	trigger_kind TEXT NOT NULL,
	priority TEXT NOT NULL CHECK (priority IN ('High', 'Normal', 'Low')),
	status TEXT NOT NULL CHECK (status IN ('Open', 'Completed')),
	due_date DATETIME NOT NULL,
	created_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_review_tasks_open_pair
	ON review_tasks(subject_id, assessment_id) WHERE status = 'Open';
CREATE INDEX IF NOT EXISTS idx_review_tasks_assignee
	ON review_tasks(assignee_id, status, due_date);

CREATE TABLE IF NOT EXISTS peer_reviews (
	id TEXT PRIMARY KEY,
	assessment_id TEXT NOT NULL UNIQUE,
	reviewer_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'Pending' CHECK (status IN ('Pending', 'Completed')),
	verdict INTEGER CHECK (verdict IN (-1, 0, 1)),
	proposed_verdict INTEGER CHECK (proposed_verdict IN (-1, 0, 1)),
	sealed_by TEXT NOT NULL DEFAULT '',
	sealed_at DATETIME,
	created_at DATETIME NOT NULL
);
`

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func encodeAlerts(alerts []string) (string, error) {
	if alerts == nil {
		alerts = []string{}
	}
	raw, err := json.Marshal(alerts)
	if err != nil {
		return "", fmt.Errorf("failed to encode alerts: %w", err)
	}
	return string(raw), nil
}

func decodeAlerts(raw string) ([]string, error) {
	alerts := []string{}
	if raw == "" {
		return alerts, nil
	}
	if err := json.Unmarshal([]byte(raw), &alerts); err != nil {
		return nil, fmt.Errorf("failed to decode alerts: %w", err)
	}
	return alerts, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullVerdict(v sql.NullInt64) *domain.Verdict {
	if !v.Valid {
		return nil
	}
	return domain.VerdictPtr(domain.Verdict(v.Int64))
}

func verdictArg(v *domain.Verdict) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
