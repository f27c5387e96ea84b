package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"flowdeck/backend/pkg/models"
)

// Schema creates the audit_log table used by PostgresAuditStore.
const Schema = `CREATE TABLE IF NOT EXISTS audit_log (
	id            UUID PRIMARY KEY,
	action        TEXT NOT NULL,
	workflow_id   TEXT NOT NULL,
	workflow_name TEXT,
	old_value     JSONB,
	new_value     JSONB,
	user_name     TEXT NOT NULL DEFAULT '',
	user_email    TEXT NOT NULL DEFAULT '',
	timestamp     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS audit_log_timestamp_idx ON audit_log (timestamp DESC);`

// PostgresAuditStore is a PostgreSQL implementation of the AuditStore interface.
type PostgresAuditStore struct {
	db *pgxpool.Pool
}

// NewPostgresAuditStore creates a new PostgresAuditStore.
func NewPostgresAuditStore(db *pgxpool.Pool) *PostgresAuditStore {
	return &PostgresAuditStore{db: db}
}

// Migrate creates the audit table if it does not exist.
func (s *PostgresAuditStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create audit_log table: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *PostgresAuditStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Insert appends an entry, assigning its ID and, when unset, its timestamp.
func (s *PostgresAuditStore) Insert(ctx context.Context, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO audit_log (id, action, workflow_id, workflow_name, old_value, new_value, user_name, user_email, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, string(entry.Action), entry.WorkflowID, nullable(entry.WorkflowName),
		jsonb(entry.OldValue), jsonb(entry.NewValue), entry.UserName, entry.UserEmail, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Since returns the entries recorded at or after since, newest first.
func (s *PostgresAuditStore) Since(ctx context.Context, since time.Time) ([]*models.AuditEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, action, workflow_id, COALESCE(workflow_name, ''), old_value, new_value, user_name, user_email, timestamp
		 FROM audit_log WHERE timestamp >= $1 ORDER BY timestamp DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries := []*models.AuditEntry{}
	for rows.Next() {
		var (
			e          models.AuditEntry
			action     string
			oldV, newV []byte
		)
		if err := rows.Scan(&e.ID, &action, &e.WorkflowID, &e.WorkflowName, &oldV, &newV, &e.UserName, &e.UserEmail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Action = models.AuditAction(action)
		e.OldValue = oldV
		e.NewValue = newV
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	return entries, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// jsonb passes raw JSON as text so pgx does not re-encode it; empty means NULL.
func jsonb(raw []byte) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}
