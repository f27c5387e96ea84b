package repository

import (
	"context"
	"time"

	"flowdeck/backend/pkg/models"
)

// AuditStore is an append-only store for audit trail entries.
type AuditStore interface {
	// Insert appends an entry. A zero Timestamp is set by the store.
	Insert(ctx context.Context, entry *models.AuditEntry) error
	// Since returns the entries recorded at or after since, newest first.
	Since(ctx context.Context, since time.Time) ([]*models.AuditEntry, error)
}
