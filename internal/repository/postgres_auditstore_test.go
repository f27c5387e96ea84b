package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"flowdeck/backend/pkg/models"
)

func TestPostgresAuditStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	store := NewPostgresAuditStore(pool)
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrate is idempotent")

	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("Insert and Since", func(t *testing.T) {
		old := &models.AuditEntry{
			Action:     models.AuditActionActivate,
			WorkflowID: "wf-old",
			UserName:   "Ann",
			UserEmail:  "ann@example.com",
			Timestamp:  now.Add(-20 * 24 * time.Hour),
		}
		first := &models.AuditEntry{
			Action:       models.AuditActionDeactivate,
			WorkflowID:   "wf-1",
			WorkflowName: "Digest",
			OldValue:     json.RawMessage(`{"active":true}`),
			NewValue:     json.RawMessage(`{"active":false}`),
			UserName:     "Ann",
			UserEmail:    "ann@example.com",
			Timestamp:    now.Add(-2 * time.Hour),
		}
		second := &models.AuditEntry{
			Action:     models.AuditActionUpdateSchedule,
			WorkflowID: "wf-1",
			NewValue:   json.RawMessage(`[{"mode":"everyWeek","dayOfWeek":"1","hour":"09","minute":"00"}]`),
			UserName:   "Bob",
			UserEmail:  "bob@example.com",
		}
		for _, e := range []*models.AuditEntry{old, first, second} {
			require.NoError(t, store.Insert(ctx, e))
			assert.NotEmpty(t, e.ID)
		}

		entries, err := store.Since(ctx, now.Add(-14*24*time.Hour))
		require.NoError(t, err)
		require.Len(t, entries, 2)

		assert.Equal(t, second.ID, entries[0].ID)
		assert.Equal(t, models.AuditActionUpdateSchedule, entries[0].Action)
		assert.Empty(t, entries[0].OldValue)
		assert.JSONEq(t, string(second.NewValue), string(entries[0].NewValue))

		assert.Equal(t, first.ID, entries[1].ID)
		assert.Equal(t, "Digest", entries[1].WorkflowName)
		assert.JSONEq(t, `{"active":true}`, string(entries[1].OldValue))
		assert.WithinDuration(t, first.Timestamp, entries[1].Timestamp, time.Millisecond)
	})
}
