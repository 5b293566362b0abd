package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/engramd/internal/history"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Start PostgreSQL container
	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	// Get connection string
	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Create sink
	sink, err := New(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	startEvent := history.Event{
		Type:       history.EventStarting,
		OccurredAt: time.Now().UTC(),
		PID:        12345,
	}

	// Send starting event
	if err := sink.Send(ctx, startEvent); err != nil {
		t.Fatalf("Failed to send starting event: %v", err)
	}

	crashEvent := history.Event{
		Type:       history.EventCrashed,
		OccurredAt: time.Now().UTC(),
		PID:        12345,
		Restarts:   2,
		Detail:     "terminated by signal killed",
	}

	// Send crashed event
	if err := sink.Send(ctx, crashEvent); err != nil {
		t.Fatalf("Failed to send crashed event: %v", err)
	}

	// Verify events were stored
	rows, err := sink.db.QueryContext(ctx, "SELECT COUNT(*) FROM worker_history WHERE pid = $1", 12345)
	if err != nil {
		t.Fatalf("Failed to query worker_history: %v", err)
	}
	defer func() { _ = rows.Close() }()

	var count int
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			t.Fatalf("Failed to scan count: %v", err)
		}
	}

	if count != 2 {
		t.Errorf("Expected 2 events in history, got %d", count)
	}

	// Crash detail should round-trip
	var detail string
	row := sink.db.QueryRowContext(ctx, "SELECT detail FROM worker_history WHERE status = $1", "crashed")
	if err := row.Scan(&detail); err != nil {
		t.Fatalf("Failed to read crash detail: %v", err)
	}
	if detail != "terminated by signal killed" {
		t.Errorf("unexpected detail %q", detail)
	}
}

func TestPostgresSink_EmptyDSN(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
