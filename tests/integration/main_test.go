//go:build integration

// Package integration runs the repositories, status machine, coordinator
// and outbox relay against a real PostgreSQL started with testcontainers.
package integration

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/helixir/screening-workflow-service/internal/config"
	"github.com/helixir/screening-workflow-service/internal/database"
	"github.com/helixir/screening-workflow-service/migrations"
)

var (
	testDB    *database.DB
	skipCause string
)

func TestMain(m *testing.M) {
	os.Exit(runMain(m))
}

func runMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("screening_test"),
		tcpostgres.WithUsername("screening"),
		tcpostgres.WithPassword("screening"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		skipCause = fmt.Sprintf("postgres container unavailable: %v", err)
		return m.Run()
	}
	defer func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			fmt.Fprintf(os.Stderr, "terminate postgres container: %v\n", err)
		}
	}()

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "container host: %v\n", err)
		return 1
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		fmt.Fprintf(os.Stderr, "container port: %v\n", err)
		return 1
	}
	portNum, _ := strconv.Atoi(port.Port())

	logger := zerolog.Nop()
	db, err := database.New(ctx, &config.DatabaseConfig{
		Host:           host,
		Port:           portNum,
		User:           "screening",
		Password:       "screening",
		Name:           "screening_test",
		SSLMode:        config.SSLModeDisable,
		MaxConns:       10,
		ConnectTimeout: 10 * time.Second,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to test database: %v\n", err)
		return 1
	}
	defer db.Close()

	migrator, err := database.NewEmbeddedMigrator(db, migrations.FS, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create migrator: %v\n", err)
		return 1
	}
	if err := migrator.Up(); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}

	testDB = db
	return m.Run()
}

// requireDB skips the test when no database could be started and truncates
// every table otherwise.
func requireDB(t *testing.T) *database.DB {
	t.Helper()
	if testDB == nil {
		t.Skip(skipCause)
	}
	_, err := testDB.Exec(context.Background(), `TRUNCATE reviews, studies, citations, fulltexts,
		data_extractions, screenings, dedupes, dedupe_runs, keyterms, classifier_models,
		outbox_events RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return testDB
}

func countOutbox(t *testing.T, eventType string) int {
	t.Helper()
	var n int
	err := testDB.QueryRow(context.Background(),
		`SELECT count(*) FROM outbox_events WHERE event_type = $1`, eventType).Scan(&n)
	if err != nil {
		t.Fatalf("count outbox events: %v", err)
	}
	return n
}
