package database

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/matebook/internal/records"
	"github.com/MarcoPoloResearchLab/matebook/internal/students"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	integrationDatabase = "matebook_test"
	integrationUser     = "matebook"
	integrationPassword = "test-password"
)

// startPostgres runs PostgreSQL in a container. It only runs when
// TEST_INTEGRATION is set.
func startPostgres(t *testing.T) Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION is not set")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase(integrationDatabase),
		postgres.WithUsername(integrationUser),
		postgres.WithPassword(integrationPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to resolve container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("failed to resolve container port: %v", err)
	}
	portNumber, err := strconv.Atoi(port.Port())
	if err != nil {
		t.Fatalf("unexpected container port %q: %v", port.Port(), err)
	}

	return Config{
		Driver:         DriverPostgres,
		Host:           host,
		Port:           portNumber,
		Name:           integrationDatabase,
		User:           integrationUser,
		Password:       integrationPassword,
		SSLMode:        "disable",
		AcquireTimeout: 5 * time.Second,
	}
}

func TestPostgresGatewayLifecycle(t *testing.T) {
	cfg := startPostgres(t)
	ctx := context.Background()

	gateway, err := Open(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open gateway: %v", err)
	}
	defer gateway.Close()

	if err := Migrate(gateway.DB(), zap.NewNop()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	if err := Migrate(gateway.DB(), zap.NewNop()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}

	service, err := students.NewService(students.ServiceConfig{Runner: gateway})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	email := "li@x.com"
	created, err := service.Create(ctx, students.StudentCreate{Name: "Li Wei", Email: &email}, nil)
	if err != nil {
		t.Fatalf("failed to create: %v", err)
	}
	_, err = service.Create(ctx, students.StudentCreate{Name: "Li Wei Two", Email: &email}, nil)
	if !errors.Is(err, records.ErrConstraintViolation) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
	if _, err := service.Get(ctx, created.ID); err != nil {
		t.Fatalf("expected first record to remain: %v", err)
	}

	err = gateway.Do(ctx, func(tx *gorm.DB) error {
		return tx.Exec("INSERT INTO students (name, created_at) VALUES (NULL, now())").Error
	})
	if !records.IsConstraintViolation(err) {
		t.Fatalf("expected not-null violation, got %v", err)
	}
}

func TestPostgresGatewayRejectsWrongPassword(t *testing.T) {
	cfg := startPostgres(t)
	cfg.Password = "wrong-password"

	_, err := Open(context.Background(), cfg, zap.NewNop())
	kind, ok := FailureKindOf(err)
	if !ok || kind != AuthRejected {
		t.Fatalf("expected auth rejected, got %v", err)
	}
}
