//go:build integration

package integration

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aliuyar1234/bizdesk/internal/db"
	"github.com/aliuyar1234/bizdesk/internal/store/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	postgresHostPort  string
	postgresAdminPool *pgxpool.Pool
	postgresErr       error
)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	container, err := startPostgres(ctx)
	cancel()
	if err != nil {
		postgresErr = err
		os.Exit(m.Run())
	}

	code := m.Run()

	postgresAdminPool.Close()
	_ = container.Terminate(context.Background())
	os.Exit(code)
}

func startPostgres(ctx context.Context) (testcontainers.Container, error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "postgres",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, err
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, err
	}
	postgresHostPort = fmt.Sprintf("%s:%s", host, port.Port())

	pool, err := pgxpool.New(ctx, dsn("postgres"))
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, err
	}
	postgresAdminPool = pool
	return container, nil
}

func dsn(database string) string {
	return fmt.Sprintf("postgres://test:test@%s/%s?sslmode=disable", postgresHostPort, database)
}

// newTestStore creates a migrated database of its own for t.
func newTestStore(t *testing.T) (*postgres.Store, *pgxpool.Pool) {
	t.Helper()
	if postgresErr != nil {
		t.Skipf("skipping integration tests: %v", postgresErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	name := "bizdesk_test_" + randomHex(t, 8)
	_, err := postgresAdminPool.Exec(ctx, "CREATE DATABASE "+name)
	require.NoError(t, err)

	pool, err := postgres.NewPool(ctx, &postgres.PoolConfig{ConnString: dsn(name), MaxConns: 10, MinConns: 1})
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Close()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, _ = postgresAdminPool.Exec(cleanupCtx, "DROP DATABASE IF EXISTS "+name+" WITH (FORCE)")
	})

	_, err = db.RunMigrations(ctx, pool)
	require.NoError(t, err)

	return postgres.New(pool, postgres.WithQueryTimeout(5*time.Second)), pool
}

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("skipping redis integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func randomHex(t *testing.T, n int) string {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return hex.EncodeToString(b)
}
