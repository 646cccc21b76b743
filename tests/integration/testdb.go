// Package integration runs the persistence layer against real PostgreSQL and
// Redis instances started with testcontainers.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/qbsync/backend/internal/infrastructure/config"
	"github.com/qbsync/backend/internal/infrastructure/migration"
	"github.com/qbsync/backend/internal/infrastructure/persistence"
)

// terminate stops c when the test ends
func terminate(t *testing.T, c testcontainers.Container) {
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("terminate %s: %v", c.GetContainerID(), err)
		}
	})
}

// StartPostgres runs PostgreSQL in a container, opens it the way the
// service does and applies the bundled migrations
func StartPostgres(t *testing.T) *persistence.Database {
	t.Helper()
	ctx := context.Background()

	const name, user, pass = "qbsync_test", "qbsync", "qbsync"
	c, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase(name),
		tcpostgres.WithUsername(user),
		tcpostgres.WithPassword(pass),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute)),
	)
	require.NoError(t, err, "start postgres")
	terminate(t, c)

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	db, err := persistence.NewDatabase(&config.DatabaseConfig{
		Driver:       persistence.DriverPostgres,
		Host:         host,
		Port:         port.Int(),
		User:         user,
		Password:     pass,
		DBName:       name,
		SSLMode:      "disable",
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	})
	require.NoError(t, err, "open postgres")
	t.Cleanup(func() { _ = db.Close() })

	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	m, err := migration.New(sqlDB, "", nil)
	require.NoError(t, err)
	require.NoError(t, m.Up(), "apply migrations")
	return db
}

// truncate empties the import history table between subtests
func truncate(t *testing.T, db *persistence.Database) {
	t.Helper()
	require.NoError(t, db.DB.Exec("TRUNCATE TABLE import_histories").Error)
}

// StartRedis runs Redis in a container and returns its address
func StartRedis(t *testing.T) (string, int) {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "start redis")
	terminate(t, c)

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)
	return host, port.Int()
}
