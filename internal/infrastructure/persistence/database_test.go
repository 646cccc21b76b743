package persistence

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/qbsync/backend/internal/domain/bulk"
	"github.com/qbsync/backend/internal/domain/shared"
	"github.com/qbsync/backend/internal/infrastructure/config"
)

// newMockDatabase creates a Database instance with a mocked SQL connection
func newMockDatabase(t *testing.T) (*Database, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return &Database{DB: gormDB, driver: DriverPostgres}, mock, mockDB
}

// newSQLiteDatabase opens a throwaway SQLite database in a temp dir
func newSQLiteDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(&config.DatabaseConfig{
		Driver: DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "data", "qbsync.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewDatabase(t *testing.T) {
	t.Run("creates sqlite file and migrates", func(t *testing.T) {
		db := newSQLiteDatabase(t)
		assert.Equal(t, DriverSQLite, db.Driver())
		assert.True(t, db.DB.Migrator().HasTable("import_histories"))
		assert.NoError(t, db.Ping(context.Background()))
	})

	t.Run("empty driver defaults to sqlite", func(t *testing.T) {
		db, err := NewDatabase(&config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "x.db")})
		require.NoError(t, err)
		defer db.Close()
		assert.Equal(t, DriverSQLite, db.Driver())
	})

	t.Run("rejects unknown driver", func(t *testing.T) {
		_, err := NewDatabase(&config.DatabaseConfig{Driver: "oracle"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported database driver")
	})
}

func TestDatabase_Stats(t *testing.T) {
	db, _, mockDB := newMockDatabase(t)
	defer mockDB.Close()

	stats, err := db.Stats()
	assert.NoError(t, err)
	assert.IsType(t, ConnectionStats{}, stats)
}

func TestDatabase_Ping(t *testing.T) {
	t.Run("successful ping", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()

		mock.ExpectPing()
		assert.NoError(t, db.Ping(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed ping", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()

		mock.ExpectPing().WillReturnError(sql.ErrConnDone)
		assert.ErrorIs(t, db.Ping(context.Background()), sql.ErrConnDone)
	})
}

func newHistory(t *testing.T, name, hash string) *bulk.ImportHistory {
	t.Helper()
	h, err := bulk.NewImportHistory(name, hash, 128, bulk.ImportSourceWatcher)
	require.NoError(t, err)
	return h
}

func TestGormImportHistoryRepository_SaveAndFind(t *testing.T) {
	db := newSQLiteDatabase(t)
	repo := NewGormImportHistoryRepository(db.DB)
	ctx := context.Background()

	h := newHistory(t, "billing.csv", "abc123")
	require.NoError(t, h.StartProcessing(10, 3))
	require.NoError(t, h.Complete(2, 0, 1, "/data/error/20260101_120000_billing.csv", []bulk.ImportErrorDetail{
		{Row: 4, InvoiceNo: "INV-9", Code: "SYNC_FAILED", Message: "rejected"},
	}))
	require.NoError(t, repo.Save(ctx, h))

	found, err := repo.FindByID(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, "billing.csv", found.FileName)
	assert.Equal(t, bulk.ImportStatusFailed, found.Status)
	assert.Equal(t, 3, found.TotalTransactions)
	assert.Equal(t, 1, found.ErrorCount)
	require.Len(t, found.ErrorDetails, 1)
	assert.Equal(t, "INV-9", found.ErrorDetails[0].InvoiceNo)
	require.NotNil(t, found.CompletedAt)

	_, err = repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormImportHistoryRepository_FindAll(t *testing.T) {
	db := newSQLiteDatabase(t)
	repo := NewGormImportHistoryRepository(db.DB)
	ctx := context.Background()

	names := []string{"a.csv", "b.csv", "c.xlsx"}
	for i, name := range names {
		h := newHistory(t, name, name)
		require.NoError(t, h.StartProcessing(1, 1))
		started := time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC)
		h.StartedAt = &started
		require.NoError(t, h.Complete(1, 0, 0, "processed/"+name, nil))
		require.NoError(t, repo.Save(ctx, h))
	}

	t.Run("newest first by default", func(t *testing.T) {
		result, err := repo.FindAll(ctx, bulk.ImportHistoryFilter{}, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(3), result.TotalCount)
		require.Len(t, result.Items, 3)
		assert.Equal(t, "c.xlsx", result.Items[0].FileName)
		assert.Equal(t, "a.csv", result.Items[2].FileName)
	})

	t.Run("paginates", func(t *testing.T) {
		result, err := repo.FindAll(ctx, bulk.ImportHistoryFilter{SortBy: "file_name", SortOrder: "asc"}, 2, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(3), result.TotalCount)
		require.Len(t, result.Items, 1)
		assert.Equal(t, "c.xlsx", result.Items[0].FileName)
	})

	t.Run("filters by name", func(t *testing.T) {
		result, err := repo.FindAll(ctx, bulk.ImportHistoryFilter{FileName: ".csv"}, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(2), result.TotalCount)
	})

	t.Run("ignores unknown sort field", func(t *testing.T) {
		result, err := repo.FindAll(ctx, bulk.ImportHistoryFilter{SortBy: "file_name; DROP TABLE import_histories"}, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, "c.xlsx", result.Items[0].FileName)
	})

	t.Run("filters by status", func(t *testing.T) {
		failed := bulk.ImportStatusFailed
		result, err := repo.FindAll(ctx, bulk.ImportHistoryFilter{Status: &failed}, 1, 10)
		require.NoError(t, err)
		assert.Zero(t, result.TotalCount)

		completed := bulk.ImportStatusCompleted
		result, err = repo.FindAll(ctx, bulk.ImportHistoryFilter{Status: &completed}, 0, 0)
		require.NoError(t, err)
		assert.Len(t, result.Items, 3)
	})
}

func TestGormImportHistoryRepository_FindLatestByFileHash(t *testing.T) {
	db := newSQLiteDatabase(t)
	repo := NewGormImportHistoryRepository(db.DB)
	ctx := context.Background()

	first := newHistory(t, "first.csv", "same")
	first.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, repo.Save(ctx, first))
	second := newHistory(t, "second.csv", "same")
	require.NoError(t, repo.Save(ctx, second))

	latest, err := repo.FindLatestByFileHash(ctx, "same")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	_, err = repo.FindLatestByFileHash(ctx, "other")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormImportHistoryRepository_Delete(t *testing.T) {
	db := newSQLiteDatabase(t)
	repo := NewGormImportHistoryRepository(db.DB)
	ctx := context.Background()

	h := newHistory(t, "gone.csv", "")
	require.NoError(t, repo.Save(ctx, h))
	require.NoError(t, repo.Delete(ctx, h.ID))
	assert.ErrorIs(t, repo.Delete(ctx, h.ID), shared.ErrNotFound)
}

func TestGormImportHistoryRepository_FindByID_SQL(t *testing.T) {
	db, mock, mockDB := newMockDatabase(t)
	defer mockDB.Close()
	repo := NewGormImportHistoryRepository(db.DB)

	id := uuid.New()
	mock.ExpectQuery(`SELECT \* FROM "import_histories" WHERE id = \$1 ORDER BY .* LIMIT .*`).
		WithArgs(id, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "file_name", "status", "error_details"}).
			AddRow(id, "x.csv", "completed", "[]"))

	h, err := repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "x.csv", h.FileName)
	assert.True(t, h.IsCompleted())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryOrder(t *testing.T) {
	tests := []struct {
		field, dir string
		column     string
		desc       bool
	}{
		{"", "", "started_at", true},
		{"file_name", "asc", "file_name", false},
		{"  error_count ", " ASC ", "error_count", false},
		{"status", "desc", "status", true},
		{"NAME", "asc", "started_at", false},
		{"id; DROP TABLE import_histories;--", "asc", "started_at", false},
		{"file_name", "ASC; DROP TABLE import_histories", "file_name", true},
		{"error_details", "", "started_at", true},
	}
	for _, tt := range tests {
		t.Run(tt.field+"/"+tt.dir, func(t *testing.T) {
			got := historyOrder(tt.field, tt.dir)
			assert.Equal(t, tt.column, got.Column.Name)
			assert.Equal(t, tt.desc, got.Desc)
		})
	}
}
