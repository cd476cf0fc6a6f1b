package state

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leapstack-labs/sqlineage/internal/testutil"
	"github.com/leapstack-labs/sqlineage/pkg/lineage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	store := NewSQLiteStore(testutil.NewTestLogger(t))
	require.NoError(t, store.Open(ctx, ":memory:"))
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustExtract(t *testing.T, sql string) lineage.Result {
	t.Helper()
	result, err := lineage.Extract(sql)
	require.NoError(t, err)
	return result
}

func TestSQLiteStore_OpenClose(t *testing.T) {
	store := NewSQLiteStore(nil)
	require.NoError(t, store.Open(context.Background(), ":memory:"))
	assert.NoError(t, store.Close())

	// closing an unopened store is a no-op
	assert.NoError(t, NewSQLiteStore(nil).Close())
}

func TestSQLiteStore_OpenFile(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/history.db"

	store := NewSQLiteStore(nil)
	require.NoError(t, store.Open(ctx, path))
	require.NoError(t, store.Migrate(ctx))
	saved, err := store.SaveExtraction(ctx, "file", "SELECT a FROM t", mustExtract(t, "SELECT a FROM t"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened := NewSQLiteStore(nil)
	require.NoError(t, reopened.Open(ctx, path))
	defer func() { _ = reopened.Close() }()

	got, err := reopened.GetExtraction(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved.Lineage, got.Lineage)
}

func TestSQLiteStore_Migrate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	version, err := store.GetMigrationVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	// running again is a no-op
	require.NoError(t, store.Migrate(ctx))

	for _, table := range []string{"extractions", "extraction_columns"} {
		rows, err := store.db.QueryContext(ctx, "SELECT 1 FROM "+table+" LIMIT 1")
		require.NoError(t, err, "table %s should exist", table)
		_ = rows.Close()
	}
}

func TestSQLiteStore_NotOpened(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteStore(nil)

	assert.EqualError(t, store.Migrate(ctx), "database not opened")
	_, err := store.GetMigrationVersion(ctx)
	assert.EqualError(t, err, "database not opened")
	_, err = store.SaveExtraction(ctx, "x", "SELECT 1", nil)
	assert.EqualError(t, err, "database not opened")
	_, err = store.GetExtraction(ctx, "id")
	assert.EqualError(t, err, "database not opened")
	_, err = store.ListExtractions(ctx, 10)
	assert.EqualError(t, err, "database not opened")
	_, err = store.FindByHash(ctx, "abc")
	assert.EqualError(t, err, "database not opened")
}

func TestSQLiteStore_SaveAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sqlText := `SELECT c.id, SUM(o.amount) AS total, s.x
		FROM customer c
		JOIN orders o ON o.customer_id = c.id
		JOIN (SELECT x FROM t) s ON s.x = c.x
		WHERE c.id > 10`
	result := mustExtract(t, sqlText)

	saved, err := store.SaveExtraction(ctx, "queries/report.sql", sqlText, result)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, HashSQL(sqlText), saved.Hash)
	assert.Equal(t, len(result), saved.ColumnCount)

	encoded, err := lineage.Encode(result)
	require.NoError(t, err)
	assert.Equal(t, string(encoded), saved.Lineage)

	got, err := store.GetExtraction(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, got.ID)
	assert.Equal(t, "queries/report.sql", got.Source)
	assert.Equal(t, sqlText, got.SQL)
	assert.Equal(t, saved.Lineage, got.Lineage)
	assert.True(t, saved.CreatedAt.Equal(got.CreatedAt))
	require.Len(t, got.Columns, len(result))

	byName := map[string]ExtractionColumn{}
	for i, c := range got.Columns {
		assert.Equal(t, i, c.Position)
		if c.Name != nil {
			byName[*c.Name] = c
		}
	}

	id := byName["id"]
	require.NotNil(t, id.Table)
	assert.Equal(t, "customer", *id.Table)
	assert.False(t, id.IsSubquery)
	assert.True(t, id.IsJoinCondition)
	assert.True(t, id.IsFilterCondition)

	amount := byName["amount"]
	assert.True(t, amount.IsAggregation)
	require.NotNil(t, amount.Alias)
	assert.Equal(t, "total", *amount.Alias)

	x := byName["x"]
	assert.True(t, x.IsSubquery)
	require.NotNil(t, x.Table)
	assert.Contains(t, *x.Table, `"name": "x"`)
}

func TestSQLiteStore_SaveEmptyResult(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	saved, err := store.SaveExtraction(ctx, "stdin", "DELETE FROM t", lineage.Result{})
	require.NoError(t, err)
	assert.Equal(t, "[]", saved.Lineage)

	got, err := store.GetExtraction(ctx, saved.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Columns)
	assert.Zero(t, got.ColumnCount)
}

func TestSQLiteStore_GetNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetExtraction(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "missing")
}

func TestSQLiteStore_ListExtractions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var ids []string
	for _, q := range []string{"SELECT a FROM t1", "SELECT b FROM t2", "SELECT c FROM t3"} {
		e, err := store.SaveExtraction(ctx, "test", q, mustExtract(t, q))
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}

	all, err := store.ListExtractions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID, "newest first")
	assert.Equal(t, ids[0], all[2].ID)
	assert.Empty(t, all[0].Columns, "list does not load columns")

	limited, err := store.ListExtractions(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSQLiteStore_FindByHash(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	q := "SELECT a FROM t"

	_, err := store.FindByHash(ctx, HashSQL(q))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.SaveExtraction(ctx, "first", q, mustExtract(t, q))
	require.NoError(t, err)
	second, err := store.SaveExtraction(ctx, "second", q, mustExtract(t, q))
	require.NoError(t, err)

	found, err := store.FindByHash(ctx, HashSQL(q))
	require.NoError(t, err)
	assert.Equal(t, second.ID, found.ID)
}

func TestHashSQL(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashSQL(""))
	assert.NotEqual(t, HashSQL("SELECT a FROM t"), HashSQL("SELECT a FROM t "))
}

func TestSQLiteStore_SaveErrors(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		errSubstr string
	}{
		{
			name: "begin fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(assert.AnError)
			},
			errSubstr: "failed to begin transaction",
		},
		{
			name: "insert extraction fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO extractions").WillReturnError(assert.AnError)
				mock.ExpectRollback()
			},
			errSubstr: "failed to save extraction",
		},
		{
			name: "insert column fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO extractions").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO extraction_columns").WillReturnError(assert.AnError)
				mock.ExpectRollback()
			},
			errSubstr: "failed to save extraction column 0",
		},
		{
			name: "commit fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO extractions").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO extraction_columns").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit().WillReturnError(assert.AnError)
			},
			errSubstr: "failed to commit extraction",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer func() { _ = db.Close() }()
			tt.setupMock(mock)

			store := NewSQLiteStoreWithDB(db, nil)
			_, err = store.SaveExtraction(context.Background(), "test", "SELECT a FROM t", mustExtract(t, "SELECT a FROM t"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLiteStore_QueryErrors(t *testing.T) {
	cols := []string{"id", "source", "sql_text", "sql_hash", "result", "column_count", "created_at"}

	t.Run("list query fails", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()
		mock.ExpectQuery("SELECT .* FROM extractions ORDER BY").WillReturnError(assert.AnError)

		_, err = NewSQLiteStoreWithDB(db, nil).ListExtractions(context.Background(), 5)
		require.ErrorIs(t, err, assert.AnError)
		assert.Contains(t, err.Error(), "failed to list extractions")
	})

	t.Run("corrupt timestamp", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()
		mock.ExpectQuery("SELECT .* FROM extractions WHERE sql_hash").
			WillReturnRows(sqlmock.NewRows(cols).AddRow("id", "src", "SELECT 1", "h", "[]", 0, "yesterday"))

		_, err = NewSQLiteStoreWithDB(db, nil).FindByHash(context.Background(), "h")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid created_at")
	})

	t.Run("columns query fails", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()
		mock.ExpectQuery("SELECT .* FROM extractions WHERE id").
			WillReturnRows(sqlmock.NewRows(cols).AddRow("id", "src", "SELECT 1", "h", "[]", 0, "2026-01-02T03:04:05.000000000Z"))
		mock.ExpectQuery("FROM extraction_columns").WillReturnError(assert.AnError)

		_, err = NewSQLiteStoreWithDB(db, nil).GetExtraction(context.Background(), "id")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get extraction columns")
	})
}
