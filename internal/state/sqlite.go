package state

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/sqlineage/pkg/lineage"

	_ "modernc.org/sqlite" // sqlite driver
)

// timeLayout is fixed width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store instance.
// If logger is nil, a discard logger is used.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger}
}

// NewSQLiteStoreWithDB wraps an already opened database.
func NewSQLiteStoreWithDB(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	s := NewSQLiteStore(logger)
	s.db = db
	return s
}

// Open opens a connection to the SQLite database.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(ctx context.Context, path string) error {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	s.logger.Debug("opening history store", slog.String("path", path))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HashSQL returns the hex SHA-256 digest used to find repeated extractions.
func HashSQL(sqlText string) string {
	sum := sha256.Sum256([]byte(sqlText))
	return hex.EncodeToString(sum[:])
}

// generateID creates a new UUID.
func generateID() string {
	return uuid.New().String()
}

// SaveExtraction records result as the lineage of sqlText.
func (s *SQLiteStore) SaveExtraction(ctx context.Context, source, sqlText string, result lineage.Result) (*Extraction, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	encoded, err := lineage.Encode(result)
	if err != nil {
		return nil, err
	}

	e := &Extraction{
		ID:          generateID(),
		Source:      source,
		SQL:         sqlText,
		Hash:        HashSQL(sqlText),
		Lineage:     string(encoded),
		ColumnCount: len(result),
		CreatedAt:   time.Now().UTC(),
		Columns:     flatten(result),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO extractions (id, source, sql_text, sql_hash, result, column_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Source, e.SQL, e.Hash, e.Lineage, e.ColumnCount, e.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save extraction: %w", err)
	}

	for _, c := range e.Columns {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO extraction_columns
			 (extraction_id, position, name, alias, table_name, is_subquery, is_join_condition, is_filter_condition, is_aggregation)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, c.Position, c.Name, c.Alias, c.Table, c.IsSubquery, c.IsJoinCondition, c.IsFilterCondition, c.IsAggregation,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to save extraction column %d: %w", c.Position, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit extraction: %w", err)
	}

	s.logger.Debug("saved extraction",
		slog.String("id", e.ID),
		slog.String("source", source),
		slog.Int("columns", e.ColumnCount))
	return e, nil
}

// flatten converts descriptors to their stored form.
func flatten(result lineage.Result) []ExtractionColumn {
	cols := make([]ExtractionColumn, 0, len(result))
	for i, d := range result {
		c := ExtractionColumn{
			Position:          i,
			Name:              d.Name,
			Alias:             d.Alias,
			IsJoinCondition:   d.IsJoinCondition,
			IsFilterCondition: d.IsFilterCondition,
			IsAggregation:     d.IsAggregation,
		}
		if d.Table != nil {
			table := d.Table.String()
			c.Table = &table
			c.IsSubquery = d.Table.IsSubquery()
		}
		cols = append(cols, c)
	}
	return cols
}

const extractionColumns = `id, source, sql_text, sql_hash, result, column_count, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExtraction(row rowScanner) (*Extraction, error) {
	e := &Extraction{}
	var createdAt string
	if err := row.Scan(&e.ID, &e.Source, &e.SQL, &e.Hash, &e.Lineage, &e.ColumnCount, &createdAt); err != nil {
		return nil, err
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return e, nil
}

// GetExtraction returns an extraction and its columns.
func (s *SQLiteStore) GetExtraction(ctx context.Context, id string) (*Extraction, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	e, err := scanExtraction(s.db.QueryRowContext(ctx,
		`SELECT `+extractionColumns+` FROM extractions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get extraction: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT position, name, alias, table_name, is_subquery, is_join_condition, is_filter_condition, is_aggregation
		 FROM extraction_columns WHERE extraction_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get extraction columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var c ExtractionColumn
		var name, alias, table sql.NullString
		if err := rows.Scan(&c.Position, &name, &alias, &table,
			&c.IsSubquery, &c.IsJoinCondition, &c.IsFilterCondition, &c.IsAggregation); err != nil {
			return nil, fmt.Errorf("failed to scan extraction column: %w", err)
		}
		c.Name = nullable(name)
		c.Alias = nullable(alias)
		c.Table = nullable(table)
		e.Columns = append(e.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating extraction columns: %w", err)
	}

	return e, nil
}

// ListExtractions returns up to limit extractions, newest first. A limit of
// zero or less returns all of them.
func (s *SQLiteStore) ListExtractions(ctx context.Context, limit int) ([]*Extraction, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+extractionColumns+` FROM extractions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list extractions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Extraction
	for rows.Next() {
		e, err := scanExtraction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan extraction: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating extractions: %w", err)
	}
	return out, nil
}

// FindByHash returns the newest extraction whose SQL hashes to hash.
func (s *SQLiteStore) FindByHash(ctx context.Context, hash string) (*Extraction, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	e, err := scanExtraction(s.db.QueryRowContext(ctx,
		`SELECT `+extractionColumns+` FROM extractions WHERE sql_hash = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: hash %s", ErrNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find extraction: %w", err)
	}
	return e, nil
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}
