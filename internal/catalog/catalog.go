// Package catalog reads view definitions from a database so their lineage
// can be extracted.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/sqlineage/pkg/lineage"
	"github.com/leapstack-labs/sqlineage/pkg/sqltree"
)

// ErrUnsupportedDriver is returned by Open for drivers without a Source.
var ErrUnsupportedDriver = errors.New("unsupported catalog driver")

// View is one view definition.
type View struct {
	Schema     string
	Name       string
	Definition string
}

// QualifiedName returns schema.name.
func (v View) QualifiedName() string {
	if v.Schema == "" {
		return v.Name
	}
	return v.Schema + "." + v.Name
}

// Source lists the views of a database.
type Source interface {
	// ListViews returns user views ordered by schema and name. When schemas
	// is non-empty only views in those schemas are returned.
	ListViews(ctx context.Context, schemas []string) ([]View, error)
	// Close releases the underlying connection.
	Close() error
}

// Open connects to the database named by driver and returns its Source.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var (
		sqlDriver string
		wrap      func(*sql.DB, *slog.Logger) Source
	)
	switch strings.ToLower(driver) {
	case "postgres", "postgresql":
		sqlDriver, wrap = "pgx", func(db *sql.DB, l *slog.Logger) Source { return NewPostgres(db, l) }
	case "duckdb":
		sqlDriver, wrap = "duckdb", func(db *sql.DB, l *slog.Logger) Source { return NewDuckDB(db, l) }
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}

	logger.Debug("connecting to catalog", slog.String("driver", driver))

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
	}
	return wrap(db, logger), nil
}

// sqlSource runs a dialect-specific view query over database/sql.
type sqlSource struct {
	db          *sql.DB
	logger      *slog.Logger
	query       string
	schemaCol   string
	placeholder func(i int) string
}

func (s *sqlSource) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *sqlSource) ListViews(ctx context.Context, schemas []string) ([]View, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection not established")
	}

	query := s.query
	args := make([]any, 0, len(schemas))
	if len(schemas) > 0 {
		marks := make([]string, len(schemas))
		for i, schema := range schemas {
			marks[i] = s.placeholder(i + 1)
			args = append(args, schema)
		}
		query += fmt.Sprintf(" AND %s IN (%s)", s.schemaCol, strings.Join(marks, ", "))
	}
	query += " ORDER BY 1, 2"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query views: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var views []View
	for rows.Next() {
		var v View
		var def sql.NullString
		if err := rows.Scan(&v.Schema, &v.Name, &def); err != nil {
			return nil, fmt.Errorf("failed to scan view: %w", err)
		}
		if !def.Valid || strings.TrimSpace(def.String) == "" {
			s.logger.Debug("skipping view without definition", slog.String("view", v.QualifiedName()))
			continue
		}
		v.Definition = def.String
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating views: %w", err)
	}

	s.logger.Debug("listed views", slog.Int("count", len(views)))
	return views, nil
}

// SelectBody returns the query of a view definition: everything from the
// first top-level SELECT or WITH, without a trailing semicolon. Definitions
// without one are returned trimmed.
func SelectBody(def string) string {
	depth := 0
	for _, tok := range sqltree.Tokenize(def) {
		switch tok.Type {
		case sqltree.TOKEN_LPAREN:
			depth++
		case sqltree.TOKEN_RPAREN:
			depth--
		case sqltree.TOKEN_SELECT, sqltree.TOKEN_WITH:
			if depth == 0 {
				def = def[tok.Pos.Offset:]
				return strings.TrimRight(strings.TrimSpace(def), "; \t\r\n")
			}
		}
	}
	return strings.TrimRight(strings.TrimSpace(def), "; \t\r\n")
}

// Inputs turns views into extraction inputs labelled by qualified name.
func Inputs(views []View) []lineage.Input {
	inputs := make([]lineage.Input, 0, len(views))
	for _, v := range views {
		inputs = append(inputs, lineage.Input{Source: v.QualifiedName(), SQL: SelectBody(v.Definition)})
	}
	return inputs
}
