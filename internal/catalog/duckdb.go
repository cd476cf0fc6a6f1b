package catalog

import (
	"database/sql"
	"log/slog"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

const duckdbViewsQuery = `SELECT schema_name, view_name, sql
FROM duckdb_views()
WHERE NOT internal`

// NewDuckDB returns a Source reading duckdb_views() over db.
func NewDuckDB(db *sql.DB, logger *slog.Logger) Source {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &sqlSource{
		db:          db,
		logger:      logger.With(slog.String("catalog", "duckdb")),
		query:       duckdbViewsQuery,
		schemaCol:   "schema_name",
		placeholder: func(int) string { return "?" },
	}
}
