package catalog

import (
	"database/sql"
	"log/slog"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
)

const postgresViewsQuery = `SELECT table_schema, table_name, view_definition
FROM information_schema.views
WHERE table_schema NOT IN ('pg_catalog', 'information_schema')`

// NewPostgres returns a Source reading information_schema.views over db.
func NewPostgres(db *sql.DB, logger *slog.Logger) Source {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &sqlSource{
		db:          db,
		logger:      logger.With(slog.String("catalog", "postgres")),
		query:       postgresViewsQuery,
		schemaCol:   "table_schema",
		placeholder: func(i int) string { return "$" + strconv.Itoa(i) },
	}
}
