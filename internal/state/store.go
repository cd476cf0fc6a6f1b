// Package state records extraction history in a SQLite database.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/leapstack-labs/sqlineage/pkg/lineage"
)

// ErrNotFound is returned when an extraction id is unknown.
var ErrNotFound = errors.New("extraction not found")

// Extraction is one recorded lineage extraction.
type Extraction struct {
	ID          string
	Source      string
	SQL         string
	Hash        string // hex SHA-256 of SQL
	Lineage     string // encoded lineage JSON, exactly as returned to the caller
	ColumnCount int
	CreatedAt   time.Time
	Columns     []ExtractionColumn // only populated by GetExtraction
}

// ExtractionColumn is the flattened form of one descriptor.
type ExtractionColumn struct {
	Position          int
	Name              *string
	Alias             *string
	Table             *string // literal name or encoded subquery lineage
	IsSubquery        bool
	IsJoinCondition   bool
	IsFilterCondition bool
	IsAggregation     bool
}

// Store defines the interface for extraction history.
type Store interface {
	// Migrate brings the schema up to date.
	Migrate(ctx context.Context) error
	// Close releases the database.
	Close() error

	// SaveExtraction records result as the lineage of sql.
	SaveExtraction(ctx context.Context, source, sql string, result lineage.Result) (*Extraction, error)
	// GetExtraction returns an extraction with its columns.
	GetExtraction(ctx context.Context, id string) (*Extraction, error)
	// ListExtractions returns the newest extractions first.
	ListExtractions(ctx context.Context, limit int) ([]*Extraction, error)
	// FindByHash returns the newest extraction of identical SQL text.
	FindByHash(ctx context.Context, hash string) (*Extraction, error)
}
