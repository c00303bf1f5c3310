package port

import (
	"context"

	"github.com/ankoh/dashql-compute/internal/core/domain"
	"github.com/apache/arrow-go/v18/arrow"
)

// DataFrame is a handle to a columnar dataset resident in the compute engine.
// Transforms never modify the receiver. Every handle must be destroyed exactly
// once; Destroy is not idempotent.
type DataFrame interface {
	// Transform derives a new data frame. Stats tables and filter tables referenced
	// by the transform are passed as args and addressed by their position.
	Transform(ctx context.Context, transform *domain.Transform, args ...DataFrame) (DataFrame, error)
	// ReadTable copies the dataset into a local record.
	ReadTable(ctx context.Context) (arrow.Record, error)
	Destroy()
}

// ComputeEngine creates data frames from local result tables.
type ComputeEngine interface {
	CreateDataFrame(ctx context.Context, table arrow.Record) (DataFrame, error)
}

// ResultSource runs a query and returns its result table.
type ResultSource interface {
	Query(ctx context.Context, sql string) (arrow.Record, error)
}
