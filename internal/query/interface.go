package query

import (
	"context"
	"log/slog"
	"os"

	"github.com/noot-app/foodfit-server/internal/types"
)

// QueryEngine looks products up in the Open Food Facts dump
type QueryEngine interface {
	// SearchByBarcode returns (nil, nil) when the code is not in the dump
	SearchByBarcode(ctx context.Context, barcode string) (*types.OFFProduct, error)
	TestConnection(ctx context.Context) error
	Close() error
}

// NewQueryEngine opens the DuckDB engine, or the in-memory mock when
// QUERY_ENGINE_MOCK=true (acceptance runs without a parquet snapshot)
func NewQueryEngine(parquetPath string, logger *slog.Logger) (QueryEngine, error) {
	if os.Getenv("QUERY_ENGINE_MOCK") == "true" {
		logger.Warn("QUERY_ENGINE_MOCK is set, using mock parquet engine")
		return NewMockEngine(logger), nil
	}
	return NewEngine(parquetPath, logger)
}
