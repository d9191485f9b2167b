package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/noot-app/foodfit-server/internal/types"
)

// Nested parquet columns are serialized with to_json so the scan stays
// string-typed regardless of the dump's schema revision.
const barcodeQuery = `
	SELECT
		CAST(code AS VARCHAR),
		to_json(product_name)::VARCHAR,
		CAST(brands AS VARCHAR),
		CAST(categories AS VARCHAR),
		to_json(ingredients_text)::VARCHAR,
		to_json(allergens_tags)::VARCHAR,
		to_json(nutriments)::VARCHAR,
		CAST(nutrition_data_per AS VARCHAR),
		CAST(serving_quantity AS VARCHAR),
		CAST(serving_size AS VARCHAR),
		CAST(link AS VARCHAR)
	FROM read_parquet(?)
	WHERE code = ?
	LIMIT 1`

// Engine queries the parquet snapshot through an in-process DuckDB
type Engine struct {
	mu          sync.RWMutex
	db          *sql.DB
	parquetPath string
	log         *slog.Logger
}

var _ QueryEngine = (*Engine)(nil)

// NewEngine opens an in-memory DuckDB. The parquet file is only read at query time.
func NewEngine(parquetPath string, logger *slog.Logger) (*Engine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}

	return &Engine{
		db:          db,
		parquetPath: parquetPath,
		log:         logger,
	}, nil
}

// Close closes the database connection
func (e *Engine) Close() error {
	return e.db.Close()
}

// SetParquetPath points subsequent queries at a new snapshot
func (e *Engine) SetParquetPath(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.parquetPath = path
}

func (e *Engine) path() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.parquetPath
}

// SearchByBarcode finds the record whose code matches exactly
func (e *Engine) SearchByBarcode(ctx context.Context, barcode string) (*types.OFFProduct, error) {
	start := time.Now()

	var (
		code, name, brands, categories, ingredients sql.NullString
		allergens, nutriments, dataPer, quantity     sql.NullString
		servingSize, link                            sql.NullString
	)

	err := e.db.QueryRowContext(ctx, barcodeQuery, e.path(), barcode).Scan(
		&code, &name, &brands, &categories, &ingredients,
		&allergens, &nutriments, &dataPer, &quantity, &servingSize, &link,
	)
	if errors.Is(err, sql.ErrNoRows) {
		e.log.Debug("No parquet record for barcode", "barcode", barcode, "duration", time.Since(start))
		return nil, nil
	}
	if err != nil {
		e.log.Error("DuckDB barcode query failed", "barcode", barcode, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("barcode query failed: %w", err)
	}

	p := &types.OFFProduct{
		Code:             code.String,
		ProductName:      localizedText(name.String),
		Brands:           brands.String,
		Categories:       categories.String,
		IngredientsText:  localizedText(ingredients.String),
		AllergensTags:    stringList(allergens.String),
		Nutriments:       nutrimentMap(nutriments.String),
		NutritionDataPer: dataPer.String,
		ServingSize:      servingSize.String,
		Link:             link.String,
	}
	if quantity.Valid && quantity.String != "" {
		p.ServingQuantity = quantity.String
	}

	e.log.Debug("Parquet barcode lookup completed", "barcode", barcode, "duration", time.Since(start))
	return p, nil
}

// TestConnection checks that the snapshot is readable
func (e *Engine) TestConnection(ctx context.Context) error {
	start := time.Now()

	var count int64
	if err := e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM read_parquet(?)`, e.path()).Scan(&count); err != nil {
		e.log.Error("Parquet connection test failed", "error", err, "duration", time.Since(start))
		return fmt.Errorf("connection test failed: %w", err)
	}

	e.log.Debug("Parquet connection test successful", "total_records", count, "duration", time.Since(start))
	return nil
}
