// Package openfoodfacts adapts the crowd-sourced Open Food Facts catalog,
// served either by its public API or by a local parquet snapshot.
package openfoodfacts

import (
	"context"
	"log/slog"

	"github.com/noot-app/foodfit-server/internal/provider"
	"github.com/noot-app/foodfit-server/internal/types"
)

// Adapter maps Open Food Facts records onto canonical products
type Adapter struct {
	catalog Catalog
	log     *slog.Logger
}

// New creates the crowd-sourced provider on top of a catalog backend
func New(catalog Catalog, logger *slog.Logger) *Adapter {
	return &Adapter{catalog: catalog, log: logger}
}

// Name implements provider.Adapter
func (a *Adapter) Name() string {
	return provider.OpenFoodFacts
}

// Fetch looks the code up and maps the record
func (a *Adapter) Fetch(ctx context.Context, code string) (*types.Product, error) {
	off, err := a.catalog.LookupBarcode(ctx, code)
	if err != nil {
		return nil, provider.Wrap(provider.OpenFoodFacts, err)
	}
	if off == nil {
		return nil, provider.NotFoundError(provider.OpenFoodFacts)
	}
	return mapProduct(off, code)
}

// HealthCheck probes the catalog backend when it supports it
func (a *Adapter) HealthCheck(ctx context.Context) error {
	if hc, ok := a.catalog.(provider.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}
