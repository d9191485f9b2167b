package query

import (
	"context"
	"log/slog"
	"sync"

	"github.com/noot-app/foodfit-server/internal/types"
)

// MockEngine is an in-memory QueryEngine for tests and acceptance runs
type MockEngine struct {
	mu       sync.Mutex
	products map[string]types.OFFProduct
	err      error
	calls    int
	log      *slog.Logger
}

var _ QueryEngine = (*MockEngine)(nil)

// NewMockEngine creates a mock seeded with Nutella and one serving-basis record
func NewMockEngine(logger *slog.Logger) *MockEngine {
	m := &MockEngine{log: logger, products: make(map[string]types.OFFProduct)}
	m.SetProducts([]types.OFFProduct{
		{
			Code:            "3017620422003",
			ProductName:     "Nutella",
			Brands:          "Ferrero",
			Categories:      "Spreads, Sweet spreads",
			IngredientsText: "sugar, palm oil, hazelnuts, fat-reduced cocoa, skimmed milk powder, lecithins, vanillin",
			Nutriments: map[string]interface{}{
				"energy-kcal_100g":   539.0,
				"fat_100g":           30.9,
				"saturated-fat_100g": 10.6,
				"carbohydrates_100g": 57.5,
				"sugars_100g":        56.3,
				"proteins_100g":      6.3,
				"salt_100g":          0.107,
			},
			NutritionDataPer: "100g",
			Link:             "https://world.openfoodfacts.org/product/3017620422003/nutella-ferrero",
		},
		{
			Code:            "1234567890128",
			ProductName:     "Test Granola Bar",
			Brands:          "Test Brand",
			IngredientsText: "oats, honey, sunflower oil",
			Nutriments: map[string]interface{}{
				"energy-kcal_serving": 190.0,
				"sugars_serving":      11.0,
				"proteins_serving":    3.0,
				"sodium_serving":      0.15,
			},
			NutritionDataPer:    "serving",
			ServingQuantity:     "42",
			ServingQuantityUnit: "g",
		},
	})
	return m
}

// SearchByBarcode returns a copy of the stored record, or nil
func (m *MockEngine) SearchByBarcode(_ context.Context, barcode string) (*types.OFFProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.products[barcode]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// TestConnection returns the configured error
func (m *MockEngine) TestConnection(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Close is a no-op
func (m *MockEngine) Close() error {
	return nil
}

// SetError makes every call fail with err
func (m *MockEngine) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetProducts replaces the stored records
func (m *MockEngine) SetProducts(products []types.OFFProduct) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products = make(map[string]types.OFFProduct, len(products))
	for _, p := range products {
		m.products[p.Code] = p
	}
}

// Calls returns how many lookups were made
func (m *MockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
