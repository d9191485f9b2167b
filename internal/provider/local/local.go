// Package local serves the curated product dataset that ships with the server.
//
// Records are stored under the barcode exactly as curated, which is not
// always the canonical 13-digit form. Fetch is an exact-key lookup;
// LookupFuzzy tries the other key shapes a curator may have used.
package local

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/noot-app/foodfit-server/internal/barcode"
	"github.com/noot-app/foodfit-server/internal/provider"
	"github.com/noot-app/foodfit-server/internal/types"
)

//go:embed data/curated.json
var curatedJSON []byte

// Adapter is the curated dataset provider
type Adapter struct {
	byKey      map[string]*types.Product
	byStripped map[string]string
	log        *slog.Logger
}

// New loads the dataset at path, or the embedded seed when path is empty
func New(path string, logger *slog.Logger) (*Adapter, error) {
	data := curatedJSON
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read curated dataset: %w", err)
		}
	}

	a, err := Parse(data, logger)
	if err != nil {
		return nil, err
	}

	source := path
	if source == "" {
		source = "embedded"
	}
	logger.Info("Curated dataset loaded", "source", source, "products", a.Len())
	return a, nil
}

// Parse builds an adapter from a JSON array of products
func Parse(data []byte, logger *slog.Logger) (*Adapter, error) {
	var records []*types.Product
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode curated dataset: %w", err)
	}

	a := &Adapter{
		byKey:      make(map[string]*types.Product, len(records)),
		byStripped: make(map[string]string, len(records)),
		log:        logger,
	}

	for i, p := range records {
		if p == nil {
			return nil, fmt.Errorf("curated record %d is null", i)
		}
		key := strings.TrimSpace(p.Barcode)
		if key == "" || strings.Trim(key, "0123456789") != "" {
			return nil, fmt.Errorf("curated record %d has invalid barcode %q", i, p.Barcode)
		}
		if _, dup := a.byKey[key]; dup {
			return nil, fmt.Errorf("curated record %d duplicates barcode %s", i, key)
		}
		if p.Nutriments.Invalid() {
			return nil, fmt.Errorf("curated record %s has invalid nutriments", key)
		}

		p.Barcode = key
		p.NutritionBasis = p.NutritionBasis.Normalized()
		p.Nutriments = p.Nutriments.WithSaltSodium()
		p.Source = provider.Local

		a.byKey[key] = p
		if stripped := strings.TrimLeft(key, "0"); stripped != "" {
			if _, taken := a.byStripped[stripped]; !taken {
				a.byStripped[stripped] = key
			}
		}
	}

	return a, nil
}

// Name implements provider.Adapter
func (a *Adapter) Name() string {
	return provider.Local
}

// Fetch looks the barcode up under its exact key
func (a *Adapter) Fetch(_ context.Context, code string) (*types.Product, error) {
	p, ok := a.byKey[code]
	if !ok {
		return nil, provider.NotFoundError(provider.Local)
	}
	return p.Clone(), nil
}

// LookupFuzzy tries every key shape of canonical, then falls back to
// comparing codes with leading zeros ignored.
func (a *Adapter) LookupFuzzy(_ context.Context, canonical string) (*types.Product, bool) {
	for _, key := range barcode.FuzzyKeys(canonical) {
		if p, ok := a.byKey[key]; ok {
			a.log.Debug("Curated fuzzy match", "barcode", canonical, "key", key)
			return p.Clone(), true
		}
	}

	if key, ok := a.byStripped[strings.TrimLeft(canonical, "0")]; ok {
		a.log.Debug("Curated fuzzy match", "barcode", canonical, "key", key)
		return a.byKey[key].Clone(), true
	}

	return nil, false
}

// Len returns the number of curated products
func (a *Adapter) Len() int {
	return len(a.byKey)
}
