// Package nutrition converts a product's reported nutrients to a per-serving
// basis. It is the only place the reporting basis is interpreted.
package nutrition

import (
	"math"

	"github.com/noot-app/foodfit-server/internal/types"
)

// DefaultServingGrams is assumed for per-100g products without a labeled
// serving weight. It is an approximation, not derived from the category.
const DefaultServingGrams = 30.0

// Normalize returns per-serving amounts. Unknown nutrients stay unknown,
// except that salt and sodium are derived from each other.
// defaultServingGrams <= 0 falls back to DefaultServingGrams.
func Normalize(p *types.Product, defaultServingGrams float64) types.ServingValues {
	if p == nil {
		return types.ServingValues{}
	}
	if defaultServingGrams <= 0 || math.IsNaN(defaultServingGrams) || math.IsInf(defaultServingGrams, 0) {
		defaultServingGrams = DefaultServingGrams
	}

	weight, hasWeight := p.ServingWeight()

	var out types.ServingValues
	switch p.NutritionBasis.Normalized() {
	case types.BasisPerServing:
		out.Nutriments = p.Nutriments.Clone()
		if hasWeight {
			out.ServingGrams = weight
		}
	default:
		if !hasWeight {
			weight = defaultServingGrams
			out.AssumedServing = true
		}
		out.Nutriments = p.Nutriments.Scale(weight / 100)
		out.ServingGrams = weight
	}

	out.Nutriments = out.Nutriments.WithSaltSodium()
	out.NetCarbs, out.NetCarbsUpperBound = netCarbs(out.Nutriments)
	return out
}

// netCarbs is max(0, carbohydrates - fiber). With fiber unknown the total is
// returned and flagged as an upper bound.
func netCarbs(n types.Nutriments) (*float64, bool) {
	if n.Carbohydrates == nil {
		return nil, false
	}
	if n.Fiber == nil {
		return types.Float(*n.Carbohydrates), true
	}
	return types.Float(math.Max(0, *n.Carbohydrates-*n.Fiber)), false
}
