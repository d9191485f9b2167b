package openfoodfacts

import (
	"strings"

	"github.com/noot-app/foodfit-server/internal/provider"
	"github.com/noot-app/foodfit-server/internal/types"
)

const kJPerKcal = 4.184

const (
	suffix100g    = "_100g"
	suffixServing = "_serving"
)

// nutrimentKeys are the per-component keys read from the flat nutriments map
var nutrimentKeys = []string{
	"energy-kcal", "energy-kj", "energy", "fat", "saturated-fat",
	"carbohydrates", "sugars", "fiber", "proteins", "salt", "sodium",
}

// mapProduct converts a raw record. The declared reporting basis is kept;
// only units are converted here.
func mapProduct(off *types.OFFProduct, code string) (*types.Product, error) {
	basis, suffix := pickBasis(off)

	get := func(name string) *float64 {
		if v, ok := off.Nutriment(name + suffix); ok {
			return types.Float(v)
		}
		return nil
	}

	n := types.Nutriments{
		EnergyKcal:    get("energy-kcal"),
		Fat:           get("fat"),
		SaturatedFat:  get("saturated-fat"),
		Carbohydrates: get("carbohydrates"),
		Sugars:        get("sugars"),
		Fiber:         get("fiber"),
		Proteins:      get("proteins"),
		Salt:          get("salt"),
	}
	if n.EnergyKcal == nil {
		// plain "energy" is reported in kJ
		for _, key := range []string{"energy-kj", "energy"} {
			if kj := get(key); kj != nil {
				n.EnergyKcal = types.Float(*kj / kJPerKcal)
				break
			}
		}
	}
	if sodium := get("sodium"); sodium != nil {
		n.SodiumMg = types.Float(*sodium * 1000)
	}
	n = n.WithSaltSodium()

	if n.Empty() {
		return nil, provider.Errorf(provider.OpenFoodFacts, provider.Malformed, "product %s has no nutriments", code)
	}
	if n.Invalid() {
		return nil, provider.Errorf(provider.OpenFoodFacts, provider.Malformed, "product %s has invalid nutriment values", code)
	}

	p := &types.Product{
		Barcode:         code,
		Name:            off.Name(),
		Brand:           firstBrand(off.Brands),
		Categories:      off.CategoryList(),
		IngredientsText: strings.TrimSpace(off.IngredientsText),
		Allergens:       off.Allergens(),
		Nutriments:      n,
		NutritionBasis:  basis,
		Source:          provider.OpenFoodFacts,
	}

	if grams, ok := off.ServingGrams(); ok {
		unit := strings.ToLower(strings.TrimSpace(off.ServingQuantityUnit))
		if unit == "" {
			unit = "g"
		}
		p.ServingSize = &types.ServingSize{Amount: grams, Unit: unit, WeightGrams: types.Float(grams)}
	}

	return p, nil
}

// pickBasis honours nutrition_data_per, falling back to whichever basis has
// values when the declared one is empty
func pickBasis(off *types.OFFProduct) (types.NutritionBasis, string) {
	has := func(suffix string) bool {
		for _, k := range nutrimentKeys {
			if _, ok := off.Nutriment(k + suffix); ok {
				return true
			}
		}
		return false
	}

	declared := strings.ToLower(strings.TrimSpace(off.NutritionDataPer))
	if declared == "serving" {
		if has(suffixServing) || !has(suffix100g) {
			return types.BasisPerServing, suffixServing
		}
		return types.BasisPer100g, suffix100g
	}

	if !has(suffix100g) && has(suffixServing) {
		return types.BasisPerServing, suffixServing
	}
	return types.BasisPer100g, suffix100g
}

func firstBrand(brands string) string {
	if tags := types.SplitTags(brands); len(tags) > 0 {
		return tags[0]
	}
	return ""
}
