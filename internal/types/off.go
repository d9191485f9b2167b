package types

import (
	"math"
	"strconv"
	"strings"
)

// OFFProduct is a product record as served by Open Food Facts, either from the
// public API or from the parquet dump. Nutriments keep the upstream flat layout
// ("sugars_100g", "sodium_serving", ...).
type OFFProduct struct {
	Code                string                 `json:"code"`
	ProductName         string                 `json:"product_name"`
	ProductNameEn       string                 `json:"product_name_en,omitempty"`
	GenericName         string                 `json:"generic_name,omitempty"`
	Brands              string                 `json:"brands"`
	Categories          string                 `json:"categories,omitempty"`
	CategoriesTags      []string               `json:"categories_tags,omitempty"`
	IngredientsText     string                 `json:"ingredients_text,omitempty"`
	AllergensTags       []string               `json:"allergens_tags,omitempty"`
	Nutriments          map[string]interface{} `json:"nutriments"`
	NutritionDataPer    string                 `json:"nutrition_data_per,omitempty"`
	ServingQuantity     interface{}            `json:"serving_quantity,omitempty"`
	ServingQuantityUnit string                 `json:"serving_quantity_unit,omitempty"`
	ServingSize         string                 `json:"serving_size,omitempty"`
	Link                string                 `json:"link,omitempty"`
}

// Name returns the best available product name
func (p *OFFProduct) Name() string {
	for _, n := range []string{p.ProductName, p.ProductNameEn, p.GenericName} {
		if strings.TrimSpace(n) != "" {
			return strings.TrimSpace(n)
		}
	}
	return ""
}

// Nutriment returns the value stored under key (e.g. "sugars_100g")
func (p *OFFProduct) Nutriment(key string) (float64, bool) {
	return extractFloat(p.Nutriments, key)
}

// CategoryList returns the categories as an ordered list of tags
func (p *OFFProduct) CategoryList() []string {
	if len(p.CategoriesTags) > 0 {
		return append([]string(nil), p.CategoriesTags...)
	}
	return SplitTags(p.Categories)
}

// Allergens returns allergen tags without their language prefix ("en:milk" -> "milk")
func (p *OFFProduct) Allergens() []string {
	if len(p.AllergensTags) == 0 {
		return nil
	}
	out := make([]string, 0, len(p.AllergensTags))
	for _, tag := range p.AllergensTags {
		if i := strings.Index(tag, ":"); i >= 0 {
			tag = tag[i+1:]
		}
		if tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// ServingGrams returns serving_quantity in grams. Millilitres count as grams.
func (p *OFFProduct) ServingGrams() (float64, bool) {
	unit := strings.ToLower(strings.TrimSpace(p.ServingQuantityUnit))
	if unit != "" && unit != "g" && unit != "ml" {
		return 0, false
	}
	v, ok := toFloat(p.ServingQuantity)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}

// SplitTags splits a comma separated tag list, dropping blanks
func SplitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// extractFloat coerces a nutriments map value to float64
func extractFloat(m map[string]interface{}, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

func toFloat(v interface{}) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
