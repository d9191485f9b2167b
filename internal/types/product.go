package types

import "math"

// NutritionBasis says how the values in Nutriments were reported upstream
type NutritionBasis string

const (
	BasisPerServing NutritionBasis = "per_serving"
	BasisPer100g    NutritionBasis = "per_100g"
)

// Normalized returns the basis, reading an empty value as per 100g
func (b NutritionBasis) Normalized() NutritionBasis {
	if b == BasisPerServing {
		return BasisPerServing
	}
	return BasisPer100g
}

// sodium (g) * 2.5 = salt (g)
const saltPerSodium = 2.5

// Nutriments holds the nutrient amounts of a product in canonical units.
// A nil field means "unknown" and must never be read as zero.
type Nutriments struct {
	EnergyKcal    *float64 `json:"energy_kcal,omitempty"`
	Fat           *float64 `json:"fat,omitempty"`
	SaturatedFat  *float64 `json:"saturated_fat,omitempty"`
	Carbohydrates *float64 `json:"carbohydrates,omitempty"`
	Sugars        *float64 `json:"sugars,omitempty"`
	Fiber         *float64 `json:"fiber,omitempty"`
	Proteins      *float64 `json:"proteins,omitempty"`
	Salt          *float64 `json:"salt,omitempty"`      // grams
	SodiumMg      *float64 `json:"sodium_mg,omitempty"` // milligrams
}

// Float returns a pointer to v, for building Nutriments literals
func Float(v float64) *float64 {
	return &v
}

// fields lists every nutrient slot, in a fixed order
func (n *Nutriments) fields() []**float64 {
	return []**float64{
		&n.EnergyKcal, &n.Fat, &n.SaturatedFat, &n.Carbohydrates,
		&n.Sugars, &n.Fiber, &n.Proteins, &n.Salt, &n.SodiumMg,
	}
}

// Clone deep-copies every known value
func (n Nutriments) Clone() Nutriments {
	out := n
	for _, f := range out.fields() {
		if *f != nil {
			v := **f
			*f = &v
		}
	}
	return out
}

// Scale returns a copy with every known value multiplied by factor
func (n Nutriments) Scale(factor float64) Nutriments {
	out := n.Clone()
	for _, f := range out.fields() {
		if *f != nil {
			**f *= factor
		}
	}
	return out
}

// WithSaltSodium fills in salt from sodium or sodium from salt when only one is known
func (n Nutriments) WithSaltSodium() Nutriments {
	out := n.Clone()
	switch {
	case out.Salt == nil && out.SodiumMg != nil:
		out.Salt = Float(*out.SodiumMg / 1000 * saltPerSodium)
	case out.SodiumMg == nil && out.Salt != nil:
		out.SodiumMg = Float(*out.Salt / saltPerSodium * 1000)
	}
	return out
}

// Empty reports whether no nutrient is known at all
func (n Nutriments) Empty() bool {
	for _, f := range n.fields() {
		if *f != nil {
			return false
		}
	}
	return true
}

// Invalid reports whether any known value is NaN, infinite or negative
func (n Nutriments) Invalid() bool {
	for _, f := range n.fields() {
		if *f == nil {
			continue
		}
		v := **f
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return true
		}
	}
	return false
}

// ServingSize is the labeled serving of a product
type ServingSize struct {
	Amount      float64  `json:"amount,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	WeightGrams *float64 `json:"weight_grams,omitempty"`
}

// Product is the canonical record produced by every provider adapter
type Product struct {
	Barcode         string         `json:"barcode"`
	Name            string         `json:"name,omitempty"`
	Brand           string         `json:"brand,omitempty"`
	Categories      []string       `json:"categories,omitempty"`
	IngredientsText string         `json:"ingredients_text,omitempty"`
	Allergens       []string       `json:"allergens,omitempty"`
	ServingSize     *ServingSize   `json:"serving_size,omitempty"`
	Nutriments      Nutriments     `json:"nutriments"`
	NutritionBasis  NutritionBasis `json:"nutrition_basis"`
	Source          string         `json:"source,omitempty"`
}

// ServingWeight returns the labeled serving weight in grams, if known and positive
func (p *Product) ServingWeight() (float64, bool) {
	if p.ServingSize == nil || p.ServingSize.WeightGrams == nil {
		return 0, false
	}
	w := *p.ServingSize.WeightGrams
	if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
		return 0, false
	}
	return w, true
}

// Clone returns a deep copy that shares no memory with p
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	out := *p
	if p.Categories != nil {
		out.Categories = append([]string(nil), p.Categories...)
	}
	if p.Allergens != nil {
		out.Allergens = append([]string(nil), p.Allergens...)
	}
	if p.ServingSize != nil {
		s := *p.ServingSize
		if s.WeightGrams != nil {
			s.WeightGrams = Float(*s.WeightGrams)
		}
		out.ServingSize = &s
	}
	out.Nutriments = p.Nutriments.Clone()
	return &out
}
