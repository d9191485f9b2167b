package scoring

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/noot-app/foodfit-server/internal/types"
)

// hashInputs is the canonical document behind InputsHash. Field order is
// fixed by the struct; slices come from a normalized profile and are sorted.
type hashInputs struct {
	Version             string               `json:"version"`
	Rules               string               `json:"rules"`
	DefaultServingGrams float64              `json:"default_serving_grams"`
	Basis               types.NutritionBasis `json:"basis"`
	ServingWeight       *float64             `json:"serving_weight"`
	Nutriments          types.Nutriments     `json:"nutriments"`
	IngredientsText     string               `json:"ingredients_text"`
	BodyGoal            types.BodyGoal       `json:"body_goal"`
	HealthGoals         []types.HealthGoal   `json:"health_goals"`
	DietType            types.DietType       `json:"diet_type"`
	Avoid               []string             `json:"avoid"`
	DietStrictness      float64              `json:"diet_strictness"`
	HealthStrictness    float64              `json:"health_strictness"`
}

// inputsHash digests only the fields that influence a score
func inputsHash(cfg Config, rules *RuleSet, p *types.Product, profile types.UserProfile) (string, error) {
	doc := hashInputs{
		Version:             cfg.Version,
		Rules:               rules.Digest(),
		DefaultServingGrams: cfg.DefaultServingGrams,
		Basis:               p.NutritionBasis.Normalized(),
		Nutriments:          p.Nutriments,
		IngredientsText:     p.IngredientsText,
		BodyGoal:            profile.BodyGoal,
		HealthGoals:         profile.HealthGoals,
		DietType:            profile.DietType,
		Avoid:               profile.Avoid,
	}
	// strictness only counts where the score reads it
	if profile.DietType == types.DietGlutenFree {
		doc.DietStrictness = profile.DietStrictness
	}
	if len(profile.HealthGoals) > 0 {
		doc.HealthStrictness = profile.HealthStrictness
	}
	if w, ok := p.ServingWeight(); ok {
		doc.ServingWeight = types.Float(w)
	}
	if doc.HealthGoals == nil {
		doc.HealthGoals = []types.HealthGoal{}
	}
	if doc.Avoid == nil {
		doc.Avoid = []string{}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode hash inputs: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
