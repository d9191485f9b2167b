// Package scoring computes a personalized 0-100 score for a product.
//
// The final score blends a profile-independent Safety score with a
// profile-dependent Fit score. Scoring is pure: no I/O, no shared state,
// identical inputs always give an identical result and hash.
package scoring

import (
	"errors"
	"fmt"
	"math"

	"github.com/noot-app/foodfit-server/internal/nutrition"
	"github.com/noot-app/foodfit-server/internal/types"
)

// ErrMalformedInput is returned for products or profiles that cannot be scored
var ErrMalformedInput = errors.New("malformed scoring input")

// Engine scores products against profiles. It is safe for concurrent use.
type Engine struct {
	cfg   Config
	rules *RuleSet
}

// NewEngine validates cfg and binds it to a rule set
func NewEngine(cfg Config, rules *RuleSet) (*Engine, error) {
	if rules == nil {
		return nil, errors.New("scoring requires a rule set")
	}

	cfg.SugarTiers = append([]Tier(nil), cfg.SugarTiers...)
	cfg.SaturatedFatTiers = append([]Tier(nil), cfg.SaturatedFatTiers...)
	cfg.SodiumTiers = append([]Tier(nil), cfg.SodiumTiers...)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring config: %w", err)
	}

	return &Engine{cfg: cfg, rules: rules}, nil
}

// Version returns the score version tag
func (e *Engine) Version() string {
	return e.cfg.Version
}

// DefaultServingGrams returns the serving assumed for per-100g products without one
func (e *Engine) DefaultServingGrams() float64 {
	return e.cfg.DefaultServingGrams
}

// Score computes the score. Unknown nutrients are never read as zero.
func (e *Engine) Score(p *types.Product, profile types.UserProfile) (*types.ScoreResult, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: product is required", ErrMalformedInput)
	}
	if p.Nutriments.Invalid() {
		return nil, fmt.Errorf("%w: product %s has negative or non-finite nutrient values", ErrMalformedInput, p.Barcode)
	}
	if p.ServingSize != nil && p.ServingSize.WeightGrams != nil {
		if w := *p.ServingSize.WeightGrams; math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return nil, fmt.Errorf("%w: product %s has an invalid serving weight", ErrMalformedInput, p.Barcode)
		}
	}

	prof, err := profile.Normalize()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}

	serving := nutrition.Normalize(p, e.cfg.DefaultServingGrams)
	a := analyze(e.cfg, e.rules, p, prof, serving)

	hash, err := inputsHash(e.cfg, e.rules, p, prof)
	if err != nil {
		return nil, err
	}

	fit := a.fit()
	final := clamp(e.cfg.SafetyWeight*a.safety+e.cfg.FitWeight*fit, 0, 100)

	goals := make(map[types.HealthGoal]float64, len(a.goalScores))
	for g, s := range a.goalScores {
		goals[g] = round(s, 4)
	}

	return &types.ScoreResult{
		FinalScore:  int(math.Round(final)),
		SafetyScore: round(a.safety, 2),
		FitScore:    round(fit, 2),
		Components: types.FitComponents{
			DietSuitability:      round(a.diet, 4),
			HealthGoalAlignment:  round(a.health, 4),
			IngredientPreference: round(a.preference, 4),
			BodyGoalAlignment:    round(a.body, 4),
		},
		GoalScores:   goals,
		Deductions:   a.deductions,
		Notes:        explain(a),
		Serving:      serving,
		ScoreVersion: e.cfg.Version,
		InputsHash:   hash,
	}, nil
}
