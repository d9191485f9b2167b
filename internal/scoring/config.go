package scoring

import (
	"fmt"
	"math"
	"sort"
)

// Version tags every score. Bump it whenever a constant or formula changes.
const Version = "fit-2"

// Tier is a Safety penalty applied when a per-serving amount is strictly above Above
type Tier struct {
	Above  float64
	Points float64
}

// FitWeights weight the four Fit components
type FitWeights struct {
	Diet       float64
	HealthGoal float64
	Preference float64
	BodyGoal   float64
}

// Config holds every static scoring constant
type Config struct {
	Version string

	SafetyWeight float64
	FitWeight    float64

	SafetyBaseline    float64
	SugarTiers        []Tier // grams per serving
	SaturatedFatTiers []Tier // grams per serving
	SodiumTiers       []Tier // milligrams per serving
	AdditiveCap       float64

	Fit FitWeights

	DefaultServingGrams float64

	SeedOilPenalty         float64
	SeedOilMaxMatches      int
	ArtificialColorPenalty float64
	AddedSugarPenalty      float64
	PalmOilPenalty         float64
	PreferredBonusCap      float64

	LowSugarDecay     float64
	LowFatDecay       float64
	KetoDecay         float64
	HighProteinCenter float64
	HighProteinScale  float64
}

// DefaultConfig returns the production constants
func DefaultConfig() Config {
	return Config{
		Version: Version,

		SafetyWeight: 0.65,
		FitWeight:    0.35,

		SafetyBaseline:    100,
		SugarTiers:        []Tier{{Above: 6, Points: 10}, {Above: 12, Points: 25}},
		SaturatedFatTiers: []Tier{{Above: 1.5, Points: 8}, {Above: 5, Points: 20}},
		SodiumTiers:       []Tier{{Above: 300, Points: 8}, {Above: 600, Points: 20}},
		AdditiveCap:       30,

		Fit: FitWeights{Diet: 0.43, HealthGoal: 0.29, Preference: 0.21, BodyGoal: 0.07},

		DefaultServingGrams: 30,

		SeedOilPenalty:         0.12,
		SeedOilMaxMatches:      3,
		ArtificialColorPenalty: 0.20,
		AddedSugarPenalty:      0.10,
		PalmOilPenalty:         0.10,
		PreferredBonusCap:      0.08,

		LowSugarDecay:     8,
		LowFatDecay:       10,
		KetoDecay:         5,
		HighProteinCenter: 10,
		HighProteinScale:  2.5,
	}
}

// Validate checks the constants and sorts the tiers ascending
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}

	positive := map[string]float64{
		"safety weight":         c.SafetyWeight + c.FitWeight,
		"safety baseline":       c.SafetyBaseline,
		"default serving grams": c.DefaultServingGrams,
		"low sugar decay":       c.LowSugarDecay,
		"low fat decay":         c.LowFatDecay,
		"keto decay":            c.KetoDecay,
		"high protein scale":    c.HighProteinScale,
	}
	for name, v := range positive {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	fit := c.Fit.Diet + c.Fit.HealthGoal + c.Fit.Preference + c.Fit.BodyGoal
	if math.Abs(fit-1) > 1e-9 {
		return fmt.Errorf("fit weights must sum to 1, got %v", fit)
	}

	for name, tiers := range map[string][]Tier{"sugar": c.SugarTiers, "saturated fat": c.SaturatedFatTiers, "sodium": c.SodiumTiers} {
		if len(tiers) == 0 {
			return fmt.Errorf("%s tiers are required", name)
		}
		sort.Slice(tiers, func(i, j int) bool { return tiers[i].Above < tiers[j].Above })
		for _, t := range tiers {
			if t.Points < 0 {
				return fmt.Errorf("%s tier points must not be negative", name)
			}
		}
	}

	return nil
}

// tierFor returns the index of the highest tier exceeded, or -1
func tierFor(tiers []Tier, v float64) int {
	level := -1
	for i, t := range tiers {
		if v > t.Above {
			level = i
		}
	}
	return level
}
