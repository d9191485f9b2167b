package types

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// BodyGoal is the user's weight goal
type BodyGoal string

const (
	BodyGoalLose     BodyGoal = "lose"
	BodyGoalGain     BodyGoal = "gain"
	BodyGoalMaintain BodyGoal = "maintain"
)

// HealthGoal is one of the nutrition targets a user can select
type HealthGoal string

const (
	GoalLowSugar    HealthGoal = "low_sugar"
	GoalHighProtein HealthGoal = "high_protein"
	GoalLowFat      HealthGoal = "low_fat"
	GoalKeto        HealthGoal = "keto"
	GoalBalanced    HealthGoal = "balanced"
)

// DietType is the user's diet
type DietType string

const (
	DietVegan      DietType = "vegan"
	DietVegetarian DietType = "vegetarian"
	DietCarnivore  DietType = "carnivore"
	DietGlutenFree DietType = "gluten_free"
	DietWholeFoods DietType = "whole_foods"
	DietBalanced   DietType = "balanced"
)

// Ingredient categories a user can ask to avoid
const (
	AvoidSeedOils         = "seed_oils"
	AvoidArtificialColors = "artificial_colors"
	AvoidAddedSugars      = "added_sugars"
	AvoidPalmOil          = "palm_oil"
)

var knownAvoid = map[string]bool{
	AvoidSeedOils: true, AvoidArtificialColors: true, AvoidAddedSugars: true, AvoidPalmOil: true,
}

// DefaultStrictness is applied when a JSON profile omits a strictness value
const DefaultStrictness = 1.0

// UserProfile is the dietary profile supplied by the surrounding application
type UserProfile struct {
	BodyGoal         BodyGoal     `json:"body_goal"`
	HealthGoals      []HealthGoal `json:"health_goals"`
	DietType         DietType     `json:"diet_type"`
	Avoid            []string     `json:"avoid,omitempty"`
	DietStrictness   float64      `json:"diet_strictness"`
	HealthStrictness float64      `json:"health_strictness"`
}

// Normalize returns a copy with defaults applied, enums lower-cased, goals
// deduplicated and sorted. It fails on values the scorer cannot interpret.
func (u UserProfile) Normalize() (UserProfile, error) {
	out := UserProfile{
		BodyGoal:         BodyGoal(strings.ToLower(strings.TrimSpace(string(u.BodyGoal)))),
		DietType:         DietType(strings.ToLower(strings.TrimSpace(string(u.DietType)))),
		DietStrictness:   u.DietStrictness,
		HealthStrictness: u.HealthStrictness,
	}

	switch out.BodyGoal {
	case "":
		out.BodyGoal = BodyGoalMaintain
	case BodyGoalLose, BodyGoalGain, BodyGoalMaintain:
	default:
		return UserProfile{}, fmt.Errorf("unknown body goal %q", u.BodyGoal)
	}

	switch out.DietType {
	case "":
		out.DietType = DietBalanced
	case DietVegan, DietVegetarian, DietCarnivore, DietGlutenFree, DietWholeFoods, DietBalanced:
	default:
		return UserProfile{}, fmt.Errorf("unknown diet type %q", u.DietType)
	}

	seen := make(map[HealthGoal]bool)
	for _, g := range u.HealthGoals {
		goal := HealthGoal(strings.ToLower(strings.TrimSpace(string(g))))
		switch goal {
		case GoalLowSugar, GoalHighProtein, GoalLowFat, GoalKeto, GoalBalanced:
		default:
			return UserProfile{}, fmt.Errorf("unknown health goal %q", g)
		}
		if !seen[goal] {
			seen[goal] = true
			out.HealthGoals = append(out.HealthGoals, goal)
		}
	}
	sort.Slice(out.HealthGoals, func(i, j int) bool { return out.HealthGoals[i] < out.HealthGoals[j] })

	avoid := make(map[string]bool)
	for _, a := range u.Avoid {
		a = strings.ToLower(strings.TrimSpace(a))
		if knownAvoid[a] && !avoid[a] {
			avoid[a] = true
			out.Avoid = append(out.Avoid, a)
		}
	}
	sort.Strings(out.Avoid)

	for name, v := range map[string]float64{"diet_strictness": u.DietStrictness, "health_strictness": u.HealthStrictness} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return UserProfile{}, fmt.Errorf("%s must be a non-negative number, got %v", name, v)
		}
	}

	return out, nil
}

// UnmarshalJSON defaults omitted strictness values to DefaultStrictness
func (u *UserProfile) UnmarshalJSON(data []byte) error {
	type plain UserProfile
	p := plain{DietStrictness: DefaultStrictness, HealthStrictness: DefaultStrictness}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*u = UserProfile(p)
	return nil
}

// Avoids reports whether the (normalized) profile avoids an ingredient category
func (u UserProfile) Avoids(category string) bool {
	for _, a := range u.Avoid {
		if a == category {
			return true
		}
	}
	return false
}
