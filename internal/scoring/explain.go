package scoring

import (
	"fmt"
	"strings"

	"github.com/noot-app/foodfit-server/internal/types"
)

const (
	good = "✅"
	warn = "⚠️"
	bad  = "❌"
)

// explain renders the analysis as short notes, in a fixed order. It reads
// only values the scores were computed from.
func explain(a *analysis) []string {
	var notes []string
	add := func(format string, args ...any) {
		notes = append(notes, fmt.Sprintf(format, args...))
	}

	for _, n := range []struct {
		label string
		level int
		tiers []Tier
		value *float64
		unit  string
	}{
		{"sugar", a.sugarLevel, a.cfg.SugarTiers, a.serving.Sugars, "g"},
		{"saturated fat", a.satFatLevel, a.cfg.SaturatedFatTiers, a.serving.SaturatedFat, "g"},
		{"sodium", a.sodiumLevel, a.cfg.SodiumTiers, a.serving.SodiumMg, "mg"},
	} {
		switch {
		case n.level == levelUnknown:
			add("%s not reported %s", capitalize(n.label), warn)
		case n.level == levelLow:
			add("Low %s %s (%s%s per serving)", n.label, good, num(*n.value), n.unit)
		case n.level == len(n.tiers)-1:
			add("High %s %s (%s%s per serving)", n.label, bad, num(*n.value), n.unit)
		default:
			add("Moderate %s %s (%s%s per serving)", n.label, warn, num(*n.value), n.unit)
		}
	}

	switch {
	case !a.hasIngredients:
		add("Ingredients not listed %s", warn)
	case len(a.additives) > 0:
		add("Contains additives %s (%s)", bad, strings.Join(Names(a.additives), ", "))
	default:
		add("No additives detected %s", good)
	}

	notes = append(notes, a.dietNotes()...)
	notes = append(notes, a.goalNotes()...)
	notes = append(notes, a.preferenceNotes()...)
	notes = append(notes, a.bodyNote())

	if a.serving.AssumedServing {
		add("Assumed a %sg serving, no serving size declared %s", num(a.serving.ServingGrams), warn)
	}

	return notes
}

func (a *analysis) dietNotes() []string {
	diet := strings.ReplaceAll(string(a.profile.DietType), "_", "-")

	switch a.profile.DietType {
	case types.DietVegan, types.DietVegetarian:
		switch {
		case !a.hasIngredients:
			return []string{fmt.Sprintf("Cannot verify %s suitability without ingredients %s", diet, warn)}
		case len(a.exclusions) > 0:
			return []string{fmt.Sprintf("Not %s: contains %s %s", diet, strings.Join(Names(a.exclusions), ", "), bad)}
		default:
			return []string{fmt.Sprintf("Suitable for a %s diet %s", diet, good)}
		}

	case types.DietGlutenFree:
		switch {
		case !a.hasIngredients:
			return []string{fmt.Sprintf("Cannot verify gluten-free suitability without ingredients %s", warn)}
		case len(a.gluten) > 0:
			return []string{fmt.Sprintf("Contains gluten sources %s (%s)", bad, strings.Join(Names(a.gluten), ", "))}
		default:
			return []string{fmt.Sprintf("No gluten sources detected %s", good)}
		}

	case types.DietWholeFoods:
		if len(a.markers) > 0 {
			return []string{fmt.Sprintf("%d ultra-processed markers %s (%s)", len(a.markers), warn, strings.Join(Names(a.markers), ", "))}
		}
		if a.hasIngredients {
			return []string{fmt.Sprintf("No ultra-processed markers %s", good)}
		}
		return nil

	case types.DietCarnivore:
		return []string{fmt.Sprintf("Carnivore fit %s %s", percent(a.diet), mark(a.diet))}
	}

	return nil
}

func (a *analysis) goalNotes() []string {
	var notes []string
	for _, g := range a.profile.HealthGoals {
		goal := strings.ReplaceAll(string(g), "_", "-")
		if containsGoal(a.unknownGoals, g) {
			notes = append(notes, fmt.Sprintf("Not enough data for the %s goal %s", goal, warn))
			continue
		}
		s := a.goalScores[g]
		switch {
		case s >= 0.7:
			notes = append(notes, fmt.Sprintf("Fits the %s goal %s", goal, good))
		case s >= 0.4:
			notes = append(notes, fmt.Sprintf("Partly fits the %s goal %s", goal, warn))
		default:
			notes = append(notes, fmt.Sprintf("Poor fit for the %s goal %s", goal, bad))
		}
	}
	return notes
}

func (a *analysis) preferenceNotes() []string {
	var notes []string
	if a.profile.Avoids(types.AvoidSeedOils) && len(a.seedOils) > 0 {
		notes = append(notes, fmt.Sprintf("Contains seed oils %s", bad))
	}
	if a.profile.Avoids(types.AvoidArtificialColors) && len(a.colors) > 0 {
		notes = append(notes, fmt.Sprintf("Contains artificial colors %s", bad))
	}
	if a.profile.Avoids(types.AvoidAddedSugars) && len(a.addedSugar) > 0 {
		notes = append(notes, fmt.Sprintf("Contains added sugars %s", bad))
	}
	if a.profile.Avoids(types.AvoidPalmOil) && len(a.palmOil) > 0 {
		notes = append(notes, fmt.Sprintf("Contains palm oil %s", bad))
	}
	if len(a.sweeteners) > 0 {
		notes = append(notes, fmt.Sprintf("Contains sweeteners %s (%s)", warn, strings.Join(Names(a.sweeteners), ", ")))
	}
	if len(a.preferred) > 0 {
		notes = append(notes, fmt.Sprintf("Preferred ingredients %s (%s)", good, strings.Join(Names(a.preferred), ", ")))
	}
	return notes
}

func (a *analysis) bodyNote() string {
	var goal string
	switch a.profile.BodyGoal {
	case types.BodyGoalLose:
		goal = "weight loss"
	case types.BodyGoalGain:
		goal = "weight gain"
	default:
		goal = "weight maintenance"
	}
	return fmt.Sprintf("Fit for %s %s %s", goal, percent(a.body), mark(a.body))
}

func mark(score float64) string {
	switch {
	case score >= 0.7:
		return good
	case score >= 0.4:
		return warn
	default:
		return bad
	}
}

func containsGoal(goals []types.HealthGoal, g types.HealthGoal) bool {
	for _, x := range goals {
		if x == g {
			return true
		}
	}
	return false
}

func num(v float64) string {
	return fmt.Sprintf("%g", round(v, 1))
}

func percent(v float64) string {
	return fmt.Sprintf("%d%%", int(round(v*100, 0)))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
