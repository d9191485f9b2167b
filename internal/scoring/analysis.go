package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/noot-app/foodfit-server/internal/types"
)

// unknownScore stands in for a sub-score whose inputs are not reported
const unknownScore = 0.5

// level of a nutrient against its Safety tiers
const (
	levelUnknown = -2
	levelLow     = -1
)

// target calorie split for the balanced goal and maintain-weight body goal
var macroTarget = [3]float64{0.30, 0.40, 0.30} // protein, carbohydrates, fat

// analysis holds everything derived from one (product, profile) pair.
// Scores and notes are both computed from it and from nothing else.
type analysis struct {
	cfg     Config
	profile types.UserProfile
	serving types.ServingValues

	hasIngredients bool
	additives      []Match
	seedOils       []Match
	colors         []Match
	sweeteners     []Match
	preferred      []Match
	gluten         []Match
	exclusions     []Match
	plants         []Match
	markers        []Match
	addedSugar     []Match
	palmOil        []Match

	sugarLevel     int
	satFatLevel    int
	sodiumLevel    int
	additivePoints float64
	deductions     []types.Deduction
	safety         float64

	energy       *float64
	diet         float64
	health       float64
	goalScores   map[types.HealthGoal]float64
	unknownGoals []types.HealthGoal
	preference   float64
	body         float64
}

func analyze(cfg Config, rules *RuleSet, p *types.Product, profile types.UserProfile, serving types.ServingValues) *analysis {
	text := strings.ToLower(strings.TrimSpace(p.IngredientsText))

	a := &analysis{
		cfg:            cfg,
		profile:        profile,
		serving:        serving,
		hasIngredients: text != "",
		additives:      rules.Match(TargetAdditive, text),
		seedOils:       rules.Match(TargetSeedOil, text),
		colors:         rules.Match(TargetArtificialColor, text),
		sweeteners:     rules.Match(TargetSweetener, text),
		preferred:      rules.Match(TargetPreferred, text),
		gluten:         rules.Match(TargetGluten, rules.Strip(TargetGlutenExemption, text)),
		plants:         rules.Match(TargetPlant, text),
		markers:        rules.Match(TargetUltraProcessed, text),
		addedSugar:     rules.Match(TargetAddedSugar, text),
		palmOil:        rules.Match(TargetPalmOil, text),
		goalScores:     make(map[types.HealthGoal]float64, len(profile.HealthGoals)),
	}

	switch profile.DietType {
	case types.DietVegan:
		a.exclusions = rules.Match(TargetVeganExclusion, rules.Strip(TargetVeganExemption, text))
	case types.DietVegetarian:
		a.exclusions = rules.Match(TargetVegetarianExclusion, rules.Strip(TargetVeganExemption, text))
	}

	a.energy = energyOf(serving.Nutriments)

	a.scoreSafety()
	a.scoreDiet()
	a.scoreGoals()
	a.scorePreference()
	a.scoreBody()
	return a
}

// energyOf returns labeled kcal, or 4p+4c+9f when all three macros are known
func energyOf(n types.Nutriments) *float64 {
	if n.EnergyKcal != nil {
		return types.Float(*n.EnergyKcal)
	}
	if n.Proteins != nil && n.Carbohydrates != nil && n.Fat != nil {
		return types.Float(4 * *n.Proteins + 4 * *n.Carbohydrates + 9 * *n.Fat)
	}
	return nil
}

func (a *analysis) scoreSafety() {
	score := a.cfg.SafetyBaseline

	tier := func(rule string, tiers []Tier, v *float64, unit string) int {
		if v == nil {
			return levelUnknown
		}
		level := tierFor(tiers, *v)
		if level < 0 {
			return levelLow
		}
		t := tiers[level]
		score -= t.Points
		a.deductions = append(a.deductions, types.Deduction{Rule: fmt.Sprintf("%s_above_%g%s", rule, t.Above, unit), Points: t.Points})
		return level
	}

	a.sugarLevel = tier("sugar", a.cfg.SugarTiers, a.serving.Sugars, "g")
	a.satFatLevel = tier("saturated_fat", a.cfg.SaturatedFatTiers, a.serving.SaturatedFat, "g")
	a.sodiumLevel = tier("sodium", a.cfg.SodiumTiers, a.serving.SodiumMg, "mg")

	for _, m := range a.additives {
		a.additivePoints += m.Weight * float64(m.Count)
	}
	a.additivePoints = math.Min(a.additivePoints, a.cfg.AdditiveCap)
	if a.additivePoints > 0 {
		score -= a.additivePoints
		a.deductions = append(a.deductions, types.Deduction{Rule: "additives", Points: a.additivePoints})
	}

	a.safety = clamp(score, 0, 100)
}

func (a *analysis) scoreDiet() {
	n := a.serving.Nutriments

	switch a.profile.DietType {
	case types.DietVegan, types.DietVegetarian:
		switch {
		case !a.hasIngredients:
			a.diet = unknownScore
		case len(a.exclusions) > 0:
			a.diet = 0
		default:
			a.diet = 1
		}

	case types.DietCarnivore:
		protein := ratio(n.Proteins, 20)
		sugar := ratio(n.Sugars, 10)
		plants := math.Min(0.1*float64(Occurrences(a.plants)), 0.4)
		a.diet = clamp01(0.5 + 0.5*protein - 0.3*sugar - plants)

	case types.DietGlutenFree:
		switch {
		case !a.hasIngredients:
			a.diet = unknownScore
		case len(a.gluten) > 0:
			a.diet = clamp01(1 - a.profile.DietStrictness)
		default:
			a.diet = 1
		}

	case types.DietWholeFoods:
		if !a.hasIngredients {
			a.diet = unknownScore
			return
		}
		a.diet = math.Max(0.2, 1-0.15*float64(len(a.markers)))

	default:
		s := 0.85
		if n.Fiber != nil && *n.Fiber >= 3 {
			s += 0.05
		}
		if n.Sugars != nil && *n.Sugars > 12 {
			s -= 0.05
		}
		if Occurrences(a.additives) >= 3 {
			s -= 0.05
		}
		a.diet = clamp01(s)
	}
}

func (a *analysis) scoreGoals() {
	if len(a.profile.HealthGoals) == 0 {
		a.health = 1
		return
	}

	sum := 0.0
	for _, g := range a.profile.HealthGoals {
		s, known := a.goalScore(g)
		if !known {
			a.unknownGoals = append(a.unknownGoals, g)
		}
		a.goalScores[g] = s
		sum += s
	}
	mean := sum / float64(len(a.profile.HealthGoals))
	a.health = clamp01(math.Pow(mean, a.profile.HealthStrictness))
}

func (a *analysis) goalScore(g types.HealthGoal) (float64, bool) {
	n := a.serving.Nutriments

	switch g {
	case types.GoalLowSugar:
		if n.Sugars == nil {
			return unknownScore, false
		}
		return math.Exp(-*n.Sugars / a.cfg.LowSugarDecay), true

	case types.GoalLowFat:
		if n.Fat == nil {
			return unknownScore, false
		}
		return math.Exp(-*n.Fat / a.cfg.LowFatDecay), true

	case types.GoalHighProtein:
		if n.Proteins == nil {
			return unknownScore, false
		}
		return 1 / (1 + math.Exp(-(*n.Proteins-a.cfg.HighProteinCenter)/a.cfg.HighProteinScale)), true

	case types.GoalKeto:
		// total carbohydrates alone overstate net carbs
		if a.serving.NetCarbs == nil || a.serving.NetCarbsUpperBound {
			return unknownScore, false
		}
		return math.Exp(-*a.serving.NetCarbs / a.cfg.KetoDecay), true

	case types.GoalBalanced:
		split, ok := calorieSplit(n)
		if !ok {
			return unknownScore, false
		}
		return cosine(split, macroTarget), true
	}

	return unknownScore, false
}

func (a *analysis) scorePreference() {
	p := 1.0

	if a.profile.Avoids(types.AvoidSeedOils) {
		hits := Occurrences(a.seedOils)
		if hits > a.cfg.SeedOilMaxMatches {
			hits = a.cfg.SeedOilMaxMatches
		}
		p -= a.cfg.SeedOilPenalty * float64(hits)
	}
	if a.profile.Avoids(types.AvoidArtificialColors) && len(a.colors) > 0 {
		p -= a.cfg.ArtificialColorPenalty
	}
	if a.profile.Avoids(types.AvoidAddedSugars) && len(a.addedSugar) > 0 {
		p -= a.cfg.AddedSugarPenalty
	}
	if a.profile.Avoids(types.AvoidPalmOil) && len(a.palmOil) > 0 {
		p -= a.cfg.PalmOilPenalty
	}
	for _, m := range a.sweeteners {
		p -= m.Weight
	}
	p += a.preferredBonus()

	a.preference = clamp01(p)
}

func (a *analysis) preferredBonus() float64 {
	bonus := 0.0
	for _, m := range a.preferred {
		bonus += m.Weight
	}
	return math.Min(bonus, a.cfg.PreferredBonusCap)
}

func (a *analysis) scoreBody() {
	n := a.serving.Nutriments

	switch a.profile.BodyGoal {
	case types.BodyGoalLose:
		cal := unknownScore
		if a.energy != nil {
			cal = clamp01(1 - (*a.energy-100)/400)
		}
		a.body = 0.5*cal + 0.3*ratio(n.Proteins, 10) + 0.2*ratio(n.Fiber, 5)

	case types.BodyGoalGain:
		a.body = 0.6*ratio(a.energy, 400) + 0.4*ratio(n.Proteins, 15)

	default:
		split, ok := calorieSplit(n)
		if !ok {
			a.body = unknownScore
			return
		}
		dev := 0.0
		for i := range split {
			dev += math.Abs(split[i] - macroTarget[i])
		}
		a.body = clamp01(1 - dev/2)
	}
}

// fit returns Fit on a 0-100 scale
func (a *analysis) fit() float64 {
	w := a.cfg.Fit
	return 100 * clamp01(w.Diet*a.diet+w.HealthGoal*a.health+w.Preference*a.preference+w.BodyGoal*a.body)
}

// ratio is min(v/full, 1), or unknownScore when v is unknown
func ratio(v *float64, full float64) float64 {
	if v == nil {
		return unknownScore
	}
	return clamp01(*v / full)
}

// calorieSplit returns the protein/carbohydrate/fat shares of macro calories
func calorieSplit(n types.Nutriments) ([3]float64, bool) {
	if n.Proteins == nil || n.Carbohydrates == nil || n.Fat == nil {
		return [3]float64{}, false
	}
	kcal := [3]float64{4 * *n.Proteins, 4 * *n.Carbohydrates, 9 * *n.Fat}
	total := kcal[0] + kcal[1] + kcal[2]
	if total <= 0 {
		return [3]float64{}, false
	}
	return [3]float64{kcal[0] / total, kcal[1] / total, kcal[2] / total}, true
}

func cosine(a, b [3]float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return clamp01(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

// round to the given number of decimals, for presentation only
func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
