package types

// FitComponents are the four Fit sub-scores, each in [0,1]
type FitComponents struct {
	DietSuitability      float64 `json:"diet_suitability"`
	HealthGoalAlignment  float64 `json:"health_goal_alignment"`
	IngredientPreference float64 `json:"ingredient_preference"`
	BodyGoalAlignment    float64 `json:"body_goal_alignment"`
}

// Deduction is one Safety penalty that was applied
type Deduction struct {
	Rule   string  `json:"rule"`
	Points float64 `json:"points"`
}

// ServingValues are the per-serving nutrient amounts the score was computed from
type ServingValues struct {
	Nutriments
	NetCarbs *float64 `json:"net_carbs,omitempty"`
	// NetCarbsUpperBound is set when fiber was unknown and NetCarbs is total carbohydrates
	NetCarbsUpperBound bool    `json:"net_carbs_upper_bound,omitempty"`
	ServingGrams       float64 `json:"serving_grams,omitempty"`
	AssumedServing     bool    `json:"assumed_serving,omitempty"`
}

// ScoreResult is the output of the scoring engine. It is never persisted by the core.
type ScoreResult struct {
	FinalScore   int                    `json:"final_score"`
	SafetyScore  float64                `json:"safety_score"`
	FitScore     float64                `json:"fit_score"`
	Components   FitComponents          `json:"components"`
	GoalScores   map[HealthGoal]float64 `json:"goal_scores,omitempty"`
	Deductions   []Deduction            `json:"deductions,omitempty"`
	Notes        []string               `json:"notes"`
	Serving      ServingValues          `json:"serving"`
	ScoreVersion string                 `json:"score_version"`
	InputsHash   string                 `json:"inputs_hash"`
}
