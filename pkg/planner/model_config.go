package planner

// ModelConfig selects which model each planning role uses. The reference
// module defaults to a fast/cheap model for intent classification and
// extraction, reserving the larger model for decomposition.
type ModelConfig struct {
	IntentModel     string
	PlanningModel   string
	ExtractionModel string
}

// DefaultModelConfig mirrors the reference defaults.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		IntentModel:     "claude-haiku-4-5-20251001",
		PlanningModel:   "claude-sonnet-4-5-20250929",
		ExtractionModel: "claude-haiku-4-5-20251001",
	}
}
