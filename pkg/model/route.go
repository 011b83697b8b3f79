package model

// PromptLayer tells the reply generator how much instructional prompt text to include
type PromptLayer string

const (
	PromptLayerMinimal PromptLayer = "minimal"
	PromptLayerPartial PromptLayer = "partial"
	PromptLayerFull    PromptLayer = "full"
)

// SkillsMode tells the reply generator how to present skills
type SkillsMode string

const (
	SkillsModeNames     SkillsMode = "names"
	SkillsModeSummaries SkillsMode = "summaries"
)

// RouteDecision is the per-turn result of the resource router. It is never persisted.
type RouteDecision struct {
	Tools       []string    `json:"tools"`
	Files       []string    `json:"files"`
	PromptLayer PromptLayer `json:"prompt_layer"`
	SkillsMode  SkillsMode  `json:"skills_mode"`

	// Skipped is true when routing is globally disabled
	Skipped bool `json:"skipped"`
	// Fallback is true when the classifier could not be used and the full set was returned
	Fallback bool `json:"fallback"`

	NeedsTier1 bool     `json:"needs_tier1"`
	Tier1Dates []string `json:"tier1_dates,omitempty"`
	NeedsTier2 bool     `json:"needs_tier2"`

	Packs  []string `json:"packs,omitempty"`
	Reason string   `json:"reason,omitempty"`
}

// HasTool reports whether name was selected
func (x *RouteDecision) HasTool(name string) bool {
	for _, t := range x.Tools {
		if t == name {
			return true
		}
	}
	return false
}
