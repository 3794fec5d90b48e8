package model

// Outcome is the terminal state of a processing attempt or engine invocation.
type Outcome string

const (
	OutcomeSaved       Outcome = "saved"
	OutcomeNeedsReview Outcome = "needs_review"
	OutcomeError       Outcome = "error"
)

// ExtractionResult is what Process hands back to the caller: either extracted
// fields under a passing rule, or a structured needs-review outcome. Callers
// never see raw inference errors.
type ExtractionResult struct {
	SourceID      string           `json:"source_id"`
	Outcome       Outcome          `json:"outcome"`
	Fields        map[Field]string `json:"fields,omitempty"`
	Score         int              `json:"score"`
	MissingFields []Field          `json:"missing_fields,omitempty"`
	RuleCreated   bool             `json:"rule_created,omitempty"`
	RuleRepaired  bool             `json:"rule_repaired,omitempty"`
	DecisionID    string           `json:"decision_id,omitempty"`
}
