package model

// AgentRole identifies which side of the consensus an agent plays.
type AgentRole string

const (
	RoleProposer  AgentRole = "proposer"
	RoleValidator AgentRole = "validator"
)

// AgentProposal is one inference agent's suggested field→locator mapping.
// Immutable once produced; shape is validated at the agent boundary, so a
// proposal that made it here always has Confidence in [0,1].
type AgentProposal struct {
	Role       AgentRole        `json:"role"`
	Agent      string           `json:"agent"` // provider/model label, e.g. "anthropic/claude-sonnet-4-5"
	Locators   map[Field]string `json:"locators"`
	Confidence float64          `json:"confidence"`
	Rationale  string           `json:"rationale"`

	// ExtractionFailed is set when a validator reports it could not extract
	// anything with the proposed locators. Consensus treats it as a hard
	// failure and forces the score to 0.
	ExtractionFailed bool `json:"extraction_failed,omitempty"`
}

// ConsensusResult combines proposer confidence, validator confidence, and the
// measured extraction quality into one weighted score and accept decision.
type ConsensusResult struct {
	ProposerConfidence  float64 `json:"proposer_confidence"`
	ValidatorConfidence float64 `json:"validator_confidence"`
	ExtractionQuality   float64 `json:"extraction_quality"` // gate score scaled to [0,1]
	Score               float64 `json:"score"`
	Accepted            bool    `json:"accepted"`

	// Winner is the proposal whose locators get written on accept; nil when
	// the round was rejected or the validator could not extract at all.
	Winner *AgentProposal `json:"winner,omitempty"`
}
