package model

import "time"

// EngineKind distinguishes which decision procedure produced a record.
type EngineKind string

const (
	EngineRepair    EngineKind = "repair"
	EngineDiscovery EngineKind = "discovery"
)

// DecisionRecord is the append-only audit entry for one repair or discovery
// invocation. Written exactly once per invocation, success or not, and never
// mutated afterwards.
type DecisionRecord struct {
	ID          string          `json:"id"`
	SourceID    string          `json:"source_id"`
	Engine      EngineKind      `json:"engine"`
	DocumentRef string          `json:"document_ref"` // hash of the raw document, not the document itself
	Proposals   []AgentProposal `json:"proposals"`    // ordered as exchanged
	Consensus   ConsensusResult `json:"consensus"`
	RetryCount  int             `json:"retry_count"`
	Outcome     Outcome         `json:"outcome"`
	CreatedAt   time.Time       `json:"created_at"`
}
