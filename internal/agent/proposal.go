package agent

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/rulesmith/internal/model"
)

// AgentResult is a parsed proposal plus whether the raw output was well
// formed. Malformed output still yields a usable zero-confidence proposal so
// callers never need a nil check.
type AgentResult struct {
	Proposal *model.AgentProposal
	OK       bool
}

// wireProposal is the JSON shape agents are prompted to produce.
type wireProposal struct {
	Locators         map[string]string `json:"locators"`
	Confidence       *float64          `json:"confidence"`
	Rationale        string            `json:"rationale"`
	ExtractionFailed bool              `json:"extraction_failed"`
}

// Parse validates raw agent output into a proposal. Confidence is clamped to
// [0,1], rationale is required, and unknown locator fields are dropped.
// Anything unparseable degrades to a zero-confidence proposal.
func Parse(role model.AgentRole, agentName, text string) *AgentResult {
	raw, ok := extractJSON(text)
	if !ok {
		return degraded(role, agentName, "no JSON object in agent output")
	}

	var wire wireProposal
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		zap.L().Debug("unparseable agent output",
			zap.String("agent", agentName),
			zap.Error(err),
		)
		return degraded(role, agentName, "unparseable agent output")
	}
	if wire.Confidence == nil {
		return degraded(role, agentName, "agent output missing confidence")
	}
	if strings.TrimSpace(wire.Rationale) == "" {
		return degraded(role, agentName, "agent output missing rationale")
	}

	conf := *wire.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}

	locators := make(map[model.Field]string)
	for _, f := range model.CoreFields {
		if loc, ok := wire.Locators[string(f)]; ok && strings.TrimSpace(loc) != "" {
			locators[f] = loc
		}
	}

	return &AgentResult{
		OK: true,
		Proposal: &model.AgentProposal{
			Role:             role,
			Agent:            agentName,
			Locators:         locators,
			Confidence:       conf,
			Rationale:        wire.Rationale,
			ExtractionFailed: wire.ExtractionFailed,
		},
	}
}

func degraded(role model.AgentRole, agentName, reason string) *AgentResult {
	return &AgentResult{
		OK: false,
		Proposal: &model.AgentProposal{
			Role:       role,
			Agent:      agentName,
			Locators:   map[model.Field]string{},
			Confidence: 0,
			Rationale:  reason,
		},
	}
}

// extractJSON pulls the outermost {...} from text, tolerating prose and code
// fences around the object.
func extractJSON(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
