package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/rulesmith/internal/model"
)

func prop(conf float64) *model.AgentProposal {
	return &model.AgentProposal{
		Role:       model.RoleProposer,
		Confidence: conf,
		Locators:   map[model.Field]string{model.FieldTitle: "t"},
	}
}

func val(conf float64) *model.AgentProposal {
	return &model.AgentProposal{Role: model.RoleValidator, Confidence: conf}
}

func TestEvaluate_WeightedBlend(t *testing.T) {
	res := Evaluate(prop(0.8), val(0.6), 0.9, 0.5, DefaultConsensusWeights())
	// 0.3*0.8 + 0.3*0.6 + 0.4*0.9 = 0.78
	assert.InDelta(t, 0.78, res.Score, 1e-9)
	assert.True(t, res.Accepted)
	assert.NotNil(t, res.Winner)
	assert.Equal(t, 0.8, res.Winner.Confidence)
}

func TestEvaluate_ThresholdBoundaryAccepts(t *testing.T) {
	// 0.3*0.5 + 0.3*0.5 + 0.4*0.5 = exactly 0.5
	res := Evaluate(prop(0.5), val(0.5), 0.5, 0.5, DefaultConsensusWeights())
	assert.True(t, res.Accepted)

	res = Evaluate(prop(0.5), val(0.5), 0.5, 0.55, DefaultConsensusWeights())
	assert.False(t, res.Accepted)
	assert.Nil(t, res.Winner)
}

func TestEvaluate_HardExtractionFailureForcesZero(t *testing.T) {
	v := val(0.9)
	v.ExtractionFailed = true
	res := Evaluate(prop(0.95), v, 1.0, 0.5, DefaultConsensusWeights())
	assert.Equal(t, 0.0, res.Score)
	assert.False(t, res.Accepted)
	assert.Nil(t, res.Winner)
	// The signal values are still recorded for the ledger.
	assert.Equal(t, 0.95, res.ProposerConfidence)
	assert.Equal(t, 0.9, res.ValidatorConfidence)
}

func TestEvaluate_MonotonicInEachSignal(t *testing.T) {
	base := Evaluate(prop(0.5), val(0.5), 0.5, 0.5, DefaultConsensusWeights()).Score
	assert.GreaterOrEqual(t, Evaluate(prop(0.6), val(0.5), 0.5, 0.5, DefaultConsensusWeights()).Score, base)
	assert.GreaterOrEqual(t, Evaluate(prop(0.5), val(0.6), 0.5, 0.5, DefaultConsensusWeights()).Score, base)
	assert.GreaterOrEqual(t, Evaluate(prop(0.5), val(0.5), 0.6, 0.5, DefaultConsensusWeights()).Score, base)
}

func TestEvaluate_QualityClamped(t *testing.T) {
	res := Evaluate(prop(0), val(0), 1.5, 0.5, DefaultConsensusWeights())
	assert.Equal(t, 1.0, res.ExtractionQuality)

	res = Evaluate(prop(0), val(0), -0.1, 0.5, DefaultConsensusWeights())
	assert.Equal(t, 0.0, res.ExtractionQuality)
}

func TestEvaluate_ZeroWeightsFallBackToDefaults(t *testing.T) {
	res := Evaluate(prop(1), val(1), 1, 0.5, ConsensusWeights{})
	assert.InDelta(t, 1.0, res.Score, 1e-9)
}
