package engine

import "github.com/sells-group/rulesmith/internal/model"

// ConsensusWeights blends the three consensus signals. They should sum to 1.
type ConsensusWeights struct {
	Proposer  float64 `json:"proposer" mapstructure:"proposer_weight"`
	Validator float64 `json:"validator" mapstructure:"validator_weight"`
	Quality   float64 `json:"quality" mapstructure:"quality_weight"`
}

// DefaultConsensusWeights returns the standard 0.3 / 0.3 / 0.4 blend.
func DefaultConsensusWeights() ConsensusWeights {
	return ConsensusWeights{Proposer: 0.3, Validator: 0.3, Quality: 0.4}
}

// Evaluate computes the weighted consensus score for one proposal round.
// quality is the gate score scaled to [0,1]. A validator that reports hard
// extraction failure forces the score to 0 regardless of confidences. The
// score is monotonic in each input: raising any signal never lowers it.
func Evaluate(proposer, validator *model.AgentProposal, quality, threshold float64, w ConsensusWeights) model.ConsensusResult {
	if w == (ConsensusWeights{}) {
		w = DefaultConsensusWeights()
	}
	quality = clamp01(quality)

	res := model.ConsensusResult{
		ProposerConfidence:  proposer.Confidence,
		ValidatorConfidence: validator.Confidence,
		ExtractionQuality:   quality,
	}

	if validator.ExtractionFailed {
		return res
	}

	res.Score = w.Proposer*proposer.Confidence + w.Validator*validator.Confidence + w.Quality*quality
	if res.Score >= threshold {
		res.Accepted = true
		res.Winner = proposer
	}
	return res
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
