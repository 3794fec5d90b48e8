// Package engine implements the repair and discovery decision procedures:
// propose, validate, reach consensus, then accept, retry, or escalate.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rulesmith/internal/agent"
	"github.com/sells-group/rulesmith/internal/extract"
	"github.com/sells-group/rulesmith/internal/gate"
	"github.com/sells-group/rulesmith/internal/ledger"
	"github.com/sells-group/rulesmith/internal/model"
	"github.com/sells-group/rulesmith/internal/registry"
	"github.com/sells-group/rulesmith/internal/resilience"
)

// Config holds the tunables shared by both engines.
type Config struct {
	// MaxRetries is how many times a failed consensus round is retried after
	// the initial attempt. Default: 3, backoff 1s/2s/4s.
	MaxRetries     int
	BackoffInitial time.Duration

	RepairThreshold    float64
	DiscoveryThreshold float64

	// MetadataQualityBar is the gate score embedded page metadata must reach
	// for discovery to accept it without any inference call.
	MetadataQualityBar int

	ExemplarLimit int
	GateWeights   gate.Weights
	Consensus     ConsensusWeights
}

// DefaultConfig returns the standard engine tuning.
func DefaultConfig() Config {
	return Config{
		MaxRetries:         3,
		BackoffInitial:     time.Second,
		RepairThreshold:    0.50,
		DiscoveryThreshold: 0.55,
		MetadataQualityBar: 70,
		ExemplarLimit:      5,
		GateWeights:        gate.DefaultWeights(),
		Consensus:          DefaultConsensusWeights(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = d.BackoffInitial
	}
	if c.RepairThreshold <= 0 {
		c.RepairThreshold = d.RepairThreshold
	}
	if c.DiscoveryThreshold <= 0 {
		c.DiscoveryThreshold = d.DiscoveryThreshold
	}
	if c.MetadataQualityBar <= 0 {
		c.MetadataQualityBar = d.MetadataQualityBar
	}
	if c.ExemplarLimit <= 0 {
		c.ExemplarLimit = d.ExemplarLimit
	}
	if c.Consensus == (ConsensusWeights{}) {
		c.Consensus = d.Consensus
	}
	return c
}

// Deps are the collaborators both engines share.
type Deps struct {
	Proposer  agent.Pair
	Validator agent.Pair
	Extractor extract.Extractor
	Registry  *registry.Registry
	Ledger    *ledger.Ledger
}

// core is the consensus loop shared by repair and discovery.
type core struct {
	cfg  Config
	deps Deps
}

// run executes the propose→validate→consensus loop for one invocation and
// writes exactly one decision record, whatever the outcome. The caller holds
// the per-source lock. acceptFn persists the winning locators.
func (e core) run(
	ctx context.Context,
	kind model.EngineKind,
	sourceID, document string,
	threshold float64,
	current *model.ExtractionRule,
	missing []model.Field,
	feedback string,
	acceptFn func(ctx context.Context, winner *model.AgentProposal) error,
) (*model.DecisionRecord, error) {
	rec := &model.DecisionRecord{
		SourceID:    sourceID,
		Engine:      kind,
		DocumentRef: ledger.DocumentRef(document),
	}

	exemplars, err := e.deps.Registry.TopExemplars(ctx, e.cfg.ExemplarLimit)
	if err != nil {
		zap.L().Warn("exemplar fetch failed, proposing without few-shot context",
			zap.String("source", sourceID), zap.Error(err))
		exemplars = nil
	}

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := resilience.Backoff(attempt-1, e.cfg.BackoffInitial, 2.0)
			if err := resilience.Sleep(ctx, delay); err != nil {
				return e.finish(ctx, rec, model.OutcomeError)
			}
			rec.RetryCount = attempt
		}

		consensus, nextFeedback, err := e.round(ctx, rec, document, threshold, current, exemplars, missing, feedback)
		if err != nil {
			if ctx.Err() != nil {
				return e.finish(ctx, rec, model.OutcomeError)
			}
			// Transport failure after fallback: the attempt is spent.
			zap.L().Warn("consensus round failed",
				zap.String("engine", string(kind)),
				zap.String("source", sourceID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			feedback = "inference provider unavailable on the previous attempt"
			continue
		}

		rec.Consensus = *consensus
		if consensus.Accepted {
			if err := acceptFn(ctx, consensus.Winner); err != nil {
				return nil, err
			}
			return e.finish(ctx, rec, model.OutcomeSaved)
		}
		feedback = nextFeedback
	}

	return e.finish(ctx, rec, model.OutcomeNeedsReview)
}

// round runs one propose→validate→consensus exchange, appending both
// proposals to the record in order.
func (e core) round(
	ctx context.Context,
	rec *model.DecisionRecord,
	document string,
	threshold float64,
	current *model.ExtractionRule,
	exemplars []model.ExtractionRule,
	missing []model.Field,
	feedback string,
) (*model.ConsensusResult, string, error) {
	propRes, err := e.deps.Proposer.Propose(ctx, model.RoleProposer, proposerPrompt(document, current, exemplars, missing, feedback))
	if err != nil {
		return nil, "", err
	}
	proposal := propRes.Proposal
	rec.Proposals = append(rec.Proposals, *proposal)

	if !propRes.OK || len(proposal.Locators) == 0 {
		// Nothing to validate; fail the round with the parse reason as feedback.
		return &model.ConsensusResult{ProposerConfidence: proposal.Confidence},
			"proposer produced no usable locators: " + proposal.Rationale, nil
	}

	extracted := e.deps.Extractor.Extract(document, proposal.Locators)
	if len(extracted) == 0 {
		// Patterns that match nothing are a hard failure: agent confidence
		// earns no partial credit without data behind it, and there is
		// nothing for the validator to judge.
		return &model.ConsensusResult{ProposerConfidence: proposal.Confidence},
			"the proposed patterns extracted nothing from the document", nil
	}
	score, missingNow := gate.Score(extracted, e.cfg.GateWeights)
	quality := float64(score) / 100

	valRes, err := e.deps.Validator.Propose(ctx, model.RoleValidator, validatorPrompt(document, proposal, extracted))
	if err != nil {
		return nil, "", err
	}
	validator := valRes.Proposal
	rec.Proposals = append(rec.Proposals, *validator)

	consensus := Evaluate(proposal, validator, quality, threshold, e.cfg.Consensus)
	if consensus.Accepted {
		return &consensus, "", nil
	}

	return &consensus, rejectionFeedback(consensus, missingNow, validator), nil
}

// finish stamps the outcome and appends the record. Append survives caller
// cancellation so every invocation leaves its audit entry.
func (e core) finish(ctx context.Context, rec *model.DecisionRecord, outcome model.Outcome) (*model.DecisionRecord, error) {
	rec.Outcome = outcome
	if _, err := e.deps.Ledger.Append(context.WithoutCancel(ctx), rec); err != nil {
		return nil, eris.Wrapf(err, "engine: record decision for %s", rec.SourceID)
	}
	if outcome == model.OutcomeError && ctx.Err() != nil {
		return rec, eris.Wrapf(ctx.Err(), "engine: %s for %s aborted", rec.Engine, rec.SourceID)
	}
	return rec, nil
}

func rejectionFeedback(c model.ConsensusResult, missing []model.Field, validator *model.AgentProposal) string {
	if validator.ExtractionFailed {
		return fmt.Sprintf("validator reported the patterns extract nothing usable: %s", validator.Rationale)
	}
	msg := fmt.Sprintf("consensus score %.2f was too low (proposer %.2f, validator %.2f, extraction quality %.2f)",
		c.Score, c.ProposerConfidence, c.ValidatorConfidence, c.ExtractionQuality)
	if len(missing) > 0 {
		msg += "; fields still missing: " + joinFields(missing)
	}
	if validator.Rationale != "" {
		msg += "; validator: " + validator.Rationale
	}
	return msg
}
