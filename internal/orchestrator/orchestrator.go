// Package orchestrator routes each document through the gate and, when the
// gate fails, through exactly one engine invocation.
package orchestrator

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rulesmith/internal/engine"
	"github.com/sells-group/rulesmith/internal/extract"
	"github.com/sells-group/rulesmith/internal/gate"
	"github.com/sells-group/rulesmith/internal/model"
	"github.com/sells-group/rulesmith/internal/registry"
)

// DefaultThreshold is the gate score a rule must reach for its extraction to
// be saved without engine help.
const DefaultThreshold = 80

// Config tunes the router.
type Config struct {
	// Threshold is the gate acceptance score. Default: 80.
	Threshold int
	Weights   gate.Weights
}

// Orchestrator is the per-request state machine: START → QUALITY_GATE →
// {REPAIR | DISCOVERY | DONE}. Engines run at most once per request, and a
// successful engine run is rechecked exactly once — never re-entered.
type Orchestrator struct {
	cfg       Config
	reg       *registry.Registry
	extractor extract.Extractor
	repair    *engine.Repair
	discovery *engine.Discovery
}

// New builds an orchestrator.
func New(cfg Config, reg *registry.Registry, extractor extract.Extractor, repair *engine.Repair, discovery *engine.Discovery) *Orchestrator {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Orchestrator{
		cfg:       cfg,
		reg:       reg,
		extractor: extractor,
		repair:    repair,
		discovery: discovery,
	}
}

// Process runs one document through the state machine. Inference failures
// never surface as errors — they end in a needs-review result. Errors are
// reserved for storage faults and cancellation.
func (o *Orchestrator) Process(ctx context.Context, sourceID, document string) (*model.ExtractionResult, error) {
	if sourceID == "" {
		return nil, eris.New("orchestrator: empty source id")
	}
	if document == "" {
		return nil, eris.Errorf("orchestrator: empty document for %s", sourceID)
	}

	rule, found, err := o.reg.Get(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	if !found {
		return o.runDiscovery(ctx, sourceID, document)
	}
	return o.tryRule(ctx, sourceID, document, rule)
}

// tryRule gates the existing rule's extraction; a pass is pure reuse with no
// decision record, a fail hands off to repair.
func (o *Orchestrator) tryRule(ctx context.Context, sourceID, document string, rule *model.ExtractionRule) (*model.ExtractionResult, error) {
	fields := o.extractor.Extract(document, rule.Locators)
	score, missing := gate.Score(fields, o.cfg.Weights)

	if score >= o.cfg.Threshold {
		if err := o.reg.IncrementSuccess(ctx, sourceID); err != nil {
			return nil, err
		}
		zap.L().Debug("rule reused",
			zap.String("source", sourceID),
			zap.Int("score", score),
		)
		return &model.ExtractionResult{
			SourceID: sourceID,
			Outcome:  model.OutcomeSaved,
			Fields:   fields,
			Score:    score,
		}, nil
	}

	if err := o.reg.IncrementFailure(ctx, sourceID); err != nil {
		return nil, err
	}

	rec, err := o.repair.Run(ctx, sourceID, document, rule, missing)
	if err != nil {
		return nil, err
	}
	if rec.Outcome != model.OutcomeSaved {
		return &model.ExtractionResult{
			SourceID:      sourceID,
			Outcome:       model.OutcomeNeedsReview,
			Fields:        fields,
			Score:         score,
			MissingFields: missing,
			DecisionID:    rec.ID,
		}, nil
	}

	res, err := o.recheck(ctx, sourceID, document, rec.ID)
	if err != nil {
		return nil, err
	}
	res.RuleRepaired = true
	return res, nil
}

func (o *Orchestrator) runDiscovery(ctx context.Context, sourceID, document string) (*model.ExtractionResult, error) {
	rec, err := o.discovery.Run(ctx, sourceID, document)
	if err != nil {
		return nil, err
	}
	if rec.Outcome != model.OutcomeSaved {
		return &model.ExtractionResult{
			SourceID:   sourceID,
			Outcome:    model.OutcomeNeedsReview,
			DecisionID: rec.ID,
		}, nil
	}

	res, err := o.recheck(ctx, sourceID, document, rec.ID)
	if err != nil {
		return nil, err
	}
	res.RuleCreated = true
	return res, nil
}

// recheck gates the freshly written rule exactly once. A recheck that still
// fails goes to review as-is; engines are never re-entered in one request.
func (o *Orchestrator) recheck(ctx context.Context, sourceID, document, decisionID string) (*model.ExtractionResult, error) {
	rule, found, err := o.reg.Get(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, eris.Errorf("orchestrator: rule for %s vanished after engine accept", sourceID)
	}

	fields := o.extractor.Extract(document, rule.Locators)
	score, missing := gate.Score(fields, o.cfg.Weights)

	res := &model.ExtractionResult{
		SourceID:   sourceID,
		Fields:     fields,
		Score:      score,
		DecisionID: decisionID,
	}

	if score >= o.cfg.Threshold {
		if err := o.reg.IncrementSuccess(ctx, sourceID); err != nil {
			return nil, err
		}
		res.Outcome = model.OutcomeSaved
		return res, nil
	}

	if err := o.reg.IncrementFailure(ctx, sourceID); err != nil {
		return nil, err
	}
	zap.L().Warn("accepted rule failed recheck",
		zap.String("source", sourceID),
		zap.Int("score", score),
	)
	res.Outcome = model.OutcomeNeedsReview
	res.MissingFields = missing
	return res, nil
}
