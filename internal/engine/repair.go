package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/rulesmith/internal/model"
)

// Repair fixes an existing rule whose locators stopped extracting. Acceptance
// overwrites the rule's locators and resets its failure streak; escalation
// leaves the rule untouched and queues the record for review.
type Repair struct {
	core core
}

// NewRepair builds a repair engine.
func NewRepair(cfg Config, deps Deps) *Repair {
	return &Repair{core: core{cfg: cfg.withDefaults(), deps: deps}}
}

// Run repairs the rule for sourceID against the given document. current is
// the failing rule; missing names the fields its locators no longer extract.
// Exactly one decision record is written per call.
func (e *Repair) Run(ctx context.Context, sourceID, document string, current *model.ExtractionRule, missing []model.Field) (*model.DecisionRecord, error) {
	unlock := e.core.deps.Registry.Lock(sourceID)
	defer unlock()

	zap.L().Info("repair engine invoked",
		zap.String("source", sourceID),
		zap.Int("failure_count", current.FailureCount),
	)

	accept := func(ctx context.Context, winner *model.AgentProposal) error {
		rule := &model.ExtractionRule{
			SourceID:   sourceID,
			Locators:   winner.Locators,
			SourceType: model.SourceTypeRepaired,
			UpdatedAt:  time.Now().UTC(),
		}
		if err := e.core.deps.Registry.Upsert(ctx, rule); err != nil {
			return err
		}
		return e.core.deps.Registry.ResetCounters(ctx, sourceID)
	}

	return e.core.run(ctx, model.EngineRepair, sourceID, document,
		e.core.cfg.RepairThreshold, current, missing, "", accept)
}
