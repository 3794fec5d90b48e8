package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/rulesmith/internal/extract"
	"github.com/sells-group/rulesmith/internal/gate"
	"github.com/sells-group/rulesmith/internal/ledger"
	"github.com/sells-group/rulesmith/internal/model"
)

// Discovery invents a rule for a source that has none. Pages carrying usable
// embedded metadata are ruled without any inference call; otherwise the same
// consensus loop as repair runs, against a slightly higher bar.
type Discovery struct {
	core core
}

// NewDiscovery builds a discovery engine.
func NewDiscovery(cfg Config, deps Deps) *Discovery {
	return &Discovery{core: core{cfg: cfg.withDefaults(), deps: deps}}
}

// Run discovers a rule for sourceID from the given document. Exactly one
// decision record is written per call.
func (e *Discovery) Run(ctx context.Context, sourceID, document string) (*model.DecisionRecord, error) {
	unlock := e.core.deps.Registry.Lock(sourceID)
	defer unlock()

	if rec, ok, err := e.metadataPrecheck(ctx, sourceID, document); ok || err != nil {
		return rec, err
	}

	zap.L().Info("discovery engine invoked", zap.String("source", sourceID))

	accept := func(ctx context.Context, winner *model.AgentProposal) error {
		return e.core.deps.Registry.Upsert(ctx, &model.ExtractionRule{
			SourceID:   sourceID,
			Locators:   winner.Locators,
			SourceType: model.SourceTypeDiscovered,
			UpdatedAt:  time.Now().UTC(),
		})
	}

	return e.core.run(ctx, model.EngineDiscovery, sourceID, document,
		e.core.cfg.DiscoveryThreshold, nil, nil, "", accept)
}

// metadataPrecheck tries the standard embedded-metadata locators against the
// page. When they alone clear the quality bar, the rule is saved from them
// directly at zero inference cost.
func (e *Discovery) metadataPrecheck(ctx context.Context, sourceID, document string) (*model.DecisionRecord, bool, error) {
	locators := extract.MetadataLocators()
	fields := e.core.deps.Extractor.Extract(document, locators)
	score, _ := gate.Score(fields, e.core.cfg.GateWeights)
	if score < e.core.cfg.MetadataQualityBar {
		return nil, false, nil
	}

	zap.L().Info("discovery accepted embedded metadata",
		zap.String("source", sourceID),
		zap.Int("score", score),
	)

	if err := e.core.deps.Registry.Upsert(ctx, &model.ExtractionRule{
		SourceID:   sourceID,
		Locators:   locators,
		SourceType: model.SourceTypeMetadata,
		UpdatedAt:  time.Now().UTC(),
	}); err != nil {
		return nil, true, err
	}

	quality := float64(score) / 100
	rec := &model.DecisionRecord{
		SourceID:    sourceID,
		Engine:      model.EngineDiscovery,
		DocumentRef: ledger.DocumentRef(document),
		Consensus: model.ConsensusResult{
			ExtractionQuality: quality,
			Score:             quality,
			Accepted:          true,
		},
	}
	rec, err := e.core.finish(ctx, rec, model.OutcomeSaved)
	return rec, true, err
}
