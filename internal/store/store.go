// Package store persists extraction rules and decision records.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/rulesmith/internal/model"
)

// ErrNotFound is returned when a rule or decision record does not exist.
var ErrNotFound = eris.New("store: not found")

// DecisionFilter narrows ListDecisions.
type DecisionFilter struct {
	SourceID string        `json:"source_id,omitempty"`
	Outcome  model.Outcome `json:"outcome,omitempty"`
	Limit    int           `json:"limit,omitempty"`
	Offset   int           `json:"offset,omitempty"`
}

// Store is the persistence interface behind the rule registry and the
// decision ledger. Implementations must keep counter updates independent of
// locator writes: UpsertRule is the only call that touches locators.
type Store interface {
	// Rules
	GetRule(ctx context.Context, sourceID string) (*model.ExtractionRule, error)
	UpsertRule(ctx context.Context, rule *model.ExtractionRule) error
	IncrementSuccess(ctx context.Context, sourceID string) error
	IncrementFailure(ctx context.Context, sourceID string) error
	ResetCounters(ctx context.Context, sourceID string) error
	TopRules(ctx context.Context, limit int) ([]model.ExtractionRule, error)
	ListRules(ctx context.Context) ([]model.ExtractionRule, error)

	// Decision ledger (append-only)
	AppendDecision(ctx context.Context, rec *model.DecisionRecord) error
	GetDecision(ctx context.Context, id string) (*model.DecisionRecord, error)
	ListDecisions(ctx context.Context, filter DecisionFilter) ([]model.DecisionRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
