// Package registry maintains extraction rules and serves exemplars for
// agent prompts.
package registry

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/rulesmith/internal/model"
	"github.com/sells-group/rulesmith/internal/store"
)

// ErrRuleNotFound is returned by Get when no rule exists for a source id.
var ErrRuleNotFound = eris.New("registry: rule not found")

// Registry wraps the store with per-source-id locking so concurrent
// repair/discovery runs for the same source serialize, while distinct
// sources never block each other.
type Registry struct {
	store store.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Registry over the given store.
func New(s store.Store) *Registry {
	return &Registry{
		store: s,
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock acquires the per-source mutex and returns its unlock function.
// Engines hold this across an entire repair/discovery invocation.
func (r *Registry) Lock(sourceID string) func() {
	r.mu.Lock()
	l, ok := r.locks[sourceID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[sourceID] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Get returns the rule for a source id, or (nil, false) when none exists.
// Store errors other than not-found are returned as errors.
func (r *Registry) Get(ctx context.Context, sourceID string) (*model.ExtractionRule, bool, error) {
	rule, err := r.store.GetRule(ctx, sourceID)
	if eris.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "registry: get %s", sourceID)
	}
	return rule, true, nil
}

// Upsert writes a rule's locators. This is the only mutation path for
// locator fields.
func (r *Registry) Upsert(ctx context.Context, rule *model.ExtractionRule) error {
	if rule.SourceID == "" {
		return eris.New("registry: upsert: empty source id")
	}
	if len(rule.Locators) == 0 {
		return eris.Errorf("registry: upsert %s: no locators", rule.SourceID)
	}
	return eris.Wrapf(r.store.UpsertRule(ctx, rule), "registry: upsert %s", rule.SourceID)
}

// IncrementSuccess bumps the success counter without touching locators.
func (r *Registry) IncrementSuccess(ctx context.Context, sourceID string) error {
	return eris.Wrapf(r.store.IncrementSuccess(ctx, sourceID), "registry: increment success %s", sourceID)
}

// IncrementFailure bumps the failure counter without touching locators.
func (r *Registry) IncrementFailure(ctx context.Context, sourceID string) error {
	return eris.Wrapf(r.store.IncrementFailure(ctx, sourceID), "registry: increment failure %s", sourceID)
}

// ResetCounters zeroes both counters, e.g. after a successful repair.
func (r *Registry) ResetCounters(ctx context.Context, sourceID string) error {
	return eris.Wrapf(r.store.ResetCounters(ctx, sourceID), "registry: reset counters %s", sourceID)
}

// TopExemplars returns up to limit rules ordered by success count descending
// (ties broken by most recent update) for few-shot prompt context. It is a
// stateless query over the store — no cached singleton to invalidate.
func (r *Registry) TopExemplars(ctx context.Context, limit int) ([]model.ExtractionRule, error) {
	rules, err := r.store.TopRules(ctx, limit)
	return rules, eris.Wrap(err, "registry: top exemplars")
}

// List returns every rule, ordered by source id.
func (r *Registry) List(ctx context.Context) ([]model.ExtractionRule, error) {
	rules, err := r.store.ListRules(ctx)
	return rules, eris.Wrap(err, "registry: list")
}
