// Package ledger records every repair/discovery decision for audit and review.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rulesmith/internal/model"
	"github.com/sells-group/rulesmith/internal/store"
)

// Ledger is an append-only view over the decision_records table. Records are
// never mutated after Append.
type Ledger struct {
	store store.Store
}

// New creates a Ledger over the given store.
func New(s store.Store) *Ledger {
	return &Ledger{store: s}
}

// DocumentRef returns the stable reference stored in place of the raw
// document: a sha256 of its contents.
func DocumentRef(document string) string {
	sum := sha256.Sum256([]byte(document))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Append assigns the record an id and timestamp and persists it. The id is
// returned so callers can hand it to the review console.
func (l *Ledger) Append(ctx context.Context, rec *model.DecisionRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	if err := l.store.AppendDecision(ctx, rec); err != nil {
		return "", eris.Wrapf(err, "ledger: append for %s", rec.SourceID)
	}

	zap.L().Info("ledger: decision recorded",
		zap.String("id", rec.ID),
		zap.String("source", rec.SourceID),
		zap.String("engine", string(rec.Engine)),
		zap.String("outcome", string(rec.Outcome)),
		zap.Int("retries", rec.RetryCount),
		zap.Float64("consensus", rec.Consensus.Score),
	)
	return rec.ID, nil
}

// Get fetches one record by id.
func (l *Ledger) Get(ctx context.Context, id string) (*model.DecisionRecord, error) {
	rec, err := l.store.GetDecision(ctx, id)
	return rec, eris.Wrapf(err, "ledger: get %s", id)
}

// PendingReviews lists records awaiting operator attention, newest first.
func (l *Ledger) PendingReviews(ctx context.Context, limit int) ([]model.DecisionRecord, error) {
	recs, err := l.store.ListDecisions(ctx, store.DecisionFilter{
		Outcome: model.OutcomeNeedsReview,
		Limit:   limit,
	})
	return recs, eris.Wrap(err, "ledger: pending reviews")
}

// History lists all records for a source id, newest first.
func (l *Ledger) History(ctx context.Context, sourceID string, limit int) ([]model.DecisionRecord, error) {
	recs, err := l.store.ListDecisions(ctx, store.DecisionFilter{
		SourceID: sourceID,
		Limit:    limit,
	})
	return recs, eris.Wrapf(err, "ledger: history %s", sourceID)
}
