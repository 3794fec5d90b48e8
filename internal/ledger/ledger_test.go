package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rulesmith/internal/model"
	"github.com/sells-group/rulesmith/internal/store"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func TestDocumentRef_StableAndDistinct(t *testing.T) {
	a := DocumentRef("<html>one</html>")
	b := DocumentRef("<html>one</html>")
	c := DocumentRef("<html>two</html>")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "sha256:")
}

func TestLedger_AppendAssignsIDAndTimestamp(t *testing.T) {
	l := newTestLedger(t)

	rec := &model.DecisionRecord{
		SourceID:    "example.com",
		Engine:      model.EngineDiscovery,
		DocumentRef: DocumentRef("doc"),
		Outcome:     model.OutcomeSaved,
	}
	id, err := l.Append(context.Background(), rec)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := l.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.EngineDiscovery, got.Engine)
}

func TestLedger_PendingReviews(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	for _, outcome := range []model.Outcome{model.OutcomeSaved, model.OutcomeNeedsReview, model.OutcomeNeedsReview} {
		_, err := l.Append(ctx, &model.DecisionRecord{
			SourceID:    "example.com",
			Engine:      model.EngineRepair,
			DocumentRef: DocumentRef("doc"),
			Outcome:     outcome,
		})
		require.NoError(t, err)
	}

	pending, err := l.PendingReviews(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	for _, r := range pending {
		assert.Equal(t, model.OutcomeNeedsReview, r.Outcome)
	}
}

func TestLedger_History(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	for _, src := range []string{"a.com", "a.com", "b.com"} {
		_, err := l.Append(ctx, &model.DecisionRecord{
			SourceID:    src,
			Engine:      model.EngineRepair,
			DocumentRef: DocumentRef("doc"),
			Outcome:     model.OutcomeSaved,
		})
		require.NoError(t, err)
	}

	hist, err := l.History(ctx, "a.com", 10)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}
