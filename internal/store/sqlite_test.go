package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rulesmith/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func testRule(sourceID string) *model.ExtractionRule {
	return &model.ExtractionRule{
		SourceID: sourceID,
		Locators: map[model.Field]string{
			model.FieldTitle: `<h1[^>]*>(.*?)</h1>`,
			model.FieldBody:  `<article[^>]*>([\s\S]*?)</article>`,
		},
		SourceType: model.SourceTypeDiscovered,
	}
}

func TestSQLite_UpsertAndGetRule(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rule := testRule("example.com")
	require.NoError(t, s.UpsertRule(ctx, rule))
	assert.False(t, rule.UpdatedAt.IsZero())

	got, err := s.GetRule(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, rule.Locators, got.Locators)
	assert.Equal(t, model.SourceTypeDiscovered, got.SourceType)
	assert.Zero(t, got.SuccessCount)
}

func TestSQLite_GetRule_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRule(context.Background(), "unknown.com")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_UpsertOverwritesLocators(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rule := testRule("example.com")
	require.NoError(t, s.UpsertRule(ctx, rule))

	rule.Locators[model.FieldTitle] = `<title>(.*?)</title>`
	rule.SourceType = model.SourceTypeRepaired
	require.NoError(t, s.UpsertRule(ctx, rule))

	got, err := s.GetRule(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, `<title>(.*?)</title>`, got.Locators[model.FieldTitle])
	assert.Equal(t, model.SourceTypeRepaired, got.SourceType)
}

func TestSQLite_Counters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRule(ctx, testRule("example.com")))

	require.NoError(t, s.IncrementSuccess(ctx, "example.com"))
	require.NoError(t, s.IncrementSuccess(ctx, "example.com"))
	require.NoError(t, s.IncrementFailure(ctx, "example.com"))

	got, err := s.GetRule(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, got.SuccessCount)
	assert.Equal(t, 1, got.FailureCount)

	// Counter updates must not touch locators.
	assert.Equal(t, testRule("example.com").Locators, got.Locators)

	require.NoError(t, s.ResetCounters(ctx, "example.com"))
	got, err = s.GetRule(ctx, "example.com")
	require.NoError(t, err)
	assert.Zero(t, got.SuccessCount)
	assert.Zero(t, got.FailureCount)
}

func TestSQLite_IncrementMissingRule(t *testing.T) {
	s := newTestStore(t)
	err := s.IncrementSuccess(context.Background(), "unknown.com")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_TopRules_OrderedBySuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, src := range []string{"a.com", "b.com", "c.com"} {
		require.NoError(t, s.UpsertRule(ctx, testRule(src)))
	}
	// b: 3 successes, c: 1, a: 0.
	for i := 0; i < 3; i++ {
		require.NoError(t, s.IncrementSuccess(ctx, "b.com"))
	}
	require.NoError(t, s.IncrementSuccess(ctx, "c.com"))

	top, err := s.TopRules(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "b.com", top[0].SourceID)
	assert.Equal(t, "c.com", top[1].SourceID)
}

func TestSQLite_DecisionLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &model.DecisionRecord{
		ID:          uuid.New().String(),
		SourceID:    "example.com",
		Engine:      model.EngineRepair,
		DocumentRef: "sha256:abc",
		Proposals: []model.AgentProposal{
			{Role: model.RoleProposer, Agent: "anthropic/sonnet", Confidence: 0.8, Rationale: "header pattern"},
			{Role: model.RoleValidator, Agent: "anthropic/haiku", Confidence: 0.7},
		},
		Consensus: model.ConsensusResult{
			ProposerConfidence:  0.8,
			ValidatorConfidence: 0.7,
			ExtractionQuality:   0.9,
			Score:               0.81,
			Accepted:            true,
		},
		RetryCount: 1,
		Outcome:    model.OutcomeSaved,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.AppendDecision(ctx, rec))

	got, err := s.GetDecision(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.SourceID, got.SourceID)
	assert.Len(t, got.Proposals, 2)
	assert.Equal(t, model.RoleProposer, got.Proposals[0].Role)
	assert.True(t, got.Consensus.Accepted)

	list, err := s.ListDecisions(ctx, DecisionFilter{SourceID: "example.com"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = s.ListDecisions(ctx, DecisionFilter{Outcome: model.OutcomeNeedsReview})
	require.NoError(t, err)
	assert.Empty(t, list)
}
