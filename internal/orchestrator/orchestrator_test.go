package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rulesmith/internal/agent"
	"github.com/sells-group/rulesmith/internal/engine"
	"github.com/sells-group/rulesmith/internal/extract"
	"github.com/sells-group/rulesmith/internal/ledger"
	"github.com/sells-group/rulesmith/internal/model"
	"github.com/sells-group/rulesmith/internal/registry"
	"github.com/sells-group/rulesmith/internal/store"
)

var testDoc = `<html><head><link rel="canonical" href="https://news.example.com/story/7"></head>
<body><h1>Harbor Cleanup Enters Second Phase</h1>
<time datetime="2024-07-02">July 2, 2024</time>
<article>` + strings.Repeat("Crews resumed dredging operations this week. ", 15) + `</article></body></html>`

var workingLocators = map[model.Field]string{
	model.FieldTitle:        `<h1>(.*?)</h1>`,
	model.FieldBody:         `<article>([\s\S]*?)</article>`,
	model.FieldDate:         `datetime="([^"]+)"`,
	model.FieldCanonicalURL: `rel="canonical" href="([^"]+)"`,
}

type scriptAgent struct {
	name    string
	replies []string
	reqs    []agent.Request
}

func (s *scriptAgent) Name() string { return s.name }

func (s *scriptAgent) Complete(ctx context.Context, req agent.Request) (*agent.Response, error) {
	i := len(s.reqs)
	s.reqs = append(s.reqs, req)
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	return &agent.Response{Agent: s.name, Text: s.replies[i]}, nil
}

func agentJSON(t *testing.T, locators map[string]string, conf float64, rationale string, failed bool) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"locators": locators, "confidence": conf,
		"rationale": rationale, "extraction_failed": failed,
	})
	require.NoError(t, err)
	return string(b)
}

type env struct {
	orch     *Orchestrator
	reg      *registry.Registry
	led      *ledger.Ledger
	proposer *scriptAgent
	valid    *scriptAgent
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	reg := registry.New(s)
	led := ledger.New(s)
	proposer := &scriptAgent{name: "proposer"}
	valid := &scriptAgent{name: "validator"}

	cfg := engine.DefaultConfig()
	cfg.MaxRetries = 1
	cfg.BackoffInitial = time.Millisecond

	deps := engine.Deps{
		Proposer:  agent.Pair{Primary: proposer},
		Validator: agent.Pair{Primary: valid},
		Extractor: extract.NewRegex(),
		Registry:  reg,
		Ledger:    led,
	}

	return &env{
		orch: New(Config{}, reg, extract.NewRegex(),
			engine.NewRepair(cfg, deps), engine.NewDiscovery(cfg, deps)),
		reg:      reg,
		led:      led,
		proposer: proposer,
		valid:    valid,
	}
}

func (e *env) seedRule(t *testing.T, sourceID string, locators map[model.Field]string) {
	t.Helper()
	require.NoError(t, e.reg.Upsert(context.Background(), &model.ExtractionRule{
		SourceID:   sourceID,
		Locators:   locators,
		SourceType: model.SourceTypeManual,
	}))
}

func TestProcess_PureReuseWritesNoRecord(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedRule(t, "news.example.com", workingLocators)

	res, err := e.orch.Process(ctx, "news.example.com", testDoc)
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeSaved, res.Outcome)
	assert.Equal(t, 100, res.Score)
	assert.Equal(t, "Harbor Cleanup Enters Second Phase", res.Fields[model.FieldTitle])
	assert.False(t, res.RuleCreated)
	assert.False(t, res.RuleRepaired)
	assert.Empty(t, res.DecisionID)
	assert.Empty(t, e.proposer.reqs)

	rule, _, err := e.reg.Get(ctx, "news.example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, rule.SuccessCount)

	hist, err := e.led.History(ctx, "news.example.com", 10)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestProcess_RepairThenRecheckPasses(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedRule(t, "news.example.com", map[model.Field]string{
		model.FieldTitle: `<h2>(.*?)</h2>`, // site redesigned away from h2
	})

	good := map[string]string{}
	for f, l := range workingLocators {
		good[string(f)] = l
	}
	e.proposer.replies = []string{agentJSON(t, good, 0.9, "h1 is the headline now", false)}
	e.valid.replies = []string{agentJSON(t, nil, 0.85, "patterns are anchored well", false)}

	res, err := e.orch.Process(ctx, "news.example.com", testDoc)
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeSaved, res.Outcome)
	assert.True(t, res.RuleRepaired)
	assert.False(t, res.RuleCreated)
	assert.Equal(t, 100, res.Score)
	assert.NotEmpty(t, res.DecisionID)

	rule, _, err := e.reg.Get(ctx, "news.example.com")
	require.NoError(t, err)
	assert.Equal(t, model.SourceTypeRepaired, rule.SourceType)
	// Failure streak reset by the repair, then the recheck pass counted.
	assert.Equal(t, 1, rule.SuccessCount)
	assert.Equal(t, 0, rule.FailureCount)

	hist, err := e.led.History(ctx, "news.example.com", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, model.EngineRepair, hist[0].Engine)
}

func TestProcess_RepairEscalatesToReview(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedRule(t, "news.example.com", map[model.Field]string{
		model.FieldTitle: `<h2>(.*?)</h2>`,
	})

	e.proposer.replies = []string{agentJSON(t, map[string]string{"title": `<h5>(.*?)</h5>`}, 0.3, "unsure", false)}
	e.valid.replies = []string{agentJSON(t, nil, 0.2, "matches nothing", true)}

	res, err := e.orch.Process(ctx, "news.example.com", testDoc)
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeNeedsReview, res.Outcome)
	assert.NotEmpty(t, res.DecisionID)
	assert.False(t, res.RuleRepaired)
	assert.Contains(t, res.MissingFields, model.FieldTitle)

	// Original locators untouched.
	rule, _, err := e.reg.Get(ctx, "news.example.com")
	require.NoError(t, err)
	assert.Equal(t, `<h2>(.*?)</h2>`, rule.Locators[model.FieldTitle])
	assert.Equal(t, 1, rule.FailureCount)
}

func TestProcess_UnknownSourceRunsDiscovery(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	good := map[string]string{}
	for f, l := range workingLocators {
		good[string(f)] = l
	}
	e.proposer.replies = []string{agentJSON(t, good, 0.9, "standard article layout", false)}
	e.valid.replies = []string{agentJSON(t, nil, 0.85, "fine", false)}

	res, err := e.orch.Process(ctx, "fresh.example.com", testDoc)
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeSaved, res.Outcome)
	assert.True(t, res.RuleCreated)
	assert.False(t, res.RuleRepaired)
	assert.NotEmpty(t, res.DecisionID)

	rule, found, err := e.reg.Get(ctx, "fresh.example.com")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.SourceTypeDiscovered, rule.SourceType)
	assert.Equal(t, 1, rule.SuccessCount)
}

func TestProcess_DiscoveryEscalatesWithoutRule(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.proposer.replies = []string{agentJSON(t, map[string]string{"title": `<h5>(.*?)</h5>`}, 0.2, "guessing", false)}
	e.valid.replies = []string{agentJSON(t, nil, 0.1, "nothing matches", true)}

	res, err := e.orch.Process(ctx, "fresh.example.com", testDoc)
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeNeedsReview, res.Outcome)
	assert.NotEmpty(t, res.DecisionID)
	assert.False(t, res.RuleCreated)

	_, found, err := e.reg.Get(ctx, "fresh.example.com")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestProcess_RecheckFailureGoesToReviewWithoutSecondEngineRun(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedRule(t, "news.example.com", map[model.Field]string{
		model.FieldTitle: `<h2>(.*?)</h2>`,
	})

	// Confident agents, but the proposed locators only find the title:
	// consensus passes (0.3·0.95 + 0.3·0.95 + 0.4·0.25 = 0.67) while the
	// recheck scores 25 — well under the router threshold.
	e.proposer.replies = []string{agentJSON(t, map[string]string{"title": `<h1>(.*?)</h1>`}, 0.95, "title only", false)}
	e.valid.replies = []string{agentJSON(t, nil, 0.95, "title pattern is right", false)}

	res, err := e.orch.Process(ctx, "news.example.com", testDoc)
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeNeedsReview, res.Outcome)
	assert.True(t, res.RuleRepaired)
	assert.Equal(t, 25, res.Score)

	// Exactly one engine invocation, one record; the recheck failure did not
	// trigger a second repair.
	hist, err := e.led.History(ctx, "news.example.com", 10)
	require.NoError(t, err)
	assert.Len(t, hist, 1)
	assert.LessOrEqual(t, len(e.proposer.reqs), 2)
}

func TestProcess_InputValidation(t *testing.T) {
	e := newEnv(t)
	_, err := e.orch.Process(context.Background(), "", testDoc)
	require.Error(t, err)
	_, err = e.orch.Process(context.Background(), "x", "")
	require.Error(t, err)
}
