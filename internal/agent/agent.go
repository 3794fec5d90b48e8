// Package agent puts the inference providers behind one small interface so the
// engines never see provider SDKs. Each agent carries its own rate limiter and
// circuit breaker; every call gets a hard timeout.
package agent

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/rulesmith/internal/model"
	"github.com/sells-group/rulesmith/internal/resilience"
	"github.com/sells-group/rulesmith/pkg/anthropic"
	"github.com/sells-group/rulesmith/pkg/perplexity"
)

// Request is a single completion request.
type Request struct {
	System string
	Prompt string
}

// Response is the raw text an agent produced.
type Response struct {
	Agent string // provider/model label
	Text  string
}

// Agent performs one inference call per Complete.
type Agent interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Config holds the knobs shared by all agents.
type Config struct {
	// Timeout bounds each inference call. Default: 30s.
	Timeout time.Duration
	// RatePerSec throttles calls per agent. Default: 2.
	RatePerSec float64
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 2
	}
	return c
}

// guard bundles the limiter and breaker every agent call goes through.
type guard struct {
	timeout time.Duration
	limiter *rate.Limiter
	circuit *resilience.Circuit
}

func newGuard(cfg Config) guard {
	cfg = cfg.withDefaults()
	return guard{
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		circuit: resilience.NewCircuit(resilience.CircuitConfig{}),
	}
}

func (g guard) run(ctx context.Context, name string, fn func(ctx context.Context) (string, error)) (*Response, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrapf(err, "agent: %s rate limit wait", name)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	text, err := resilience.Call(ctx, g.circuit, fn)
	if err != nil {
		return nil, err
	}
	return &Response{Agent: name, Text: text}, nil
}

// anthropicAgent runs completions against one Anthropic model.
type anthropicAgent struct {
	client anthropic.Client
	model  string
	guard  guard
}

// NewAnthropic creates an agent bound to a specific Anthropic model.
func NewAnthropic(client anthropic.Client, model string, cfg Config) Agent {
	return &anthropicAgent{client: client, model: model, guard: newGuard(cfg)}
}

func (a *anthropicAgent) Name() string { return "anthropic/" + a.model }

func (a *anthropicAgent) Complete(ctx context.Context, req Request) (*Response, error) {
	return a.guard.run(ctx, a.Name(), func(ctx context.Context) (string, error) {
		resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     a.model,
			MaxTokens: 2048,
			System:    req.System,
			Messages:  []anthropic.Message{{Role: "user", Content: req.Prompt}},
		})
		if err != nil {
			return "", err
		}
		resp.Usage.LogCost(a.model, "agent")
		return resp.Text, nil
	})
}

// perplexityAgent runs completions against the Perplexity chat API. Used as
// the fallback proposer when the primary fails.
type perplexityAgent struct {
	client perplexity.Client
	model  string
	guard  guard
}

// NewPerplexity creates an agent backed by the Perplexity chat API.
func NewPerplexity(client perplexity.Client, model string, cfg Config) Agent {
	return &perplexityAgent{client: client, model: model, guard: newGuard(cfg)}
}

func (a *perplexityAgent) Name() string { return "perplexity/" + a.model }

func (a *perplexityAgent) Complete(ctx context.Context, req Request) (*Response, error) {
	return a.guard.run(ctx, a.Name(), func(ctx context.Context) (string, error) {
		msgs := []perplexity.Message{}
		if req.System != "" {
			msgs = append(msgs, perplexity.Message{Role: "system", Content: req.System})
		}
		msgs = append(msgs, perplexity.Message{Role: "user", Content: req.Prompt})

		resp, err := a.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
			Model:    a.model,
			Messages: msgs,
		})
		if err != nil {
			return "", err
		}
		return resp.Text(), nil
	})
}

// Pair is a primary agent with an optional fallback. The fallback fires at
// most once per Propose, on primary transport failure or malformed output.
type Pair struct {
	Primary  Agent
	Fallback Agent
}

// Propose runs the primary agent and parses its output into a proposal. When
// the primary transport fails or produces unparseable output and a fallback is
// configured, the fallback is tried exactly once. A malformed result from the
// last agent tried degrades to a zero-confidence proposal rather than an
// error; an error is returned only when no agent produced any output.
func (p Pair) Propose(ctx context.Context, role model.AgentRole, req Request) (*AgentResult, error) {
	resp, primaryErr := p.Primary.Complete(ctx, req)
	if primaryErr == nil {
		res := Parse(role, resp.Agent, resp.Text)
		if res.OK || p.Fallback == nil {
			return res, nil
		}
		zap.L().Warn("primary agent output malformed, trying fallback",
			zap.String("role", string(role)),
			zap.String("primary", p.Primary.Name()),
			zap.String("fallback", p.Fallback.Name()),
		)
	} else {
		if p.Fallback == nil {
			return nil, eris.Wrapf(primaryErr, "agent: %s %s call", p.Primary.Name(), role)
		}
		zap.L().Warn("primary agent failed, trying fallback",
			zap.String("role", string(role)),
			zap.String("primary", p.Primary.Name()),
			zap.String("fallback", p.Fallback.Name()),
			zap.Error(primaryErr),
		)
	}

	resp, err := p.Fallback.Complete(ctx, req)
	if err != nil {
		if primaryErr != nil {
			return nil, eris.Wrapf(err, "agent: %s %s call (primary also failed: %v)", p.Fallback.Name(), role, primaryErr)
		}
		return nil, eris.Wrapf(err, "agent: %s %s call", p.Fallback.Name(), role)
	}
	return Parse(role, resp.Agent, resp.Text), nil
}
