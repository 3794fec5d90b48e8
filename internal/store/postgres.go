package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/rulesmith/internal/model"
)

// Pool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it
// for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS rules (
	source_id     TEXT PRIMARY KEY,
	locators      JSONB NOT NULL,
	source_type   TEXT NOT NULL,
	success_count INTEGER NOT NULL DEFAULT 0,
	failure_count INTEGER NOT NULL DEFAULT 0,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS decision_records (
	id           TEXT PRIMARY KEY,
	source_id    TEXT NOT NULL,
	engine       TEXT NOT NULL,
	document_ref TEXT NOT NULL,
	proposals    JSONB NOT NULL,
	consensus    JSONB NOT NULL,
	retry_count  INTEGER NOT NULL,
	outcome      TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_rules_success ON rules(success_count DESC, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_decisions_source ON decision_records(source_id);
CREATE INDEX IF NOT EXISTS idx_decisions_outcome ON decision_records(outcome);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetRule(ctx context.Context, sourceID string) (*model.ExtractionRule, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT source_id, locators, source_type, success_count, failure_count, updated_at
		 FROM rules WHERE source_id = $1`,
		sourceID,
	)
	return scanRulePg(row)
}

func (s *PostgresStore) UpsertRule(ctx context.Context, rule *model.ExtractionRule) error {
	locatorsJSON, err := json.Marshal(rule.Locators)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal locators")
	}
	now := time.Now().UTC()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO rules (source_id, locators, source_type, success_count, failure_count, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (source_id) DO UPDATE SET
			locators      = EXCLUDED.locators,
			source_type   = EXCLUDED.source_type,
			success_count = EXCLUDED.success_count,
			failure_count = EXCLUDED.failure_count,
			updated_at    = EXCLUDED.updated_at`,
		rule.SourceID, locatorsJSON, string(rule.SourceType),
		rule.SuccessCount, rule.FailureCount, now,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert rule %s", rule.SourceID)
	}
	rule.UpdatedAt = now
	return nil
}

func (s *PostgresStore) IncrementSuccess(ctx context.Context, sourceID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rules SET success_count = success_count + 1 WHERE source_id = $1`, sourceID)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment success for %s", sourceID)
	}
	return checkTag(tag, sourceID)
}

func (s *PostgresStore) IncrementFailure(ctx context.Context, sourceID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rules SET failure_count = failure_count + 1 WHERE source_id = $1`, sourceID)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment failure for %s", sourceID)
	}
	return checkTag(tag, sourceID)
}

func (s *PostgresStore) ResetCounters(ctx context.Context, sourceID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rules SET success_count = 0, failure_count = 0 WHERE source_id = $1`, sourceID)
	if err != nil {
		return eris.Wrapf(err, "postgres: reset counters for %s", sourceID)
	}
	return checkTag(tag, sourceID)
}

func (s *PostgresStore) TopRules(ctx context.Context, limit int) ([]model.ExtractionRule, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx,
		`SELECT source_id, locators, source_type, success_count, failure_count, updated_at
		 FROM rules ORDER BY success_count DESC, updated_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: top rules")
	}
	defer rows.Close()
	return collectRulesPg(rows)
}

func (s *PostgresStore) ListRules(ctx context.Context) ([]model.ExtractionRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_id, locators, source_type, success_count, failure_count, updated_at
		 FROM rules ORDER BY source_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rules")
	}
	defer rows.Close()
	return collectRulesPg(rows)
}

func (s *PostgresStore) AppendDecision(ctx context.Context, rec *model.DecisionRecord) error {
	proposalsJSON, err := json.Marshal(rec.Proposals)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal proposals")
	}
	consensusJSON, err := json.Marshal(rec.Consensus)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal consensus")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO decision_records (id, source_id, engine, document_ref, proposals, consensus, retry_count, outcome, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.SourceID, string(rec.Engine), rec.DocumentRef,
		proposalsJSON, consensusJSON, rec.RetryCount, string(rec.Outcome), rec.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: append decision for %s", rec.SourceID)
}

func (s *PostgresStore) GetDecision(ctx context.Context, id string) (*model.DecisionRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, source_id, engine, document_ref, proposals, consensus, retry_count, outcome, created_at
		 FROM decision_records WHERE id = $1`,
		id,
	)
	return scanDecisionPg(row)
}

func (s *PostgresStore) ListDecisions(ctx context.Context, filter DecisionFilter) ([]model.DecisionRecord, error) {
	query := `SELECT id, source_id, engine, document_ref, proposals, consensus, retry_count, outcome, created_at
	 FROM decision_records WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.SourceID != "" {
		query += ` AND source_id = ` + arg(filter.SourceID)
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ` + arg(string(filter.Outcome))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list decisions")
	}
	defer rows.Close()

	var recs []model.DecisionRecord
	for rows.Next() {
		r, err := scanDecisionPg(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *r)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list decisions iterate")
}

// helpers

func checkTag(tag pgconn.CommandTag, sourceID string) error {
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "rule %s", sourceID)
	}
	return nil
}

func scanRulePg(row pgx.Row) (*model.ExtractionRule, error) {
	var r model.ExtractionRule
	var locatorsJSON []byte
	var sourceType string

	err := row.Scan(&r.SourceID, &locatorsJSON, &sourceType, &r.SuccessCount, &r.FailureCount, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan rule")
	}

	r.SourceType = model.SourceType(sourceType)
	if err := json.Unmarshal(locatorsJSON, &r.Locators); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal locators")
	}
	return &r, nil
}

func collectRulesPg(rows pgx.Rows) ([]model.ExtractionRule, error) {
	var rules []model.ExtractionRule
	for rows.Next() {
		r, err := scanRulePg(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, eris.Wrap(rows.Err(), "postgres: iterate rules")
}

func scanDecisionPg(row pgx.Row) (*model.DecisionRecord, error) {
	var r model.DecisionRecord
	var engine, outcome string
	var proposalsJSON, consensusJSON []byte

	err := row.Scan(&r.ID, &r.SourceID, &engine, &r.DocumentRef, &proposalsJSON, &consensusJSON, &r.RetryCount, &outcome, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan decision")
	}

	r.Engine = model.EngineKind(engine)
	r.Outcome = model.Outcome(outcome)
	if err := json.Unmarshal(proposalsJSON, &r.Proposals); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal proposals")
	}
	if err := json.Unmarshal(consensusJSON, &r.Consensus); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal consensus")
	}
	return &r, nil
}
