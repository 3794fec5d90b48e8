package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/rulesmith/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given DSN and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Single connection: serializes writes, keeps the session pragmas below
	// in effect, and keeps :memory: databases from splitting across pool
	// connections.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS rules (
	source_id     TEXT PRIMARY KEY,
	locators      TEXT NOT NULL,
	source_type   TEXT NOT NULL,
	success_count INTEGER NOT NULL DEFAULT 0,
	failure_count INTEGER NOT NULL DEFAULT 0,
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS decision_records (
	id           TEXT PRIMARY KEY,
	source_id    TEXT NOT NULL,
	engine       TEXT NOT NULL,
	document_ref TEXT NOT NULL,
	proposals    TEXT NOT NULL,
	consensus    TEXT NOT NULL,
	retry_count  INTEGER NOT NULL,
	outcome      TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_rules_success ON rules(success_count DESC, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_decisions_source ON decision_records(source_id);
CREATE INDEX IF NOT EXISTS idx_decisions_outcome ON decision_records(outcome);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetRule(ctx context.Context, sourceID string) (*model.ExtractionRule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT source_id, locators, source_type, success_count, failure_count, updated_at
		 FROM rules WHERE source_id = ?`,
		sourceID,
	)
	return scanRule(row)
}

func (s *SQLiteStore) UpsertRule(ctx context.Context, rule *model.ExtractionRule) error {
	locatorsJSON, err := json.Marshal(rule.Locators)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal locators")
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rules (source_id, locators, source_type, success_count, failure_count, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_id) DO UPDATE SET
			locators      = excluded.locators,
			source_type   = excluded.source_type,
			success_count = excluded.success_count,
			failure_count = excluded.failure_count,
			updated_at    = excluded.updated_at`,
		rule.SourceID, string(locatorsJSON), string(rule.SourceType),
		rule.SuccessCount, rule.FailureCount, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert rule %s", rule.SourceID)
	}
	rule.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) IncrementSuccess(ctx context.Context, sourceID string) error {
	return s.bumpCounter(ctx, sourceID, "success_count")
}

func (s *SQLiteStore) IncrementFailure(ctx context.Context, sourceID string) error {
	return s.bumpCounter(ctx, sourceID, "failure_count")
}

func (s *SQLiteStore) bumpCounter(ctx context.Context, sourceID, column string) error {
	// column is one of two compile-time constants, never user input.
	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET `+column+` = `+column+` + 1 WHERE source_id = ?`,
		sourceID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment %s for %s", column, sourceID)
	}
	return checkRowsAffected(res, sourceID)
}

func (s *SQLiteStore) ResetCounters(ctx context.Context, sourceID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET success_count = 0, failure_count = 0 WHERE source_id = ?`,
		sourceID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: reset counters for %s", sourceID)
	}
	return checkRowsAffected(res, sourceID)
}

func (s *SQLiteStore) TopRules(ctx context.Context, limit int) ([]model.ExtractionRule, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, locators, source_type, success_count, failure_count, updated_at
		 FROM rules ORDER BY success_count DESC, updated_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: top rules")
	}
	defer rows.Close()
	return collectRules(rows)
}

func (s *SQLiteStore) ListRules(ctx context.Context) ([]model.ExtractionRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, locators, source_type, success_count, failure_count, updated_at
		 FROM rules ORDER BY source_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rules")
	}
	defer rows.Close()
	return collectRules(rows)
}

func (s *SQLiteStore) AppendDecision(ctx context.Context, rec *model.DecisionRecord) error {
	proposalsJSON, err := json.Marshal(rec.Proposals)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal proposals")
	}
	consensusJSON, err := json.Marshal(rec.Consensus)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal consensus")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decision_records (id, source_id, engine, document_ref, proposals, consensus, retry_count, outcome, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SourceID, string(rec.Engine), rec.DocumentRef,
		string(proposalsJSON), string(consensusJSON), rec.RetryCount, string(rec.Outcome), rec.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: append decision for %s", rec.SourceID)
}

func (s *SQLiteStore) GetDecision(ctx context.Context, id string) (*model.DecisionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_id, engine, document_ref, proposals, consensus, retry_count, outcome, created_at
		 FROM decision_records WHERE id = ?`,
		id,
	)
	return scanDecision(row)
}

func (s *SQLiteStore) ListDecisions(ctx context.Context, filter DecisionFilter) ([]model.DecisionRecord, error) {
	query := `SELECT id, source_id, engine, document_ref, proposals, consensus, retry_count, outcome, created_at
	 FROM decision_records WHERE 1=1`
	var args []any

	if filter.SourceID != "" {
		query += ` AND source_id = ?`
		args = append(args, filter.SourceID)
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, string(filter.Outcome))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list decisions")
	}
	defer rows.Close()

	var recs []model.DecisionRecord
	for rows.Next() {
		r, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *r)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list decisions iterate")
}

// helpers

func checkRowsAffected(res sql.Result, sourceID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "rule %s", sourceID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRule(row scannable) (*model.ExtractionRule, error) {
	var r model.ExtractionRule
	var locatorsJSON string
	var sourceType string

	err := row.Scan(&r.SourceID, &locatorsJSON, &sourceType, &r.SuccessCount, &r.FailureCount, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan rule")
	}

	r.SourceType = model.SourceType(sourceType)
	if err := json.Unmarshal([]byte(locatorsJSON), &r.Locators); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal locators")
	}
	return &r, nil
}

func collectRules(rows *sql.Rows) ([]model.ExtractionRule, error) {
	var rules []model.ExtractionRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, eris.Wrap(rows.Err(), "sqlite: iterate rules")
}

func scanDecision(row scannable) (*model.DecisionRecord, error) {
	var r model.DecisionRecord
	var engine, outcome string
	var proposalsJSON, consensusJSON string

	err := row.Scan(&r.ID, &r.SourceID, &engine, &r.DocumentRef, &proposalsJSON, &consensusJSON, &r.RetryCount, &outcome, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan decision")
	}

	r.Engine = model.EngineKind(engine)
	r.Outcome = model.Outcome(outcome)
	if err := json.Unmarshal([]byte(proposalsJSON), &r.Proposals); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal proposals")
	}
	if err := json.Unmarshal([]byte(consensusJSON), &r.Consensus); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal consensus")
	}
	return &r, nil
}
