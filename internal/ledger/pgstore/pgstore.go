// Package pgstore mirrors the per-workspace sqlite ledger into a central
// postgres database so operators can query decisions across the whole fleet
// of workspaces. Same schema, table names prefixed timmy_.
package pgstore

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/nextybase/timmy-kb/internal/ledger"
)

type Store struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ledger.Migrate(db, ledger.DBPostgres); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) WithTx(fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), &sql.TxOptions{})
	if err != nil {
		return err
	}
	wrapped := &Tx{tx: tx}
	if err := fn(wrapped); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) StartRun(run ledger.RunRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.StartRun(run) })
}

func (s *Store) GetRun(runID string) (ledger.RunRecord, bool) {
	var rec ledger.RunRecord
	row := s.db.QueryRow(`SELECT run_id, slug, started_at FROM timmy_runs WHERE run_id = $1`, runID)
	if err := row.Scan(&rec.RunID, &rec.Slug, &rec.StartedAt); err != nil {
		return ledger.RunRecord{}, false
	}
	return rec, true
}

func (s *Store) PutDecision(rec ledger.DecisionRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PutDecision(rec) })
}

func (s *Store) GetDecision(decisionID string) (ledger.DecisionRecord, bool) {
	row := s.db.QueryRow(`SELECT decision_id, run_id, slug, gate_name, from_state, to_state, verdict, subject, decided_at, evidence_json, rationale
FROM timmy_decisions WHERE decision_id = $1`, decisionID)
	rec, err := scanDecision(row)
	if err != nil {
		return ledger.DecisionRecord{}, false
	}
	return rec, true
}

func (s *Store) ListDecisions(runID string) ([]ledger.DecisionRecord, error) {
	rows, err := s.db.Query(`SELECT decision_id, run_id, slug, gate_name, from_state, to_state, verdict, subject, decided_at, evidence_json, rationale
FROM timmy_decisions WHERE run_id = $1 ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.DecisionRecord{}
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) CountDecisions(runID, gateName string) (int, error) {
	var n int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM timmy_decisions WHERE run_id = $1 AND gate_name = $2`, runID, gateName)
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

type Tx struct {
	tx *sql.Tx
}

func (t *Tx) StartRun(run ledger.RunRecord) error {
	if _, exists := t.GetRun(run.RunID); exists {
		return ledger.ErrDuplicateRun
	}
	_, err := t.tx.Exec(
		`INSERT INTO timmy_runs(run_id, slug, started_at) VALUES($1,$2,$3)`,
		run.RunID,
		run.Slug,
		run.StartedAt,
	)
	return err
}

func (t *Tx) GetRun(runID string) (ledger.RunRecord, bool) {
	var rec ledger.RunRecord
	row := t.tx.QueryRow(`SELECT run_id, slug, started_at FROM timmy_runs WHERE run_id = $1`, runID)
	if err := row.Scan(&rec.RunID, &rec.Slug, &rec.StartedAt); err != nil {
		return ledger.RunRecord{}, false
	}
	return rec, true
}

func (t *Tx) PutDecision(rec ledger.DecisionRecord) error {
	_, err := t.tx.Exec(
		`INSERT INTO timmy_decisions(decision_id, run_id, slug, gate_name, from_state, to_state, verdict, subject, decided_at, evidence_json, rationale)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT(run_id, gate_name) DO NOTHING`,
		rec.DecisionID,
		rec.RunID,
		rec.Slug,
		rec.GateName,
		rec.FromState,
		rec.ToState,
		rec.Verdict,
		rec.Subject,
		rec.DecidedAt,
		string(rec.EvidenceJSON),
		rec.Rationale,
	)
	return err
}

func (t *Tx) GetDecision(decisionID string) (ledger.DecisionRecord, bool) {
	row := t.tx.QueryRow(`SELECT decision_id, run_id, slug, gate_name, from_state, to_state, verdict, subject, decided_at, evidence_json, rationale
FROM timmy_decisions WHERE decision_id = $1`, decisionID)
	rec, err := scanDecision(row)
	if err != nil {
		return ledger.DecisionRecord{}, false
	}
	return rec, true
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDecision(row scanner) (ledger.DecisionRecord, error) {
	var rec ledger.DecisionRecord
	var evidence string
	if err := row.Scan(
		&rec.DecisionID,
		&rec.RunID,
		&rec.Slug,
		&rec.GateName,
		&rec.FromState,
		&rec.ToState,
		&rec.Verdict,
		&rec.Subject,
		&rec.DecidedAt,
		&evidence,
		&rec.Rationale,
	); err != nil {
		return ledger.DecisionRecord{}, err
	}
	rec.EvidenceJSON = []byte(evidence)
	return rec, nil
}
