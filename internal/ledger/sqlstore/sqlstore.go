// Package sqlstore is the per-workspace ledger: one sqlite file under the
// workspace logs directory holding the runs and decisions tables.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/nextybase/timmy-kb/internal/ledger"
	"github.com/nextybase/timmy-kb/internal/workspace"
)

// LedgerFileName is the ledger's location inside the workspace logs dir.
const LedgerFileName = "ledger.db"

type Store struct {
	db *sql.DB
}

// OpenWorkspace opens (creating schema if absent) the ledger for one
// workspace. Idempotent: repeated opens never alter existing rows or
// duplicate schema objects.
func OpenWorkspace(layout workspace.Layout) (*Store, error) {
	if err := os.MkdirAll(layout.LogsDir, 0o750); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}
	s, err := OpenSQLite("file:" + filepath.Join(layout.LogsDir, LedgerFileName))
	if err != nil {
		return nil, err
	}
	if err := ledger.Migrate(s.db, ledger.DBSQLite); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return s, nil
}

func OpenSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

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
	row := s.db.QueryRow(`SELECT run_id, slug, started_at FROM runs WHERE run_id = ?`, runID)
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
FROM decisions WHERE decision_id = ?`, decisionID)
	rec, err := scanDecision(row)
	if err != nil {
		return ledger.DecisionRecord{}, false
	}
	return rec, true
}

// ListDecisions returns all decisions for a run in evaluation order.
func (s *Store) ListDecisions(runID string) ([]ledger.DecisionRecord, error) {
	rows, err := s.db.Query(`SELECT decision_id, run_id, slug, gate_name, from_state, to_state, verdict, subject, decided_at, evidence_json, rationale
FROM decisions WHERE run_id = ? ORDER BY rowid ASC`, runID)
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
	row := s.db.QueryRow(`SELECT COUNT(*) FROM decisions WHERE run_id = ? AND gate_name = ?`, runID, gateName)
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
		`INSERT INTO runs(run_id, slug, started_at) VALUES(?,?,?)`,
		run.RunID,
		run.Slug,
		run.StartedAt,
	)
	return err
}

func (t *Tx) GetRun(runID string) (ledger.RunRecord, bool) {
	var rec ledger.RunRecord
	row := t.tx.QueryRow(`SELECT run_id, slug, started_at FROM runs WHERE run_id = ?`, runID)
	if err := row.Scan(&rec.RunID, &rec.Slug, &rec.StartedAt); err != nil {
		return ledger.RunRecord{}, false
	}
	return rec, true
}

func (t *Tx) PutDecision(rec ledger.DecisionRecord) error {
	_, err := t.tx.Exec(
		`INSERT INTO decisions(decision_id, run_id, slug, gate_name, from_state, to_state, verdict, subject, decided_at, evidence_json, rationale)
VALUES(?,?,?,?,?,?,?,?,?,?,?)
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
FROM decisions WHERE decision_id = ?`, decisionID)
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
