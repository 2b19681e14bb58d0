package ledger

import "errors"

// Canonical verdicts as persisted. Gates reason in the normative PASS/BLOCK
// vocabulary; the builder projects PASS to ALLOW before anything reaches a
// store, and the normative form is preserved inside evidence_json.
const (
	VerdictAllow = "ALLOW"
	VerdictBlock = "BLOCK"
)

// ErrDuplicateRun is returned by StartRun when the run_id was already
// recorded in this ledger. Reusing a run_id is a caller bug, never merged.
var ErrDuplicateRun = errors.New("run_id already recorded")

// RunRecord is one pipeline invocation attempt. Immutable once written.
type RunRecord struct {
	RunID     string
	Slug      string
	StartedAt string
}

// DecisionRecord is one gate evaluation as persisted. The store treats it as
// an opaque row; all validation happens in the decision builder before the
// record gets here.
type DecisionRecord struct {
	DecisionID   string
	RunID        string
	Slug         string
	GateName     string
	FromState    string
	ToState      string
	Verdict      string
	Subject      string
	DecidedAt    string
	EvidenceJSON []byte
	Rationale    string
}

// Store is the append-only audit log for one workspace. Rows are never
// updated or deleted; PutDecision is insert-or-ignore on (run_id, gate_name)
// so a retried gate cannot duplicate its row.
type Store interface {
	WithTx(fn func(Tx) error) error

	StartRun(run RunRecord) error
	GetRun(runID string) (RunRecord, bool)

	PutDecision(rec DecisionRecord) error
	GetDecision(decisionID string) (DecisionRecord, bool)
	ListDecisions(runID string) ([]DecisionRecord, error)
	CountDecisions(runID, gateName string) (int, error)
}

type Tx interface {
	StartRun(run RunRecord) error
	GetRun(runID string) (RunRecord, bool)

	PutDecision(rec DecisionRecord) error
	GetDecision(decisionID string) (DecisionRecord, bool)
}
