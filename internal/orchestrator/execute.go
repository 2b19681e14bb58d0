package orchestrator

import (
	"fmt"
	"path/filepath"

	"github.com/nextybase/timmy-kb/internal/config"
	"github.com/nextybase/timmy-kb/internal/lease"
	"github.com/nextybase/timmy-kb/internal/ledger"
	"github.com/nextybase/timmy-kb/internal/ledger/pgstore"
	"github.com/nextybase/timmy-kb/internal/ledger/sqlstore"
	"github.com/nextybase/timmy-kb/internal/policy"
	"github.com/nextybase/timmy-kb/internal/workspace"
)

// LockFileName is the workspace lease location inside the logs dir.
const LockFileName = "workspace.lock"

// Execute runs the full gate sequence for the configured workspace: acquire
// the workspace lease, open the ledger (plus optional mirror), start the run
// and evaluate gates. The lease is held for the whole invocation and
// released on every exit path.
func Execute(cfg config.Config, phase, runID string, logf func(string, ...any)) ([]GateOutcome, error) {
	layout, err := workspace.NewLayout(cfg.WorkspaceRoot, cfg.Slug)
	if err != nil {
		return nil, err
	}

	timeout, err := cfg.ParsedLeaseTimeout()
	if err != nil {
		return nil, err
	}
	l, err := lease.Acquire(filepath.Join(layout.LogsDir, LockFileName), timeout)
	if err != nil {
		return nil, err
	}
	defer func() { _ = l.Release() }()

	store, err := sqlstore.OpenWorkspace(layout)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer func() { _ = store.Close() }()

	var ledgerStore ledger.Store = store
	if cfg.Mirror.Driver == "postgres" {
		mirror, err := pgstore.OpenPostgres(cfg.Mirror.DSN)
		if err != nil {
			return nil, fmt.Errorf("open mirror ledger: %w", err)
		}
		defer func() { _ = mirror.Close() }()
		ledgerStore = &mirroredStore{primary: store, mirror: mirror}
	}

	loaded := policy.DefaultPolicy()
	if cfg.PolicyPath != "" {
		loaded, err = policy.LoadPolicy(cfg.PolicyPath)
		if err != nil {
			return nil, err
		}
	}
	if logf != nil {
		logf("artifact policy %s (%s)", loaded.Policy.PolicyID, loaded.Hash)
	}

	runner := &Runner{
		Layout:         layout,
		Store:          ledgerStore,
		Policy:         loaded.Policy,
		Phase:          phase,
		QaEvidenceFile: cfg.QaEvidence,
		Logf:           logf,
	}
	return runner.Run(runID)
}

// mirroredStore duplicates writes into the central postgres ledger while
// serving all reads from the workspace's own sqlite file. Mirror write
// failures are fatal like any other ledger write failure.
type mirroredStore struct {
	primary ledger.Store
	mirror  ledger.Store
}

func (s *mirroredStore) WithTx(fn func(ledger.Tx) error) error {
	return s.primary.WithTx(fn)
}

func (s *mirroredStore) StartRun(run ledger.RunRecord) error {
	if err := s.primary.StartRun(run); err != nil {
		return err
	}
	return s.mirror.StartRun(run)
}

func (s *mirroredStore) GetRun(runID string) (ledger.RunRecord, bool) {
	return s.primary.GetRun(runID)
}

func (s *mirroredStore) PutDecision(rec ledger.DecisionRecord) error {
	if err := s.primary.PutDecision(rec); err != nil {
		return err
	}
	return s.mirror.PutDecision(rec)
}

func (s *mirroredStore) GetDecision(decisionID string) (ledger.DecisionRecord, bool) {
	return s.primary.GetDecision(decisionID)
}

func (s *mirroredStore) ListDecisions(runID string) ([]ledger.DecisionRecord, error) {
	return s.primary.ListDecisions(runID)
}

func (s *mirroredStore) CountDecisions(runID, gateName string) (int, error) {
	return s.primary.CountDecisions(runID, gateName)
}
