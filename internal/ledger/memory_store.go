package ledger

import "sync"

// InMemoryStore mirrors the relational stores for tests and dry runs.
// Decisions keep insertion order so ListDecisions matches evaluation order.
type InMemoryStore struct {
	mu sync.Mutex

	runs      map[string]RunRecord
	decisions []DecisionRecord
	byGate    map[string]struct{} // run_id + "\x00" + gate_name
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		runs:   make(map[string]RunRecord),
		byGate: make(map[string]struct{}),
	}
}

func (s *InMemoryStore) WithTx(fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn((*memTx)(s))
}

func (s *InMemoryStore) StartRun(run RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*memTx)(s).startRunLocked(run)
}

func (s *InMemoryStore) GetRun(runID string) (RunRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	return run, ok
}

func (s *InMemoryStore) PutDecision(rec DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	(*memTx)(s).putDecisionLocked(rec)
	return nil
}

func (s *InMemoryStore) GetDecision(decisionID string) (DecisionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.decisions {
		if rec.DecisionID == decisionID {
			return rec, true
		}
	}
	return DecisionRecord{}, false
}

func (s *InMemoryStore) ListDecisions(runID string) ([]DecisionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []DecisionRecord{}
	for _, rec := range s.decisions {
		if rec.RunID == runID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *InMemoryStore) CountDecisions(runID, gateName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.decisions {
		if rec.RunID == runID && rec.GateName == gateName {
			n++
		}
	}
	return n, nil
}

type memTx InMemoryStore

func (t *memTx) StartRun(run RunRecord) error {
	return t.startRunLocked(run)
}

func (t *memTx) GetRun(runID string) (RunRecord, bool) {
	run, ok := t.runs[runID]
	return run, ok
}

func (t *memTx) PutDecision(rec DecisionRecord) error {
	t.putDecisionLocked(rec)
	return nil
}

func (t *memTx) GetDecision(decisionID string) (DecisionRecord, bool) {
	for _, rec := range t.decisions {
		if rec.DecisionID == decisionID {
			return rec, true
		}
	}
	return DecisionRecord{}, false
}

func (t *memTx) startRunLocked(run RunRecord) error {
	if _, exists := t.runs[run.RunID]; exists {
		return ErrDuplicateRun
	}
	t.runs[run.RunID] = run
	return nil
}

func (t *memTx) putDecisionLocked(rec DecisionRecord) {
	key := rec.RunID + "\x00" + rec.GateName
	if _, exists := t.byGate[key]; exists {
		return
	}
	t.byGate[key] = struct{}{}
	t.decisions = append(t.decisions, rec)
}
