package orchestrator

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextybase/timmy-kb/internal/decision"
	"github.com/nextybase/timmy-kb/internal/ledger"
	"github.com/nextybase/timmy-kb/internal/manifest"
	"github.com/nextybase/timmy-kb/internal/policy"
	"github.com/nextybase/timmy-kb/internal/qagate"
	"github.com/nextybase/timmy-kb/internal/stopcode"
	"github.com/nextybase/timmy-kb/internal/workspace"
)

func testClock() func() time.Time {
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func setupWorkspace(t *testing.T) workspace.Layout {
	t.Helper()
	layout, err := workspace.NewLayout(t.TempDir(), "acme")
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	for rel, content := range map[string]string{
		"config/config.yaml": "slug: acme\n",
		"book/README.md":     "# Acme\n",
		"book/SUMMARY.md":    "# Summary\n",
	} {
		abs, err := layout.Resolve(rel)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return layout
}

func writeQaEvidence(t *testing.T, layout workspace.Layout, status string) {
	t.Helper()
	if err := os.MkdirAll(layout.LogsDir, 0o750); err != nil {
		t.Fatalf("mkdir logs: %v", err)
	}
	body := `{"schema_version":1,"qa_status":"` + status + `","checks_executed":["golangci-lint","go test ./..."],"timestamp":"2026-08-29T11:59:00Z"}`
	if err := os.WriteFile(filepath.Join(layout.LogsDir, qagate.DefaultEvidenceFileName), []byte(body), 0o600); err != nil {
		t.Fatalf("write evidence: %v", err)
	}
}

func newRunner(layout workspace.Layout, store ledger.Store) *Runner {
	return &Runner{
		Layout: layout,
		Store:  store,
		Policy: policy.DefaultPolicy().Policy,
		Phase:  "pre_onboarding",
		Now:    testClock(),
	}
}

func TestRunAllGatesPass(t *testing.T) {
	layout := setupWorkspace(t)
	store := ledger.NewInMemoryStore()
	writeQaEvidence(t, layout, "pass")

	m, err := manifest.Build(layout, []string{"config/config.yaml", "book/README.md", "book/SUMMARY.md"})
	if err != nil {
		t.Fatalf("build manifest: %v", err)
	}
	if err := manifest.Write(layout, m); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	outcomes, err := newRunner(layout, store).Run("run-1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %+v", outcomes)
	}

	list, err := store.ListDecisions("run-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	wantGates := []string{"evidence", "skeptic", "qa_gate"}
	for i, rec := range list {
		if rec.GateName != wantGates[i] {
			t.Fatalf("gate order mismatch at %d: %s", i, rec.GateName)
		}
		if rec.Verdict != ledger.VerdictAllow {
			t.Fatalf("gate %s should be ALLOW, got %s", rec.GateName, rec.Verdict)
		}
		if !strings.Contains(rec.Rationale, "normative_verdict=PASS") {
			t.Fatalf("rationale missing normative verdict: %s", rec.Rationale)
		}
	}
}

func TestRunSkipsSkepticWithoutGoldenManifest(t *testing.T) {
	layout := setupWorkspace(t)
	store := ledger.NewInMemoryStore()
	writeQaEvidence(t, layout, "pass")

	outcomes, err := newRunner(layout, store).Run("run-1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("skeptic should be skipped on first run: %+v", outcomes)
	}
	if n, _ := store.CountDecisions("run-1", "skeptic"); n != 0 {
		t.Fatalf("skipped gate must not record: %d", n)
	}
}

func TestRunMissingQaEvidenceEndToEnd(t *testing.T) {
	layout := setupWorkspace(t)
	store := ledger.NewInMemoryStore()

	outcomes, err := newRunner(layout, store).Run("run-1")

	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected BlockedError, got %v", err)
	}
	if blocked.Gate != "qa_gate" || blocked.StopCode != stopcode.CodeQaGate {
		t.Fatalf("block mismatch: %+v", blocked)
	}
	if !strings.Contains(blocked.Error(), "stop_code=qa_gate_violation") {
		t.Fatalf("error should name the stop code: %v", blocked)
	}

	// Artifact gate passed before the QA gate blocked.
	if len(outcomes) != 2 || outcomes[0].Verdict != "PASS" || outcomes[1].Verdict != "BLOCK" {
		t.Fatalf("outcome mismatch: %+v", outcomes)
	}

	if _, ok := store.GetRun("run-1"); !ok {
		t.Fatalf("run row missing")
	}
	if n, _ := store.CountDecisions("run-1", "qa_gate"); n != 1 {
		t.Fatalf("expected exactly one qa_gate row, got %d", n)
	}

	list, _ := store.ListDecisions("run-1")
	qaRow := list[len(list)-1]
	if qaRow.Verdict != ledger.VerdictBlock {
		t.Fatalf("qa row should be BLOCK: %+v", qaRow)
	}
	var evidence struct {
		EvidenceRefs []string `json:"evidence_refs"`
	}
	if err := json.Unmarshal(qaRow.EvidenceJSON, &evidence); err != nil {
		t.Fatalf("evidence json: %v", err)
	}
	if len(evidence.EvidenceRefs) == 0 || !strings.HasPrefix(evidence.EvidenceRefs[0], "qa_gate:") {
		t.Fatalf("evidence refs mismatch: %#v", evidence.EvidenceRefs)
	}
}

func TestRunQaFailureRecordedExactlyOnce(t *testing.T) {
	layout := setupWorkspace(t)
	store := ledger.NewInMemoryStore()
	writeQaEvidence(t, layout, "fail")

	runner := newRunner(layout, store)
	_, err := runner.Run("run-1")
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected BlockedError, got %v", err)
	}

	// A retrying orchestrator re-records the same outcome; the store keeps
	// exactly one row per gate per run.
	builder := decision.NewBuilder(store)
	if err := builder.Record(decision.NormativeRecord{
		RunID:        "run-1",
		Slug:         "acme",
		GateName:     "qa_gate",
		FromState:    "reproducible",
		ToState:      "published",
		Verdict:      decision.Block(string(stopcode.CodeQaGate)),
		DecidedAt:    "2026-08-29T12:30:00Z",
		Actor:        "qa_evidence_gate",
		EvidenceRefs: blocked.EvidenceRefs,
	}); err != nil {
		t.Fatalf("retry record: %v", err)
	}

	if n, _ := store.CountDecisions("run-1", "qa_gate"); n != 1 {
		t.Fatalf("expected exactly one qa_gate row after retry, got %d", n)
	}
}

func TestRunArtifactViolationBlocksBeforeQa(t *testing.T) {
	layout := setupWorkspace(t)
	store := ledger.NewInMemoryStore()
	writeQaEvidence(t, layout, "pass")

	readme, _ := layout.Resolve("book/README.md")
	if err := os.Remove(readme); err != nil {
		t.Fatalf("remove: %v", err)
	}

	_, err := newRunner(layout, store).Run("run-1")
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected BlockedError, got %v", err)
	}
	if blocked.Gate != "evidence" || blocked.StopCode != stopcode.CodeArtifactPolicy {
		t.Fatalf("block mismatch: %+v", blocked)
	}

	if n, _ := store.CountDecisions("run-1", "qa_gate"); n != 0 {
		t.Fatalf("qa gate should not have run after an artifact BLOCK")
	}
}

func TestRunSkepticBlocksOnDrift(t *testing.T) {
	layout := setupWorkspace(t)
	store := ledger.NewInMemoryStore()
	writeQaEvidence(t, layout, "pass")

	paths := []string{"config/config.yaml", "book/README.md", "book/SUMMARY.md"}
	m, err := manifest.Build(layout, paths)
	if err != nil {
		t.Fatalf("build manifest: %v", err)
	}
	if err := manifest.Write(layout, m); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	readme, _ := layout.Resolve("book/README.md")
	if err := os.WriteFile(readme, []byte("# Acme, regenerated differently\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err = newRunner(layout, store).Run("run-1")
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected BlockedError, got %v", err)
	}
	if blocked.Gate != "skeptic" || blocked.StopCode != stopcode.CodeReproducibility {
		t.Fatalf("block mismatch: %+v", blocked)
	}
}

func TestRunUnknownPhasePropagatesWithoutDecision(t *testing.T) {
	layout := setupWorkspace(t)
	store := ledger.NewInMemoryStore()

	runner := newRunner(layout, store)
	runner.Phase = "no_such_phase"

	_, err := runner.Run("run-1")
	var unknown *policy.UnknownPhaseError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownPhaseError, got %v", err)
	}
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		t.Fatalf("configuration error must not become a BLOCK")
	}

	if list, _ := store.ListDecisions("run-1"); len(list) != 0 {
		t.Fatalf("no decision rows expected: %+v", list)
	}
}

func TestRunRejectsReusedRunID(t *testing.T) {
	layout := setupWorkspace(t)
	store := ledger.NewInMemoryStore()
	writeQaEvidence(t, layout, "pass")

	if _, err := newRunner(layout, store).Run("run-1"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := newRunner(layout, store).Run("run-1"); !errors.Is(err, ledger.ErrDuplicateRun) {
		t.Fatalf("expected ErrDuplicateRun, got %v", err)
	}
}
