// Package orchestrator sequences the phase gates for one workspace: start a
// run, evaluate each gate, push every outcome through the decision builder,
// and abort with the mapped stop code on the first BLOCK.
package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/nextybase/timmy-kb/internal/decision"
	"github.com/nextybase/timmy-kb/internal/ledger"
	"github.com/nextybase/timmy-kb/internal/manifest"
	"github.com/nextybase/timmy-kb/internal/policy"
	"github.com/nextybase/timmy-kb/internal/qagate"
	"github.com/nextybase/timmy-kb/internal/stopcode"
	"github.com/nextybase/timmy-kb/internal/workspace"
)

// BlockedError is the typed failure a BLOCK yields alongside its ledger row.
// The message names the stop code and summarizes the evidence so CLI/CI
// layers can surface it and map it to a stable exit status.
type BlockedError struct {
	Gate         string
	StopCode     stopcode.Code
	EvidenceRefs []string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("gate %s blocked (stop_code=%s): %s", e.Gate, e.StopCode, strings.Join(e.EvidenceRefs, "; "))
}

// GateOutcome is one evaluated gate, normative vocabulary.
type GateOutcome struct {
	Gate     string
	Verdict  string
	StopCode stopcode.Code
}

type Runner struct {
	Layout workspace.Layout
	Store  ledger.Store
	Policy policy.Policy
	// Phase selects the artifact set under test, e.g. "pre_onboarding".
	Phase string
	// QaEvidenceFile overrides the default evidence filename when set.
	QaEvidenceFile string

	Now  func() time.Time
	Logf func(format string, args ...any)
}

type gateStep struct {
	name  string
	actor string
	from  string
	to    string
	// run returns PASS evidence refs, a policy violation, or a fatal error.
	// skipped means the gate had nothing to evaluate and records no decision.
	run func() (refs []string, skipped bool, err error)
}

// Run evaluates the gate sequence under an already-started ledger. One
// StartRun per invocation; decisions accumulate under it in evaluation
// order. The first BLOCK stops the sequence; unknown errors propagate
// without a decision row.
func (r *Runner) Run(runID string) ([]GateOutcome, error) {
	if err := workspace.ValidateSlug(r.Layout.Slug); err != nil {
		return nil, err
	}

	startedAt := r.now().UTC().Format(time.RFC3339)
	if err := r.Store.StartRun(ledger.RunRecord{RunID: runID, Slug: r.Layout.Slug, StartedAt: startedAt}); err != nil {
		return nil, fmt.Errorf("start run %s: %w", runID, err)
	}
	r.logf("run %s started for workspace %s phase %s", runID, r.Layout.Slug, r.Phase)

	builder := decision.NewBuilder(r.Store)
	outcomes := []GateOutcome{}

	for _, step := range r.steps() {
		refs, skipped, err := step.run()
		if skipped && err == nil {
			r.logf("gate %s skipped: nothing to evaluate", step.name)
			continue
		}

		decidedAt := r.now().UTC().Format(time.RFC3339)

		if err == nil {
			if err := builder.Record(decision.NormativeRecord{
				RunID:        runID,
				Slug:         r.Layout.Slug,
				GateName:     step.name,
				FromState:    step.from,
				ToState:      step.to,
				Verdict:      decision.Pass(),
				DecidedAt:    decidedAt,
				Actor:        step.actor,
				EvidenceRefs: refs,
			}); err != nil {
				return outcomes, err
			}
			outcomes = append(outcomes, GateOutcome{Gate: step.name, Verdict: "PASS"})
			r.logf("gate %s passed", step.name)
			continue
		}

		verdict, code, blockRefs, known := stopcode.ForError(err)
		if !known {
			// Configuration errors and genuine surprises are not gate
			// outcomes; they leave no decision row and propagate as-is.
			return outcomes, err
		}

		if recErr := builder.Record(decision.NormativeRecord{
			RunID:        runID,
			Slug:         r.Layout.Slug,
			GateName:     step.name,
			FromState:    step.from,
			ToState:      step.to,
			Verdict:      verdict,
			DecidedAt:    decidedAt,
			Actor:        step.actor,
			EvidenceRefs: blockRefs,
		}); recErr != nil {
			return outcomes, recErr
		}
		outcomes = append(outcomes, GateOutcome{Gate: step.name, Verdict: "BLOCK", StopCode: code})
		r.logf("gate %s blocked: stop_code=%s", step.name, code)

		return outcomes, &BlockedError{Gate: step.name, StopCode: code, EvidenceRefs: blockRefs}
	}

	return outcomes, nil
}

func (r *Runner) steps() []gateStep {
	return []gateStep{
		{
			name:  "evidence",
			actor: "artifact_policy_checker",
			from:  "bootstrap",
			to:    "structured",
			run: func() ([]string, bool, error) {
				if err := policy.EnforceCoreArtifacts(r.Policy, r.Phase, r.Layout); err != nil {
					return nil, false, err
				}
				return r.artifactPassRefs(), false, nil
			},
		},
		{
			name:  "skeptic",
			actor: "manifest_skeptic",
			from:  "structured",
			to:    "reproducible",
			run: func() ([]string, bool, error) {
				checked, err := manifest.Enforce(r.Layout, r.artifactPaths())
				if err != nil {
					return nil, false, err
				}
				if !checked {
					return nil, true, nil
				}
				return []string{"golden manifest matched: logs/" + manifest.GoldenFileName}, false, nil
			},
		},
		{
			name:  "qa_gate",
			actor: "qa_evidence_gate",
			from:  "reproducible",
			to:    "published",
			run: func() ([]string, bool, error) {
				ev, err := qagate.Enforce(r.Layout, r.QaEvidenceFile)
				if err != nil {
					return nil, false, err
				}
				return qagate.PassEvidenceRefs(ev), false, nil
			},
		},
	}
}

func (r *Runner) artifactPaths() []string {
	declared, ok := r.Policy.PhaseFor(r.Phase)
	if !ok {
		return nil
	}
	paths := make([]string, 0, len(declared.Artifacts))
	for _, rule := range declared.Artifacts {
		paths = append(paths, rule.Path)
	}
	return paths
}

func (r *Runner) artifactPassRefs() []string {
	paths := r.artifactPaths()
	refs := make([]string, 0, len(paths))
	for _, p := range paths {
		refs = append(refs, "checked: "+p)
	}
	return refs
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) logf(format string, args ...any) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}
