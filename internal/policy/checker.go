// Package policy declares and enforces the per-phase artifact policy: which
// output files a phase must have produced, and in what format. The checker
// only tests existence and kind; byte-level reproducibility is the manifest
// gate's job.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nextybase/timmy-kb/internal/workspace"
)

// ArtifactViolation is the gate outcome when one or more declared artifacts
// are missing or downgraded. It carries the full evidence list; callers turn
// it into a BLOCK decision.
type ArtifactViolation struct {
	Phase        string
	EvidenceRefs []string
}

func (e *ArtifactViolation) Error() string {
	return fmt.Sprintf("artifact policy violation in phase %s: %s", e.Phase, strings.Join(e.EvidenceRefs, "; "))
}

// ErrUnknownPhase is a configuration error: the caller asked about a phase
// the policy does not declare. Not a gate outcome.
type UnknownPhaseError struct {
	Phase    string
	PolicyID string
}

func (e *UnknownPhaseError) Error() string {
	return fmt.Sprintf("phase %q not declared by artifact policy %s", e.Phase, e.PolicyID)
}

// EnforceCoreArtifacts checks every artifact the policy declares for phase
// against the workspace. It returns nil when all artifacts are present in
// their expected kind, an *ArtifactViolation listing every failure otherwise.
// Path resolution failures are configuration errors and fail fast.
func EnforceCoreArtifacts(p Policy, phase string, layout workspace.Layout) error {
	declared, ok := p.PhaseFor(phase)
	if !ok {
		return &UnknownPhaseError{Phase: phase, PolicyID: p.PolicyID}
	}

	evidence := []string{}
	for _, rule := range declared.Artifacts {
		abs, err := layout.Resolve(rule.Path)
		if err != nil {
			return fmt.Errorf("artifact policy %s: %w", p.PolicyID, err)
		}

		info, err := os.Stat(abs)
		switch {
		case err != nil && os.IsNotExist(err):
			evidence = append(evidence, missingEvidence(rule, abs))
			continue
		case err != nil:
			return fmt.Errorf("inspect artifact %s: %w", rule.Path, err)
		case info.IsDir():
			evidence = append(evidence, fmt.Sprintf("not a file: %s", rule.Path))
			continue
		}

		if !kindMatches(rule, abs) {
			evidence = append(evidence, fmt.Sprintf("kind mismatch: %s expected %s", rule.Path, rule.Kind))
		}
	}

	if len(evidence) > 0 {
		return &ArtifactViolation{Phase: phase, EvidenceRefs: evidence}
	}
	return nil
}

// missingEvidence reports a missing artifact, naming any same-stem sibling
// that looks like a silent format downgrade (README.txt where README.md was
// required).
func missingEvidence(rule ArtifactRule, abs string) string {
	stem := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	entries, err := os.ReadDir(filepath.Dir(abs))
	if err != nil {
		return "missing: " + rule.Path
	}

	found := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name != filepath.Base(abs) && strings.TrimSuffix(name, filepath.Ext(name)) == stem {
			found = append(found, name)
		}
	}
	if len(found) == 0 {
		return "missing: " + rule.Path
	}
	sort.Strings(found)
	downgraded := filepath.ToSlash(filepath.Join(filepath.Dir(filepath.FromSlash(rule.Path)), found[0]))
	return fmt.Sprintf("missing: %s downgraded to %s", rule.Path, downgraded)
}

func kindMatches(rule ArtifactRule, abs string) bool {
	allowed := extensionsForKind(rule.Kind)
	if allowed == nil {
		// KindAny: existence is enough.
		return true
	}
	ext := strings.ToLower(filepath.Ext(abs))
	for _, a := range allowed {
		if ext == a {
			return true
		}
	}
	return false
}
