// Package stopcode is the single source of truth mapping violation types to
// (verdict, stop code) pairs. Every orchestrator goes through ForError, so
// the same failure always yields the same audit content and the same process
// exit behavior.
package stopcode

import (
	"errors"

	"github.com/nextybase/timmy-kb/internal/decision"
	"github.com/nextybase/timmy-kb/internal/manifest"
	"github.com/nextybase/timmy-kb/internal/policy"
	"github.com/nextybase/timmy-kb/internal/qagate"
)

type Code string

const (
	CodeArtifactPolicy  Code = "artifact_policy_violation"
	CodeQaGate          Code = "qa_gate_violation"
	CodeReproducibility Code = "reproducibility_violation"
)

// ForError maps a known policy violation to its BLOCK verdict, stop code and
// evidence refs. Unknown errors return ok=false and must propagate unchanged:
// inventing a stop code for an unrecognized failure would misrepresent the
// audit trail.
func ForError(err error) (verdict decision.Verdict, code Code, refs []string, ok bool) {
	var artifact *policy.ArtifactViolation
	if errors.As(err, &artifact) {
		return decision.Block(string(CodeArtifactPolicy)), CodeArtifactPolicy, artifact.EvidenceRefs, true
	}

	var qa *qagate.Violation
	if errors.As(err, &qa) {
		return decision.Block(string(CodeQaGate)), CodeQaGate, qa.EvidenceRefs, true
	}

	var repro *manifest.Violation
	if errors.As(err, &repro) {
		return decision.Block(string(CodeReproducibility)), CodeReproducibility, repro.EvidenceRefs, true
	}

	return decision.Verdict{}, "", nil, false
}

// ExitCode maps a stop code to the process exit status CI layers rely on.
// Stable: changing a value here breaks downstream pipelines.
func ExitCode(code Code) int {
	switch code {
	case CodeArtifactPolicy:
		return 3
	case CodeQaGate:
		return 4
	case CodeReproducibility:
		return 5
	default:
		return 1
	}
}
