// Package qagate blocks phase advancement unless an external test/lint run
// is proven to have executed and passed. It is the only gate with no
// filesystem scan of its own: it trusts a small JSON evidence file written
// atomically by the test-runner collaborator into the workspace logs dir.
package qagate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextybase/timmy-kb/internal/workspace"
)

// DefaultEvidenceFileName is where the test runner drops its evidence.
const DefaultEvidenceFileName = "qa_evidence.json"

// SchemaVersion is the evidence file version this gate understands.
const SchemaVersion = 1

// evidenceRefPrefix lets log scanners filter gate-specific causes.
const evidenceRefPrefix = "qa_gate: "

// Evidence is the contract with the external test runner.
type Evidence struct {
	SchemaVersion  int      `json:"schema_version"`
	QAStatus       string   `json:"qa_status"`
	ChecksExecuted []string `json:"checks_executed"`
	Timestamp      string   `json:"timestamp"`
}

// Violation is the expected gate outcome: the evidence file is absent, or
// the run it describes failed. Every evidence ref carries the qa_gate prefix.
type Violation struct {
	EvidenceRefs []string
}

func (e *Violation) Error() string {
	return "qa gate violation: " + strings.Join(e.EvidenceRefs, "; ")
}

// FormatError means the evidence file itself is broken: wrong schema
// version, empty check list, unparseable JSON. A configuration error, kept
// distinct so operators can tell "the tests failed" apart from "the evidence
// file is broken".
type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed qa evidence %s: %s", e.Path, e.Reason)
}

// Enforce reads the evidence file from the workspace logs dir and decides.
// Missing file or qa_status=fail returns a *Violation; a malformed file
// returns a *FormatError; a passing, well-formed file returns the parsed
// evidence so the caller can record a PASS decision naming the checks.
func Enforce(layout workspace.Layout, fileName string) (Evidence, error) {
	if fileName == "" {
		fileName = DefaultEvidenceFileName
	}
	path := filepath.Join(layout.LogsDir, fileName)
	rel := filepath.ToSlash(filepath.Join("logs", fileName))

	// #nosec G304 -- path is derived from the workspace layout.
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Evidence{}, &Violation{EvidenceRefs: []string{evidenceRefPrefix + "evidence file missing: " + rel}}
	}
	if err != nil {
		return Evidence{}, fmt.Errorf("read qa evidence: %w", err)
	}

	var ev Evidence
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Evidence{}, &FormatError{Path: rel, Reason: err.Error()}
	}
	if ev.SchemaVersion != SchemaVersion {
		return Evidence{}, &FormatError{Path: rel, Reason: fmt.Sprintf("schema_version %d, expected %d", ev.SchemaVersion, SchemaVersion)}
	}
	if len(ev.ChecksExecuted) == 0 {
		return Evidence{}, &FormatError{Path: rel, Reason: "checks_executed is empty"}
	}
	for _, check := range ev.ChecksExecuted {
		if strings.TrimSpace(check) == "" {
			return Evidence{}, &FormatError{Path: rel, Reason: "checks_executed contains a blank entry"}
		}
	}
	if strings.TrimSpace(ev.Timestamp) == "" {
		return Evidence{}, &FormatError{Path: rel, Reason: "timestamp is required"}
	}

	switch strings.ToLower(strings.TrimSpace(ev.QAStatus)) {
	case "pass":
		return ev, nil
	case "fail":
		refs := []string{evidenceRefPrefix + "qa_status=fail"}
		for _, check := range ev.ChecksExecuted {
			refs = append(refs, evidenceRefPrefix+"executed: "+strings.TrimSpace(check))
		}
		return Evidence{}, &Violation{EvidenceRefs: refs}
	default:
		return Evidence{}, &FormatError{Path: rel, Reason: fmt.Sprintf("qa_status %q, expected pass or fail", ev.QAStatus)}
	}
}

// PassEvidenceRefs names the executed checks for a PASS decision row.
func PassEvidenceRefs(ev Evidence) []string {
	refs := make([]string, 0, len(ev.ChecksExecuted))
	for _, check := range ev.ChecksExecuted {
		refs = append(refs, evidenceRefPrefix+"executed: "+strings.TrimSpace(check))
	}
	return refs
}
