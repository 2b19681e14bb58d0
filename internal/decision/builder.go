// Package decision normalizes gate verdicts into ledger rows. The Builder is
// the single chokepoint in front of the store: every gate outcome passes its
// validation before anything persists, and no gate calls PutDecision itself.
package decision

import (
	"fmt"
	"strings"

	"github.com/nextybase/timmy-kb/internal/crypto"
	"github.com/nextybase/timmy-kb/internal/ledger"
)

// DefaultSubject is the entity most gates evaluate.
const DefaultSubject = "workspace"

// NormativeRecord is the pre-persistence, domain-level form of a decision.
type NormativeRecord struct {
	RunID     string
	Slug      string
	GateName  string
	FromState string
	ToState   string
	Verdict   Verdict
	Subject   string
	DecidedAt string

	// Actor identifies the gate code making the call.
	Actor string
	// EvidenceRefs point at the concrete proof behind the verdict: paths,
	// hash mismatches, missing check names.
	EvidenceRefs []string
	// Conditions are caveats attached to a PASS. Defaulted to empty.
	Conditions []string
}

// ValidationError reports a programmer-contract violation in the calling
// gate. It is raised before any persistence occurs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid normative decision: %s %s", e.Field, e.Reason)
}

type Builder struct {
	Store ledger.Store
}

func NewBuilder(store ledger.Store) *Builder {
	return &Builder{Store: store}
}

// Record validates rec, composes its evidence payload and rationale, and
// writes the resulting row. Any store failure propagates unchanged: this is
// an audit trail, and a swallowed write failure would erase accountability.
func (b *Builder) Record(rec NormativeRecord) error {
	if strings.TrimSpace(rec.ToState) == "" {
		return &ValidationError{Field: "to_state", Reason: "is required on every decision, BLOCK included"}
	}
	if !rec.Verdict.IsValid() {
		return &ValidationError{Field: "verdict", Reason: "must be PASS or BLOCK"}
	}
	if rec.Verdict.IsBlock() && strings.TrimSpace(rec.Verdict.StopCode()) == "" {
		return &ValidationError{Field: "stop_code", Reason: "is required on a BLOCK verdict"}
	}
	if strings.TrimSpace(rec.Actor) == "" {
		return &ValidationError{Field: "actor", Reason: "is required"}
	}

	row, err := rec.toLedgerRecord()
	if err != nil {
		return err
	}
	return b.Store.PutDecision(row)
}

func (rec NormativeRecord) toLedgerRecord() (ledger.DecisionRecord, error) {
	subject := rec.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	conditions := rec.Conditions
	if conditions == nil {
		conditions = []string{}
	}
	refs := rec.EvidenceRefs
	if refs == nil {
		refs = []string{}
	}

	evidence := map[string]any{
		"actor":             rec.Actor,
		"evidence_refs":     refs,
		"conditions":        conditions,
		"normative_verdict": rec.Verdict.Normative(),
	}
	if rec.Verdict.IsBlock() {
		evidence["stop_code"] = rec.Verdict.StopCode()
	}
	evidenceJSON, err := crypto.Canonicalize(evidence)
	if err != nil {
		return ledger.DecisionRecord{}, fmt.Errorf("compose evidence: %w", err)
	}

	rationale := fmt.Sprintf("gate=%s actor=%s normative_verdict=%s evidence_refs=%d",
		rec.GateName, rec.Actor, rec.Verdict.Normative(), len(refs))
	if rec.Verdict.IsBlock() {
		rationale += " stop_code=" + rec.Verdict.StopCode()
	}

	idView := map[string]any{
		"run_id":     rec.RunID,
		"slug":       rec.Slug,
		"gate_name":  rec.GateName,
		"from_state": rec.FromState,
		"to_state":   rec.ToState,
		"subject":    subject,
		"decided_at": rec.DecidedAt,
		"evidence":   evidence,
	}
	canonical, err := crypto.Canonicalize(idView)
	if err != nil {
		return ledger.DecisionRecord{}, fmt.Errorf("derive decision id: %w", err)
	}

	return ledger.DecisionRecord{
		DecisionID:   crypto.DigestWithPrefix(canonical),
		RunID:        rec.RunID,
		Slug:         rec.Slug,
		GateName:     rec.GateName,
		FromState:    rec.FromState,
		ToState:      rec.ToState,
		Verdict:      rec.Verdict.Canonical(),
		Subject:      subject,
		DecidedAt:    rec.DecidedAt,
		EvidenceJSON: evidenceJSON,
		Rationale:    rationale,
	}, nil
}
