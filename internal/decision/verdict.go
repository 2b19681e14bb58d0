package decision

import "github.com/nextybase/timmy-kb/internal/ledger"

// Verdict is the closed normative outcome of a gate. The zero value is
// invalid; the only ways to obtain a usable Verdict are Pass and Block, so a
// PASS carrying a stop code cannot be constructed at all.
type Verdict struct {
	kind     verdictKind
	stopCode string
}

type verdictKind int

const (
	verdictInvalid verdictKind = iota
	verdictPass
	verdictBlock
)

// Pass is a normative PASS.
func Pass() Verdict {
	return Verdict{kind: verdictPass}
}

// Block is a normative BLOCK carrying its stop code. An empty stop code is
// representable here but rejected by the builder before anything persists.
func Block(stopCode string) Verdict {
	return Verdict{kind: verdictBlock, stopCode: stopCode}
}

func (v Verdict) IsPass() bool  { return v.kind == verdictPass }
func (v Verdict) IsBlock() bool { return v.kind == verdictBlock }
func (v Verdict) IsValid() bool { return v.kind != verdictInvalid }

// StopCode is empty unless the verdict is a BLOCK.
func (v Verdict) StopCode() string {
	if v.kind != verdictBlock {
		return ""
	}
	return v.stopCode
}

// Normative is the domain vocabulary: PASS or BLOCK.
func (v Verdict) Normative() string {
	switch v.kind {
	case verdictPass:
		return "PASS"
	case verdictBlock:
		return "BLOCK"
	default:
		return ""
	}
}

// Canonical is the ledger projection: PASS maps to ALLOW, BLOCK stays BLOCK.
func (v Verdict) Canonical() string {
	switch v.kind {
	case verdictPass:
		return ledger.VerdictAllow
	case verdictBlock:
		return ledger.VerdictBlock
	default:
		return ""
	}
}
