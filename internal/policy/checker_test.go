package policy

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextybase/timmy-kb/internal/workspace"
)

func testLayout(t *testing.T) workspace.Layout {
	t.Helper()
	layout, err := workspace.NewLayout(t.TempDir(), "acme")
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	return layout
}

func writeArtifact(t *testing.T, layout workspace.Layout, rel, content string) {
	t.Helper()
	abs, err := layout.Resolve(rel)
	if err != nil {
		t.Fatalf("resolve %s: %v", rel, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func bootstrapArtifacts(t *testing.T, layout workspace.Layout) {
	t.Helper()
	writeArtifact(t, layout, "config/config.yaml", "slug: acme\n")
	writeArtifact(t, layout, "book/README.md", "# Acme\n")
	writeArtifact(t, layout, "book/SUMMARY.md", "# Summary\n")
}

func TestEnforceCoreArtifactsPass(t *testing.T) {
	layout := testLayout(t)
	bootstrapArtifacts(t, layout)

	if err := EnforceCoreArtifacts(DefaultPolicy().Policy, "pre_onboarding", layout); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
}

func TestEnforceCoreArtifactsReportsAllMissing(t *testing.T) {
	layout := testLayout(t)
	writeArtifact(t, layout, "config/config.yaml", "slug: acme\n")

	err := EnforceCoreArtifacts(DefaultPolicy().Policy, "pre_onboarding", layout)
	var violation *ArtifactViolation
	if !errors.As(err, &violation) {
		t.Fatalf("expected ArtifactViolation, got %v", err)
	}
	if len(violation.EvidenceRefs) != 2 {
		t.Fatalf("expected evidence for both missing files: %#v", violation.EvidenceRefs)
	}
	for _, ref := range violation.EvidenceRefs {
		if !strings.HasPrefix(ref, "missing: book/") {
			t.Fatalf("unexpected evidence ref: %s", ref)
		}
	}
}

func TestEnforceCoreArtifactsDetectsDowngrade(t *testing.T) {
	layout := testLayout(t)
	bootstrapArtifacts(t, layout)

	// Same content, weaker format: README.md silently replaced by README.txt.
	readme, _ := layout.Resolve("book/README.md")
	content, err := os.ReadFile(readme)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := os.Remove(readme); err != nil {
		t.Fatalf("remove: %v", err)
	}
	writeArtifact(t, layout, "book/README.txt", string(content))

	err = EnforceCoreArtifacts(DefaultPolicy().Policy, "pre_onboarding", layout)
	var violation *ArtifactViolation
	if !errors.As(err, &violation) {
		t.Fatalf("expected ArtifactViolation, got %v", err)
	}

	foundMarkdownRef := false
	for _, ref := range violation.EvidenceRefs {
		if strings.Contains(ref, "book/README.md") {
			foundMarkdownRef = true
			if !strings.Contains(ref, "book/README.txt") {
				t.Fatalf("downgrade should name the substitute: %s", ref)
			}
		}
	}
	if !foundMarkdownRef {
		t.Fatalf("evidence should reference the missing markdown artifact: %#v", violation.EvidenceRefs)
	}
}

func TestEnforceCoreArtifactsUnknownPhase(t *testing.T) {
	layout := testLayout(t)

	err := EnforceCoreArtifacts(DefaultPolicy().Policy, "no_such_phase", layout)
	var unknown *UnknownPhaseError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownPhaseError, got %v", err)
	}
	// A config error must never read as a policy violation.
	var violation *ArtifactViolation
	if errors.As(err, &violation) {
		t.Fatalf("unknown phase must not be an ArtifactViolation")
	}
}

func TestLoadPolicyHashStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	body := "policy_id: custom\npolicy_version: \"2\"\nphases:\n  - phase: publish\n    artifacts:\n      - path: book/README.md\n        kind: markdown\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	a, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	b, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if a.Hash != b.Hash || !strings.HasPrefix(a.Hash, "sha256:") {
		t.Fatalf("policy hash unstable: %s vs %s", a.Hash, b.Hash)
	}
	if a.Policy.PolicyID != "custom" {
		t.Fatalf("policy id mismatch: %s", a.Policy.PolicyID)
	}
}

func TestLoadPolicyRejectsMalformed(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"no_id.yaml":       "phases:\n  - phase: p\n    artifacts:\n      - {path: a.md, kind: markdown}\n",
		"bad_kind.yaml":    "policy_id: x\nphases:\n  - phase: p\n    artifacts:\n      - {path: a.bin, kind: binary}\n",
		"empty_phase.yaml": "policy_id: x\nphases:\n  - phase: p\n    artifacts: []\n",
		"dup_phase.yaml":   "policy_id: x\nphases:\n  - phase: p\n    artifacts:\n      - {path: a.md, kind: markdown}\n  - phase: p\n    artifacts:\n      - {path: b.md, kind: markdown}\n",
	}
	for name, body := range cases {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if _, err := LoadPolicy(path); err == nil {
			t.Fatalf("%s should be rejected", name)
		}
	}
}

func TestDefaultPolicyDeclaresBootstrapPhase(t *testing.T) {
	p := DefaultPolicy().Policy

	phase, ok := p.PhaseFor("pre_onboarding")
	if !ok {
		t.Fatalf("default policy missing pre_onboarding phase")
	}
	paths := map[string]bool{}
	for _, rule := range phase.Artifacts {
		paths[rule.Path] = true
	}
	for _, want := range []string{"config/config.yaml", "book/README.md", "book/SUMMARY.md"} {
		if !paths[want] {
			t.Fatalf("default pre_onboarding policy missing %s", want)
		}
	}
}
