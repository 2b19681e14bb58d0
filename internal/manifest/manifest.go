// Package manifest implements the reproducibility check behind the skeptic
// gate: bootstrap artifacts must be byte-identical across runs, proven by
// comparing {path, sha256, bytes} triples against a golden manifest.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nextybase/timmy-kb/internal/crypto"
	"github.com/nextybase/timmy-kb/internal/workspace"
)

// GoldenFileName is the golden manifest's location inside the logs dir.
const GoldenFileName = "golden_manifest.json"

type Entry struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
}

type Manifest struct {
	Slug    string  `json:"slug"`
	Entries []Entry `json:"entries"`
}

// Violation is the skeptic gate outcome: one or more artifacts differ from
// their golden form.
type Violation struct {
	EvidenceRefs []string
}

func (e *Violation) Error() string {
	return "reproducibility violation: " + strings.Join(e.EvidenceRefs, "; ")
}

// Build hashes the given workspace-relative paths. Entries come back sorted
// by path so two builds over the same tree are byte-comparable.
func Build(layout workspace.Layout, paths []string) (Manifest, error) {
	m := Manifest{Slug: layout.Slug, Entries: make([]Entry, 0, len(paths))}
	for _, rel := range paths {
		abs, err := layout.Resolve(rel)
		if err != nil {
			return Manifest{}, err
		}
		digest, size, err := crypto.DigestFile(abs)
		if err != nil {
			return Manifest{}, fmt.Errorf("hash %s: %w", rel, err)
		}
		m.Entries = append(m.Entries, Entry{Path: rel, SHA256: digest, Bytes: size})
	}
	sort.Slice(m.Entries, func(i, j int) bool { return m.Entries[i].Path < m.Entries[j].Path })
	return m, nil
}

// GoldenPath is where the golden manifest lives for a workspace.
func GoldenPath(layout workspace.Layout) string {
	return filepath.Join(layout.LogsDir, GoldenFileName)
}

// Write persists m as the workspace's golden manifest.
func Write(layout workspace.Layout, m Manifest) error {
	if err := os.MkdirAll(layout.LogsDir, 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(GoldenPath(layout), append(data, '\n'), 0o600)
}

// Load reads the workspace's golden manifest. The boolean is false when no
// golden manifest exists yet.
func Load(layout workspace.Layout) (Manifest, bool, error) {
	// #nosec G304 -- path is derived from the workspace layout.
	raw, err := os.ReadFile(GoldenPath(layout))
	if os.IsNotExist(err) {
		return Manifest{}, false, nil
	}
	if err != nil {
		return Manifest{}, false, err
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, false, fmt.Errorf("parse golden manifest: %w", err)
	}
	return m, true, nil
}

// Compare returns one evidence ref per divergence between the golden
// manifest and the current tree. Empty means reproducible.
func Compare(golden, current Manifest) []string {
	currentByPath := map[string]Entry{}
	for _, e := range current.Entries {
		currentByPath[e.Path] = e
	}

	refs := []string{}
	for _, want := range golden.Entries {
		got, ok := currentByPath[want.Path]
		switch {
		case !ok:
			refs = append(refs, "missing: "+want.Path)
		case got.SHA256 != want.SHA256:
			refs = append(refs, fmt.Sprintf("hash mismatch: %s golden %s current %s", want.Path, want.SHA256, got.SHA256))
		case got.Bytes != want.Bytes:
			refs = append(refs, fmt.Sprintf("size mismatch: %s golden %d current %d", want.Path, want.Bytes, got.Bytes))
		}
		delete(currentByPath, want.Path)
	}

	extra := make([]string, 0, len(currentByPath))
	for path := range currentByPath {
		extra = append(extra, "unexpected: "+path)
	}
	sort.Strings(extra)
	return append(refs, extra...)
}

// Enforce rebuilds the manifest over paths and compares it against the
// golden one. Returns (false, nil) when no golden manifest exists: the
// skeptic gate has nothing to be skeptical against on a first run.
func Enforce(layout workspace.Layout, paths []string) (checked bool, err error) {
	golden, ok, err := Load(layout)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	current, err := buildLenient(layout, paths)
	if err != nil {
		return true, err
	}
	if refs := Compare(golden, current); len(refs) > 0 {
		return true, &Violation{EvidenceRefs: refs}
	}
	return true, nil
}

// buildLenient hashes what exists and skips what does not, so a deleted
// artifact surfaces as "missing" evidence instead of a hard error.
func buildLenient(layout workspace.Layout, paths []string) (Manifest, error) {
	m := Manifest{Slug: layout.Slug}
	for _, rel := range paths {
		abs, err := layout.Resolve(rel)
		if err != nil {
			return Manifest{}, err
		}
		digest, size, err := crypto.DigestFile(abs)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return Manifest{}, fmt.Errorf("hash %s: %w", rel, err)
		}
		m.Entries = append(m.Entries, Entry{Path: rel, SHA256: digest, Bytes: size})
	}
	sort.Slice(m.Entries, func(i, j int) bool { return m.Entries[i].Path < m.Entries[j].Path })
	return m, nil
}
