package workspace

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLayoutPaths(t *testing.T) {
	root := t.TempDir()

	layout, err := NewLayout(root, "acme-sub003")
	if err != nil {
		t.Fatalf("new layout: %v", err)
	}

	if layout.ConfigPath != filepath.Join(root, "config", "config.yaml") {
		t.Fatalf("config path mismatch: %s", layout.ConfigPath)
	}
	if layout.BookDir != filepath.Join(root, "book") {
		t.Fatalf("book dir mismatch: %s", layout.BookDir)
	}
	if layout.SemanticDir != filepath.Join(root, "semantic") {
		t.Fatalf("semantic dir mismatch: %s", layout.SemanticDir)
	}
	if layout.LogsDir != filepath.Join(root, "logs") {
		t.Fatalf("logs dir mismatch: %s", layout.LogsDir)
	}
}

func TestValidateSlug(t *testing.T) {
	for _, slug := range []string{"acme", "acme-sub003", "a_b-c9"} {
		if err := ValidateSlug(slug); err != nil {
			t.Fatalf("slug %q should be valid: %v", slug, err)
		}
	}
	for _, slug := range []string{"", "ACME", "a/b", "a b", "a..b"} {
		if err := ValidateSlug(slug); err == nil {
			t.Fatalf("slug %q should be rejected", slug)
		}
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	layout, err := NewLayout(t.TempDir(), "acme")
	if err != nil {
		t.Fatalf("new layout: %v", err)
	}

	got, err := layout.Resolve("book/README.md")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.HasPrefix(got, layout.Root) {
		t.Fatalf("resolved path %q outside root %q", got, layout.Root)
	}

	if _, err := layout.Resolve("../outside.md"); err == nil {
		t.Fatalf("escaping path should be rejected")
	}
	if _, err := layout.Resolve("/etc/passwd"); err == nil {
		t.Fatalf("absolute path should be rejected")
	}
	if _, err := layout.Resolve(""); err == nil {
		t.Fatalf("empty path should be rejected")
	}
}
