package workspace

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Layout is the value object giving canonical paths inside one client
// workspace. It is produced by bootstrap and consumed everywhere else;
// nothing in this package touches the filesystem.
type Layout struct {
	Slug        string
	Root        string
	ConfigPath  string
	BookDir     string
	SemanticDir string
	LogsDir     string
}

// NewLayout resolves the canonical paths for a workspace rooted at root.
func NewLayout(root, slug string) (Layout, error) {
	if err := ValidateSlug(slug); err != nil {
		return Layout{}, err
	}
	if root == "" {
		return Layout{}, fmt.Errorf("workspace root is required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return Layout{}, fmt.Errorf("resolve workspace root: %w", err)
	}

	return Layout{
		Slug:        slug,
		Root:        abs,
		ConfigPath:  filepath.Join(abs, "config", "config.yaml"),
		BookDir:     filepath.Join(abs, "book"),
		SemanticDir: filepath.Join(abs, "semantic"),
		LogsDir:     filepath.Join(abs, "logs"),
	}, nil
}

// ValidateSlug rejects slugs that could not serve as stable workspace
// identifiers: empty, uppercase, or containing path separators.
func ValidateSlug(slug string) error {
	if slug == "" {
		return fmt.Errorf("workspace slug is required")
	}
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return fmt.Errorf("invalid workspace slug %q: only [a-z0-9-_] allowed", slug)
		}
	}
	return nil
}

// Resolve turns a workspace-relative artifact path into an absolute one,
// refusing paths that would escape the workspace root.
func (l Layout) Resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("artifact path is required")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("artifact path %q must be workspace-relative", rel)
	}
	joined := filepath.Join(l.Root, filepath.FromSlash(rel))
	if joined != l.Root && !strings.HasPrefix(joined, l.Root+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact path %q escapes workspace root", rel)
	}
	return joined, nil
}
