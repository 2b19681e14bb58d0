package policy

// Policy declares, per pipeline phase, the output artifacts that must exist
// in their expected, non-downgraded form before the phase may advance.
type Policy struct {
	PolicyID      string        `yaml:"policy_id"`
	PolicyVersion string        `yaml:"policy_version"`
	Phases        []PhasePolicy `yaml:"phases"`
}

type PhasePolicy struct {
	Phase     string         `yaml:"phase"`
	Artifacts []ArtifactRule `yaml:"artifacts"`
}

type ArtifactRule struct {
	// Path is workspace-relative, slash-separated.
	Path string `yaml:"path"`
	// Kind is the expected format: markdown, yaml, json, or any.
	Kind string `yaml:"kind"`
}

const (
	KindMarkdown = "markdown"
	KindYAML     = "yaml"
	KindJSON     = "json"
	KindAny      = "any"
)

// extensionsForKind lists the file extensions accepted for each kind. A file
// present under a different extension is a downgrade, not a pass.
func extensionsForKind(kind string) []string {
	switch kind {
	case KindMarkdown:
		return []string{".md"}
	case KindYAML:
		return []string{".yaml", ".yml"}
	case KindJSON:
		return []string{".json"}
	default:
		return nil
	}
}

// PhaseFor returns the declared artifact set for phase.
func (p Policy) PhaseFor(phase string) (PhasePolicy, bool) {
	for _, pp := range p.Phases {
		if pp.Phase == phase {
			return pp, true
		}
	}
	return PhasePolicy{}, false
}
