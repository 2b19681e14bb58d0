package policy

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nextybase/timmy-kb/internal/crypto"
)

//go:embed default.yaml
var defaultPolicyYAML []byte

type LoadedPolicy struct {
	Policy Policy
	Hash   string
	Bytes  []byte
}

// LoadPolicy loads a YAML artifact policy and computes its hash from the raw
// bytes, so two operators running the same policy file agree on its identity.
func LoadPolicy(path string) (LoadedPolicy, error) {
	// #nosec G304 -- path comes from operator-configured policy path.
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadedPolicy{}, err
	}
	return parsePolicy(data)
}

// DefaultPolicy is the embedded core-artifact table used when no policy file
// is configured.
func DefaultPolicy() LoadedPolicy {
	loaded, err := parsePolicy(defaultPolicyYAML)
	if err != nil {
		// The embedded policy is part of the binary; failing to parse it is a
		// build defect, not a runtime condition.
		panic(fmt.Sprintf("embedded default policy invalid: %v", err))
	}
	return loaded
}

func parsePolicy(data []byte) (LoadedPolicy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return LoadedPolicy{}, fmt.Errorf("parse artifact policy: %w", err)
	}
	if err := validatePolicy(p); err != nil {
		return LoadedPolicy{}, err
	}
	return LoadedPolicy{
		Policy: p,
		Hash:   crypto.DigestWithPrefix(data),
		Bytes:  data,
	}, nil
}

func validatePolicy(p Policy) error {
	if p.PolicyID == "" {
		return fmt.Errorf("artifact policy: policy_id is required")
	}
	if len(p.Phases) == 0 {
		return fmt.Errorf("artifact policy %s: at least one phase is required", p.PolicyID)
	}
	seen := map[string]struct{}{}
	for _, phase := range p.Phases {
		if phase.Phase == "" {
			return fmt.Errorf("artifact policy %s: phase name is required", p.PolicyID)
		}
		if _, dup := seen[phase.Phase]; dup {
			return fmt.Errorf("artifact policy %s: duplicate phase %q", p.PolicyID, phase.Phase)
		}
		seen[phase.Phase] = struct{}{}
		if len(phase.Artifacts) == 0 {
			return fmt.Errorf("artifact policy %s: phase %q declares no artifacts", p.PolicyID, phase.Phase)
		}
		for _, rule := range phase.Artifacts {
			if rule.Path == "" {
				return fmt.Errorf("artifact policy %s: phase %q has an artifact without a path", p.PolicyID, phase.Phase)
			}
			switch rule.Kind {
			case KindMarkdown, KindYAML, KindJSON, KindAny:
			default:
				return fmt.Errorf("artifact policy %s: unknown kind %q for %s", p.PolicyID, rule.Kind, rule.Path)
			}
		}
	}
	return nil
}
