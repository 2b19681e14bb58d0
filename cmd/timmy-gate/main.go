// timmy-gate evaluates the phase gates for one client workspace and records
// every verdict in the workspace ledger. Exit status follows the stop-code
// taxonomy so CI can tell an artifact-policy BLOCK from a QA BLOCK.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/nextybase/timmy-kb/internal/config"
	"github.com/nextybase/timmy-kb/internal/ledger/sqlstore"
	"github.com/nextybase/timmy-kb/internal/manifest"
	"github.com/nextybase/timmy-kb/internal/orchestrator"
	"github.com/nextybase/timmy-kb/internal/policy"
	"github.com/nextybase/timmy-kb/internal/stopcode"
	"github.com/nextybase/timmy-kb/internal/workspace"
)

func main() {
	exitFn(run(os.Args, os.Stdout, os.Stderr))
}

var exitFn = os.Exit

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	switch args[1] {
	case "gate":
		return handleGate(args[2:], stdout, stderr)
	case "ledger":
		return handleLedger(args[2:], stdout, stderr)
	case "manifest":
		return handleManifest(args[2:], stdout, stderr)
	default:
		usage(stderr)
		return 2
	}
}

func handleGate(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("gate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", envOrDefault("TIMMY_CONFIG_PATH", ""), "path to timmy config file")
	root := fs.String("root", "", "workspace root (overrides config)")
	slug := fs.String("slug", "", "workspace slug (overrides config)")
	phase := fs.String("phase", "pre_onboarding", "pipeline phase to gate")
	runID := fs.String("run-id", "", "run id (generated when empty)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := resolveConfig(*configPath, *root, *slug)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 2
	}

	id := *runID
	if id == "" {
		id = uuid.NewString()
	}

	logger := log.New(stderr, "", log.LstdFlags)
	outcomes, err := orchestrator.Execute(cfg, *phase, id, logger.Printf)
	for _, o := range outcomes {
		if o.StopCode != "" {
			fmt.Fprintf(stdout, "gate=%s verdict=%s stop_code=%s\n", o.Gate, o.Verdict, o.StopCode)
		} else {
			fmt.Fprintf(stdout, "gate=%s verdict=%s\n", o.Gate, o.Verdict)
		}
	}
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		var blocked *orchestrator.BlockedError
		if errors.As(err, &blocked) {
			return stopcode.ExitCode(blocked.StopCode)
		}
		return 1
	}

	fmt.Fprintf(stdout, "run_id=%s all gates passed\n", id)
	return 0
}

func handleLedger(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("ledger", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", envOrDefault("TIMMY_CONFIG_PATH", ""), "path to timmy config file")
	root := fs.String("root", "", "workspace root (overrides config)")
	slug := fs.String("slug", "", "workspace slug (overrides config)")
	jsonOut := fs.Bool("json", false, "print decisions as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "ledger requires <run_id>")
		fs.Usage()
		return 2
	}
	runID := fs.Arg(0)

	cfg, err := resolveConfig(*configPath, *root, *slug)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 2
	}
	layout, err := workspace.NewLayout(cfg.WorkspaceRoot, cfg.Slug)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 2
	}

	store, err := sqlstore.OpenWorkspace(layout)
	if err != nil {
		fmt.Fprintln(stderr, "open ledger:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	list, err := store.ListDecisions(runID)
	if err != nil {
		fmt.Fprintln(stderr, "list decisions:", err)
		return 1
	}

	if *jsonOut {
		payload := make([]map[string]any, 0, len(list))
		for _, rec := range list {
			payload = append(payload, map[string]any{
				"decision_id":   rec.DecisionID,
				"gate_name":     rec.GateName,
				"from_state":    rec.FromState,
				"to_state":      rec.ToState,
				"verdict":       rec.Verdict,
				"decided_at":    rec.DecidedAt,
				"evidence_json": json.RawMessage(rec.EvidenceJSON),
				"rationale":     rec.Rationale,
			})
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(payload); err != nil {
			fmt.Fprintln(stderr, "encode:", err)
			return 1
		}
		return 0
	}

	for _, rec := range list {
		fmt.Fprintf(stdout, "%s gate=%s verdict=%s %s -> %s rationale=%q\n",
			rec.DecidedAt, rec.GateName, rec.Verdict, rec.FromState, rec.ToState, rec.Rationale)
	}
	fmt.Fprintf(stdout, "%d decision(s) for run %s\n", len(list), runID)
	return 0
}

func handleManifest(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("manifest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", envOrDefault("TIMMY_CONFIG_PATH", ""), "path to timmy config file")
	root := fs.String("root", "", "workspace root (overrides config)")
	slug := fs.String("slug", "", "workspace slug (overrides config)")
	phase := fs.String("phase", "pre_onboarding", "phase whose artifacts to fingerprint")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := resolveConfig(*configPath, *root, *slug)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 2
	}
	layout, err := workspace.NewLayout(cfg.WorkspaceRoot, cfg.Slug)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 2
	}

	loaded := policy.DefaultPolicy()
	if cfg.PolicyPath != "" {
		loaded, err = policy.LoadPolicy(cfg.PolicyPath)
		if err != nil {
			fmt.Fprintln(stderr, err.Error())
			return 2
		}
	}
	declared, ok := loaded.Policy.PhaseFor(*phase)
	if !ok {
		fmt.Fprintf(stderr, "phase %q not declared by artifact policy %s\n", *phase, loaded.Policy.PolicyID)
		return 2
	}

	paths := make([]string, 0, len(declared.Artifacts))
	for _, rule := range declared.Artifacts {
		paths = append(paths, rule.Path)
	}
	m, err := manifest.Build(layout, paths)
	if err != nil {
		fmt.Fprintln(stderr, "build manifest:", err)
		return 1
	}
	if err := manifest.Write(layout, m); err != nil {
		fmt.Fprintln(stderr, "write manifest:", err)
		return 1
	}

	for _, e := range m.Entries {
		fmt.Fprintf(stdout, "%s %d %s\n", e.SHA256, e.Bytes, e.Path)
	}
	fmt.Fprintf(stdout, "wrote %s\n", manifest.GoldenPath(layout))
	return 0
}

func resolveConfig(configPath, root, slug string) (config.Config, error) {
	var cfg config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if root != "" {
		cfg.WorkspaceRoot = root
	}
	if slug != "" {
		cfg.Slug = slug
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: timmy-gate <command> [flags]")
	fmt.Fprintln(w, "  gate      run the phase gates for a workspace")
	fmt.Fprintln(w, "  ledger    list recorded decisions for a run")
	fmt.Fprintln(w, "  manifest  write the golden reproducibility manifest")
}
