package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/osint-cli/internal/model"
	"github.com/sells-group/osint-cli/internal/pipeline"
)

var (
	runQuery        string
	runTargets      []string
	runTargetsFile  string
	runCount        int
	runForceRefresh bool
	runOffline      bool
	runUnsafeMedia  bool
	runFormat       string
	runNoSave       bool
)

// stdinRequest is the JSON shape accepted on stdin when no flags are
// given, for driving the CLI from another process.
type stdinRequest struct {
	Query   string              `json:"query"`
	Targets map[string][]string `json:"targets"`
	Options struct {
		DefaultCount int            `json:"default_count"`
		PerTarget    map[string]int `json:"per_target"`
		ForceRefresh bool           `json:"force_refresh"`
		Offline      bool           `json:"offline"`
	} `json:"options"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an analysis over a set of targets",
	Long: `Collects activity for each target, enriches stored images, and synthesizes
a Markdown report. Targets come from --target flags, a --targets YAML file
({source: [handles]}), or a JSON request on stdin when neither is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		req, err := buildRequest()
		if err != nil {
			return err
		}

		mode := "run"
		if req.Offline {
			mode = "offline"
		}
		if err := cfg.Validate(mode); err != nil {
			return err
		}

		env, err := initPipeline(ctx, req.Offline, runUnsafeMedia)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Pipeline.Run(ctx, *req)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("analysis complete",
			zap.String("run_id", result.RunID),
			zap.Int("targets_ok", result.Outcome.TargetsOK),
			zap.Int("targets_failed", result.Outcome.TargetsFailed),
		)

		if runNoSave {
			fmt.Println(result.Markdown)
			return nil
		}

		path, err := pipeline.SaveReport(
			filepath.Join(cfg.Data.Dir, "outputs"),
			result.Report, req.Targets, runFormat,
		)
		if err != nil {
			return err
		}
		fmt.Printf("Analysis saved to: %s\n", path)
		return nil
	},
}

// buildRequest resolves the pipeline request from flags, the targets
// file, or stdin.
func buildRequest() (*pipeline.Request, error) {
	// Stdin mode: no query flag and no targets means a JSON request is
	// piped in.
	if runQuery == "" && len(runTargets) == 0 && runTargetsFile == "" {
		return readStdinRequest()
	}

	if runQuery == "" {
		return nil, eris.New("--query is required")
	}

	var targets []model.Target
	for _, raw := range runTargets {
		t, err := parseTarget(raw)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}

	if runTargetsFile != "" {
		fromFile, err := loadTargetsFile(runTargetsFile)
		if err != nil {
			return nil, err
		}
		targets = append(targets, fromFile...)
	}

	if len(targets) == 0 {
		return nil, eris.New("no targets given: use --target or --targets")
	}

	return &pipeline.Request{
		Query:        runQuery,
		Targets:      targets,
		DesiredCount: runCount,
		ForceRefresh: runForceRefresh,
		Offline:      runOffline,
	}, nil
}

func readStdinRequest() (*pipeline.Request, error) {
	var req stdinRequest
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		return nil, eris.Wrap(err, "decode stdin request")
	}
	if strings.TrimSpace(req.Query) == "" || len(req.Targets) == 0 {
		return nil, eris.New(`stdin request requires "query" and "targets"`)
	}

	return &pipeline.Request{
		Query:        req.Query,
		Targets:      targetsFromMap(req.Targets),
		DesiredCount: req.Options.DefaultCount,
		PerTarget:    req.Options.PerTarget,
		ForceRefresh: req.Options.ForceRefresh,
		Offline:      req.Options.Offline || runOffline,
	}, nil
}

// parseTarget splits "source/handle".
func parseTarget(raw string) (model.Target, error) {
	source, handle, ok := strings.Cut(raw, "/")
	if !ok || source == "" || handle == "" {
		return model.Target{}, eris.Errorf("invalid target %q: expected source/handle", raw)
	}
	return model.Target{Source: source, Handle: handle}, nil
}

// loadTargetsFile parses a YAML mapping of source to handle list.
func loadTargetsFile(path string) ([]model.Target, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read targets file %s", path)
	}
	var m map[string][]string
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, eris.Wrapf(err, "parse targets file %s", path)
	}
	return targetsFromMap(m), nil
}

func targetsFromMap(m map[string][]string) []model.Target {
	sources := make([]string, 0, len(m))
	for s := range m {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	var targets []model.Target
	for _, source := range sources {
		for _, handle := range m[source] {
			handle = strings.TrimSpace(handle)
			if handle == "" {
				continue
			}
			targets = append(targets, model.Target{Source: source, Handle: handle})
		}
	}
	return targets
}

func init() {
	runCmd.Flags().StringVarP(&runQuery, "query", "q", "", "analysis query")
	runCmd.Flags().StringArrayVarP(&runTargets, "target", "t", nil, "target as source/handle (repeatable)")
	runCmd.Flags().StringVar(&runTargetsFile, "targets", "", "YAML file mapping sources to handle lists")
	runCmd.Flags().IntVar(&runCount, "count", 0, "records wanted per target (default from config)")
	runCmd.Flags().BoolVar(&runForceRefresh, "force-refresh", false, "bypass cached records and refetch")
	runCmd.Flags().BoolVar(&runOffline, "offline", false, "serve cache only, no network")
	runCmd.Flags().BoolVar(&runUnsafeMedia, "unsafe-external-media", false, "download media from hosts outside the source CDN allowlists")
	runCmd.Flags().StringVar(&runFormat, "format", "md", "output format: md or json")
	runCmd.Flags().BoolVar(&runNoSave, "no-save", false, "print the report instead of saving it")
	rootCmd.AddCommand(runCmd)
}
