// Package pipeline orchestrates the three-phase analysis run: collect
// activity per target, enrich stored images with vision analysis, and
// synthesize a single report. Phase outcomes and the partial-failure
// ledger are persisted to the run store.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/osint-cli/internal/cache"
	"github.com/sells-group/osint-cli/internal/config"
	"github.com/sells-group/osint-cli/internal/fetcher"
	"github.com/sells-group/osint-cli/internal/model"
	"github.com/sells-group/osint-cli/internal/resilience"
	"github.com/sells-group/osint-cli/internal/store"
	"github.com/sells-group/osint-cli/pkg/anthropic"
)

// Request describes one analysis run.
type Request struct {
	Query   string
	Targets []model.Target
	// DesiredCount is the record count wanted per target; zero falls
	// back to the configured default.
	DesiredCount int
	// PerTarget overrides DesiredCount for specific targets, keyed by
	// Target.String().
	PerTarget    map[string]int
	ForceRefresh bool
	Offline      bool
}

// Result is the outcome of a run: the rendered report plus the
// accounting persisted to the run store.
type Result struct {
	RunID    string
	Report   model.Report
	Markdown string
	Outcome  model.RunResult
}

// targetData pairs a target with its collected document.
type targetData struct {
	Target model.Target
	Doc    *model.Document
}

// Pipeline orchestrates phases 1-3 of an analysis run.
type Pipeline struct {
	cfg   *config.Config
	store store.Store
	coord *fetcher.Coordinator
	cache *cache.Cache
	ai    anthropic.Client
}

// New creates a Pipeline with all dependencies.
func New(cfg *config.Config, st store.Store, coord *fetcher.Coordinator, c *cache.Cache, ai anthropic.Client) *Pipeline {
	return &Pipeline{cfg: cfg, store: st, coord: coord, cache: c, ai: ai}
}

// Run executes a full analysis run. Per-target and per-artifact failures
// are recorded in the ledger without failing the run; the run itself
// fails only when no target yields data or synthesis fails.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	log := zap.L().With(zap.String("query", req.Query), zap.Int("targets", len(req.Targets)))
	log.Info("pipeline: starting run")

	if req.DesiredCount <= 0 {
		req.DesiredCount = p.cfg.Fetch.DefaultCount
	}

	run, err := p.store.CreateRun(ctx, req.Query, req.Targets)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	result := &Result{RunID: run.ID}
	outcome := &result.Outcome

	setStatus := func(status model.RunStatus) {
		if statusErr := p.store.UpdateRunStatus(ctx, run.ID, status); statusErr != nil {
			log.Warn("pipeline: failed to update status", zap.Error(statusErr))
		}
	}

	trackPhase := func(name string, fn func() (*model.PhaseResult, error)) error {
		phase, phaseErr := p.store.CreatePhase(ctx, run.ID, name)
		if phaseErr != nil {
			log.Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
		}

		start := time.Now()
		phaseResult, fnErr := fn()
		duration := time.Since(start).Milliseconds()

		if phaseResult == nil {
			phaseResult = &model.PhaseResult{}
		}
		phaseResult.Name = name
		phaseResult.Duration = duration

		if fnErr != nil {
			phaseResult.Status = model.PhaseStatusFailed
			phaseResult.Error = fnErr.Error()
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		} else {
			phaseResult.Status = model.PhaseStatusComplete
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
			)
		}

		if phase != nil {
			_ = p.store.CompletePhase(ctx, phase.ID, phaseResult)
		}
		outcome.Phases = append(outcome.Phases, *phaseResult)
		return fnErr
	}

	fail := func(err error) (*Result, error) {
		outcome.Error = err.Error()
		setStatus(model.RunStatusFailed)
		if updateErr := p.store.UpdateRunResult(ctx, run.ID, model.RunStatusFailed, outcome); updateErr != nil {
			log.Warn("pipeline: failed to persist result", zap.Error(updateErr))
		}
		return result, err
	}

	// ===== Phase 1: Collection =====
	setStatus(model.RunStatusCollecting)

	var collected []targetData
	_ = trackPhase("1_collect", func() (*model.PhaseResult, error) {
		collected = p.collect(ctx, req, outcome)
		return &model.PhaseResult{
			Metadata: map[string]any{
				"targets_ok":     outcome.TargetsOK,
				"targets_failed": outcome.TargetsFailed,
			},
		}, nil
	})

	if len(collected) == 0 {
		return fail(eris.New("pipeline: data collection failed for all targets"))
	}

	// ===== Phase 2: Enrichment =====
	// Offline runs reuse whatever analyses the cache already holds.
	if !req.Offline {
		setStatus(model.RunStatusEnriching)
		_ = trackPhase("2_enrich", func() (*model.PhaseResult, error) {
			stats, enrichErr := p.enrichImages(ctx, collected)
			outcome.Failures = append(outcome.Failures, stats.Failures...)
			return &model.PhaseResult{
				Metadata: map[string]any{
					"analyzed": stats.Analyzed,
					"skipped":  stats.Skipped,
					"failed":   len(stats.Failures),
				},
			}, enrichErr
		})
	}

	// ===== Phase 3: Synthesis =====
	setStatus(model.RunStatusSynthesizing)

	var body string
	synthErr := trackPhase("3_synthesize", func() (*model.PhaseResult, error) {
		b, usage, err := p.synthesize(ctx, req.Query, collected)
		if err != nil {
			return nil, err
		}
		body = b
		meta := map[string]any{}
		if usage != nil {
			meta["input_tokens"] = usage.InputTokens
			meta["output_tokens"] = usage.OutputTokens
		}
		return &model.PhaseResult{Metadata: meta}, nil
	})
	if synthErr != nil {
		return fail(eris.Wrap(synthErr, "pipeline: synthesis"))
	}

	result.Report = model.Report{
		Query:       req.Query,
		GeneratedAt: time.Now().UTC(),
		Offline:     req.Offline,
		Model:       p.cfg.Anthropic.Model,
		VisionModel: p.cfg.Anthropic.VisionModel,
		Body:        body,
		Failures:    outcome.Failures,
	}
	result.Markdown = renderReport(result.Report)
	outcome.Report = result.Markdown

	if err := p.store.UpdateRunResult(ctx, run.ID, model.RunStatusComplete, outcome); err != nil {
		log.Warn("pipeline: failed to persist result", zap.Error(err))
	}

	log.Info("pipeline: run complete",
		zap.String("run_id", run.ID),
		zap.Int("targets_ok", outcome.TargetsOK),
		zap.Int("targets_failed", outcome.TargetsFailed),
		zap.Int("failures", len(outcome.Failures)),
	)
	return result, nil
}

// collect runs Phase 1: each target is collected independently and
// sequentially; any per-target error lands in the ledger and the loop
// moves on.
func (p *Pipeline) collect(ctx context.Context, req Request, outcome *model.RunResult) []targetData {
	var collected []targetData

	for _, target := range req.Targets {
		desired := req.DesiredCount
		if n, ok := req.PerTarget[target.String()]; ok && n > 0 {
			desired = n
		}

		res, err := p.coord.Collect(ctx, target, fetcher.CollectOptions{
			DesiredCount: desired,
			ForceRefresh: req.ForceRefresh,
			Offline:      req.Offline,
		})
		if err != nil {
			outcome.TargetsFailed++
			outcome.Failures = append(outcome.Failures, classifyTargetFailure(target, err))
			zap.L().Warn("pipeline: target failed",
				zap.String("target", target.String()),
				zap.Error(err),
			)
			continue
		}

		outcome.TargetsOK++
		outcome.Failures = append(outcome.Failures, res.MediaFailures...)
		outcome.ArtifactsFailed += len(res.MediaFailures)
		for _, rec := range res.Document.Records {
			for _, art := range rec.Artifacts {
				if art.LocalPath != "" {
					outcome.ArtifactsOK++
				}
			}
		}
		collected = append(collected, targetData{Target: target, Doc: res.Document})
	}

	return collected
}

// classifyTargetFailure maps a collection error onto the ledger taxonomy.
func classifyTargetFailure(target model.Target, err error) model.Failure {
	f := model.Failure{Key: target.String(), Reason: err.Error(), Kind: model.FailureTransport}

	var nfe *resilience.NotFoundError
	var ae *resilience.AuthError
	switch {
	case errors.Is(err, fetcher.ErrUnknownSource):
		f.Kind = model.FailureNoFetcher
	case errors.As(err, &nfe):
		f.Kind = model.FailureNotFound
	case errors.As(err, &ae):
		f.Kind = model.FailureAuth
	default:
		if rle, limited := resilience.IsRateLimited(err); limited {
			f.Kind = model.FailureRateLimited
			f.ResetAt = resetPtr(rle.ResetAt)
		}
	}
	return f
}

// resetPtr converts a reset timestamp to the ledger's optional form.
func resetPtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
