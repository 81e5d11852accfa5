package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/osint-cli/internal/model"
	"github.com/sells-group/osint-cli/internal/resilience"
	"github.com/sells-group/osint-cli/pkg/anthropic"
)

// imageMediaTypes maps the file extensions the vision model accepts to
// their MIME types. Videos and everything else are skipped.
var imageMediaTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// enrichStats summarizes one enrichment pass.
type enrichStats struct {
	Analyzed int
	Skipped  int
	Failures []model.Failure
}

// enrichImages runs vision analysis over every stored image artifact that
// has not been analyzed before, mutating the documents in place and saving
// each modified document back to the cache. An artifact is analyzed at
// most once across all runs: a non-empty Analysis is never recomputed.
//
// Per-image failures are recorded and skipped. A vision rate limit aborts
// the remaining batch; everything analyzed up to that point is kept.
func (p *Pipeline) enrichImages(ctx context.Context, collected []targetData) (*enrichStats, error) {
	stats := &enrichStats{}
	var rateLimited error

	for i := range collected {
		td := &collected[i]
		modified := false

		for ri := range td.Doc.Records {
			for ai := range td.Doc.Records[ri].Artifacts {
				if rateLimited != nil {
					break
				}
				art := &td.Doc.Records[ri].Artifacts[ai]
				if art.LocalPath == "" || art.Analysis != "" {
					continue
				}
				mediaType, ok := imageMediaTypes[strings.ToLower(filepath.Ext(art.LocalPath))]
				if !ok {
					stats.Skipped++
					continue
				}

				analysis, err := p.analyzeImage(ctx, art, mediaType, td.Target)
				if err != nil {
					if rle, limited := resilience.IsRateLimited(err); limited {
						zap.L().Warn("pipeline: vision rate limit, aborting enrichment",
							zap.String("provider", rle.Provider),
						)
						stats.Failures = append(stats.Failures, model.Failure{
							Key:     art.URL,
							Kind:    model.FailureRateLimited,
							Reason:  err.Error(),
							ResetAt: resetPtr(rle.ResetAt),
						})
						rateLimited = rle
						break
					}
					zap.L().Error("pipeline: image analysis failed",
						zap.String("url", art.URL),
						zap.Error(err),
					)
					stats.Failures = append(stats.Failures, model.Failure{
						Key:    art.URL,
						Kind:   model.FailureEnrichment,
						Reason: err.Error(),
					})
					continue
				}

				art.Analysis = analysis
				stats.Analyzed++
				modified = true
			}
		}

		// Persist write-backs per target so a later abort cannot lose
		// completed analyses. Save leaves FetchedAt untouched.
		if modified {
			if err := p.cache.Save(td.Target, td.Doc); err != nil {
				return stats, err
			}
		}
	}

	return stats, rateLimited
}

func (p *Pipeline) analyzeImage(ctx context.Context, art *model.Artifact, mediaType string, target model.Target) (string, error) {
	raw, err := os.ReadFile(art.LocalPath)
	if err != nil {
		return "", err
	}

	resp, err := p.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     p.cfg.Anthropic.VisionModel,
		MaxTokens: p.cfg.Anthropic.VisionMaxTokens,
		Messages: []anthropic.Message{{
			Role: "user",
			Blocks: []anthropic.ContentBlockParam{
				{Text: fmt.Sprintf(imageAnalysisPrompt, target.Source+" user "+target.Handle)},
				{Image: &anthropic.ImageSource{
					MediaType: mediaType,
					Data:      base64.StdEncoding.EncodeToString(raw),
				}},
			},
		}},
	})
	if err != nil {
		return "", err
	}
	resp.Usage.LogUsage(p.cfg.Anthropic.VisionModel, "enrich")
	return strings.TrimSpace(resp.Text()), nil
}
