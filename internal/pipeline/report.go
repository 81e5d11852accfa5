package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/osint-cli/internal/model"
	"github.com/sells-group/osint-cli/pkg/anthropic"
)

const (
	// maxSummaryRecords caps how many records per target reach the
	// synthesis prompt.
	maxSummaryRecords = 25
	// maxSummaryTextRunes caps each record's text in the prompt.
	maxSummaryTextRunes = 750
	// maxSharedDomains caps the shared-domain frequency list.
	maxSharedDomains = 10
)

// platformDomains are excluded from the shared-domain analysis: links
// back to the platforms themselves are navigation, not shares.
var platformDomains = map[string]struct{}{
	"news.ycombinator.com": {},
	"github.com":           {},
	"reddit.com":           {},
	"redd.it":              {},
}

// synthesize sends the assembled activity data to the text model and
// returns the report body.
func (p *Pipeline) synthesize(ctx context.Context, query string, collected []targetData) (string, *anthropic.TokenUsage, error) {
	userPrompt := buildUserPrompt(query, collected)
	if userPrompt == "" {
		return "", nil, eris.New("pipeline: no data available for synthesis")
	}

	temp := p.cfg.Anthropic.Temperature
	resp, err := p.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     p.cfg.Anthropic.Model,
		MaxTokens: p.cfg.Anthropic.MaxTokens,
		System: []anthropic.SystemBlock{{
			Text: fmt.Sprintf(systemAnalysisPrompt, time.Now().UTC().Format("2006-01-02 15:04:05 UTC")),
		}},
		Messages: []anthropic.Message{{
			Role:   "user",
			Blocks: []anthropic.ContentBlockParam{{Text: userPrompt}},
		}},
		Temperature: &temp,
	})
	if err != nil {
		return "", nil, err
	}
	resp.Usage.LogUsage(p.cfg.Anthropic.Model, "synthesize")
	return strings.TrimSpace(resp.Text()), &resp.Usage, nil
}

// buildUserPrompt assembles the synthesis prompt from three components:
// consolidated media analyses, the shared-domain summary, and per-target
// activity summaries. Returns "" when there is nothing to analyze.
func buildUserPrompt(query string, collected []targetData) string {
	var summaries []string
	var analyses []string

	for _, td := range collected {
		if s := formatTargetSummary(td.Doc); s != "" {
			summaries = append(summaries, s)
		}
		for _, rec := range td.Doc.Records {
			for _, art := range rec.Artifacts {
				if art.Analysis == "" {
					continue
				}
				analyses = append(analyses, fmt.Sprintf(
					"- **Image Source:** [%s](%s)\n- **Analysis:**\n%s",
					art.URL, art.URL, art.Analysis,
				))
			}
		}
	}
	if len(summaries) == 0 && len(analyses) == 0 {
		return ""
	}

	var components []string
	if len(analyses) > 0 {
		components = append(components,
			"## Consolidated Media Analysis:\n\n"+strings.Join(dedupeSorted(analyses), "\n\n"))
	}
	if domains := formatSharedDomains(collected); domains != "" {
		components = append(components, domains)
	}
	if len(summaries) > 0 {
		components = append(components,
			"## Collected Textual & Activity Data Summary:\n\n"+strings.Join(summaries, "\n\n---\n\n"))
	}

	return "**Analysis Query:** " + query + "\n\n**Provided Data:**\n\n" +
		strings.Join(components, "\n\n===\n\n")
}

// formatTargetSummary renders one target's profile and recent activity
// as a Markdown block for the synthesis prompt.
func formatTargetSummary(doc *model.Document) string {
	if doc == nil || doc.Profile == nil {
		return ""
	}
	prof := doc.Profile

	var b strings.Builder
	fmt.Fprintf(&b, "### %s Data Summary for: %s\n", titleCase(prof.Source), prof.Handle)
	b.WriteString("\n**User Profile:**\n")
	if prof.CreatedAt != nil {
		fmt.Fprintf(&b, "- Account Created: %s\n", prof.CreatedAt.Format("2006-01-02"))
	}
	if bio := strings.TrimSpace(prof.Bio); bio != "" {
		fmt.Fprintf(&b, "- Bio: %s\n", bio)
	}
	if len(prof.Metrics) > 0 {
		fmt.Fprintf(&b, "- Stats: %s\n", formatMetrics(prof.Metrics))
	}

	if len(doc.Records) > 0 {
		fmt.Fprintf(&b, "\n**Recent Activity (up to %d items shown):**\n", maxSummaryRecords)
		for i, rec := range doc.Records {
			if i >= maxSummaryRecords {
				break
			}
			info := []string{rec.Type}
			if n := len(rec.Artifacts); n > 0 {
				info = append(info, fmt.Sprintf("Media: %d", n))
			}
			for _, ctxKey := range []string{"repo", "subreddit"} {
				if v := rec.Context[ctxKey]; v != "" {
					info = append(info, fmt.Sprintf("%s: %s", titleCase(ctxKey), v))
				}
			}
			fmt.Fprintf(&b, "- Item %d (%s) (%s):\n  Content: %s\n",
				i+1, rec.CreatedAt.Format("2006-01-02"), strings.Join(info, ", "),
				truncateRunes(strings.TrimSpace(rec.Text), maxSummaryTextRunes))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// formatSharedDomains counts the external domains linked across all
// records and renders the most frequent ones. Platform self-links are
// excluded. Returns "" when no external links exist.
func formatSharedDomains(collected []targetData) string {
	counts := map[string]int{}
	for _, td := range collected {
		for _, rec := range td.Doc.Records {
			for _, link := range rec.ExternalLinks {
				u, err := url.Parse(link)
				if err != nil || u.Host == "" {
					continue
				}
				domain := strings.TrimPrefix(u.Host, "www.")
				if _, self := platformDomains[domain]; self {
					continue
				}
				counts[domain]++
			}
		}
	}
	if len(counts) == 0 {
		return ""
	}

	type domainCount struct {
		domain string
		count  int
	}
	ranked := make([]domainCount, 0, len(counts))
	for d, c := range counts {
		ranked = append(ranked, domainCount{d, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].domain < ranked[j].domain
	})
	if len(ranked) > maxSharedDomains {
		ranked = ranked[:maxSharedDomains]
	}

	lines := []string{"## Top Shared Domains"}
	for _, dc := range ranked {
		lines = append(lines, fmt.Sprintf("- **%s:** %d link(s)", dc.domain, dc.count))
	}
	return strings.Join(lines, "\n")
}

// renderReport prepends the metadata header to the synthesized body and
// appends the failure ledger, so a partial result is never presented as
// a complete one.
func renderReport(rep model.Report) string {
	mode := "Online"
	if rep.Offline {
		mode = "Offline"
	}
	header := fmt.Sprintf(
		"# OSINT Analysis Report\n\n"+
			"**Query:** `%s`\n"+
			"**Generated:** `%s`\n"+
			"**Mode:** `%s`\n"+
			"**Models Used:**\n- Text: `%s`\n- Image: `%s`\n\n---\n\n",
		rep.Query,
		rep.GeneratedAt.Format("2006-01-02 15:04:05 UTC"),
		mode,
		rep.Model,
		rep.VisionModel,
	)
	out := header + rep.Body
	if len(rep.Failures) > 0 {
		out += "\n\n---\n\n" + formatFailures(rep.Failures)
	}
	return out
}

// formatFailures lists every target and artifact dropped during the run.
// Rate-limit entries carry the provider's reset time when one was
// reported.
func formatFailures(failures []model.Failure) string {
	lines := []string{"## Failures", ""}
	for _, f := range failures {
		line := fmt.Sprintf("- **%s** (%s): %s", f.Key, f.Kind, f.Reason)
		if f.ResetAt != nil {
			line += fmt.Sprintf(" (resets at %s)", f.ResetAt.UTC().Format("2006-01-02 15:04:05 UTC"))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatMetrics(metrics map[string]int) string {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		label := titleCase(strings.ReplaceAll(k, "_", " "))
		parts = append(parts, fmt.Sprintf("%s=%d", label, metrics[k]))
	}
	return strings.Join(parts, ", ")
}

func dedupeSorted(items []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, dup := seen[it]; dup {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
