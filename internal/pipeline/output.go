package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/osint-cli/internal/model"
)

// SaveReport writes the rendered report under <outputDir>, named
// analysis_<ts>_<sources>_<query>.<ext>. Format "json" wraps the
// Markdown in a metadata envelope; anything else saves raw Markdown.
// Returns the path written.
func SaveReport(outputDir string, rep model.Report, targets []model.Target, format string) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", eris.Wrap(err, "pipeline: create output dir")
	}

	sources := map[string]struct{}{}
	for _, t := range targets {
		sources[t.Source] = struct{}{}
	}
	names := make([]string, 0, len(sources))
	for s := range sources {
		names = append(names, s)
	}
	sort.Strings(names)
	safeSources := strings.Join(names, "_")
	if safeSources == "" {
		safeSources = "sources"
	}

	base := fmt.Sprintf("analysis_%s_%s_%s",
		time.Now().Format("20060102_150405"), safeSources, safeQueryName(rep.Query))

	ext := "md"
	if format == "json" {
		ext = "json"
	}
	path := filepath.Join(outputDir, base+"."+ext)

	var payload []byte
	if format == "json" {
		envelope := map[string]any{
			"analysis_metadata":        rep,
			"analysis_report_markdown": renderReport(rep),
		}
		var err error
		payload, err = json.MarshalIndent(envelope, "", "  ")
		if err != nil {
			return "", eris.Wrap(err, "pipeline: marshal report")
		}
	} else {
		payload = []byte(renderReport(rep))
	}

	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", eris.Wrap(err, "pipeline: write report")
	}
	return path, nil
}

// safeQueryName derives a filesystem-safe slug from the first 30
// characters of the query.
func safeQueryName(query string) string {
	if len(query) > 30 {
		query = query[:30]
	}
	var b strings.Builder
	for _, r := range query {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '_', r == '-':
			b.WriteRune('_')
		}
	}
	slug := strings.Trim(b.String(), "_")
	if slug == "" {
		return "query"
	}
	return slug
}
