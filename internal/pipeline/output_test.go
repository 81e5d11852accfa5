package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/osint-cli/internal/model"
)

func sampleReport() model.Report {
	return model.Report{
		Query:       "who is alice",
		GeneratedAt: time.Now().UTC(),
		Model:       "text-model",
		VisionModel: "vision-model",
		Body:        "Findings.",
	}
}

func TestSaveReport_Markdown(t *testing.T) {
	dir := t.TempDir()
	targets := []model.Target{
		{Source: "reddit", Handle: "alice"},
		{Source: "github", Handle: "alice"},
		{Source: "reddit", Handle: "bob"},
	}

	path, err := SaveReport(dir, sampleReport(), targets, "md")
	require.NoError(t, err)

	name := filepath.Base(path)
	assert.Regexp(t, regexp.MustCompile(`^analysis_\d{8}_\d{6}_github_reddit_who_is_alice\.md$`), name)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "# OSINT Analysis Report"))
	assert.Contains(t, string(raw), "Findings.")
}

func TestSaveReport_JSONEnvelope(t *testing.T) {
	dir := t.TempDir()

	path, err := SaveReport(dir, sampleReport(), []model.Target{{Source: "github", Handle: "alice"}}, "json")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".json"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var envelope struct {
		Metadata model.Report `json:"analysis_metadata"`
		Markdown string       `json:"analysis_report_markdown"`
	}
	require.NoError(t, json.Unmarshal(raw, &envelope))
	assert.Equal(t, "who is alice", envelope.Metadata.Query)
	assert.Contains(t, envelope.Markdown, "# OSINT Analysis Report")
}

func TestSaveReport_CreatesOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "outputs")

	path, err := SaveReport(dir, sampleReport(), nil, "md")
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Contains(t, filepath.Base(path), "_sources_", "no targets falls back to a generic source slug")
}

func TestSafeQueryName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"who is alice", "who_is_alice"},
		{"c++ & rust?!", "c__rust"},
		{"  spaces  ", "spaces"},
		{"", "query"},
		{"???", "query"},
		{strings.Repeat("a", 40), strings.Repeat("a", 30)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, safeQueryName(tt.in), "input %q", tt.in)
	}
}
