package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/osint-cli/internal/model"
)

func TestParseTarget(t *testing.T) {
	got, err := parseTarget("github/octocat")
	require.NoError(t, err)
	assert.Equal(t, model.Target{Source: "github", Handle: "octocat"}, got)

	// Handles may themselves contain a slash.
	got, err = parseTarget("reddit/u/nested")
	require.NoError(t, err)
	assert.Equal(t, model.Target{Source: "reddit", Handle: "u/nested"}, got)
}

func TestParseTarget_Invalid(t *testing.T) {
	for _, raw := range []string{"", "github", "/octocat", "github/"} {
		_, err := parseTarget(raw)
		assert.Error(t, err, "input %q", raw)
	}
}

func TestTargetsFromMap(t *testing.T) {
	got := targetsFromMap(map[string][]string{
		"reddit":     {"spez", " alice ", ""},
		"github":     {"octocat"},
		"hackernews": nil,
	})

	assert.Equal(t, []model.Target{
		{Source: "github", Handle: "octocat"},
		{Source: "reddit", Handle: "spez"},
		{Source: "reddit", Handle: "alice"},
	}, got, "sources are sorted and handles trimmed")
}

func TestLoadTargetsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
github:
  - octocat
reddit:
  - spez
`), 0o644))

	got, err := loadTargetsFile(path)
	require.NoError(t, err)
	assert.Equal(t, []model.Target{
		{Source: "github", Handle: "octocat"},
		{Source: "reddit", Handle: "spez"},
	}, got)
}

func TestLoadTargetsFile_Missing(t *testing.T) {
	_, err := loadTargetsFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadTargetsFile_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("github: {not: [a, list"), 0o644))

	_, err := loadTargetsFile(path)
	assert.Error(t, err)
}

func TestFormatRunsList(t *testing.T) {
	runs := []model.Run{
		{
			ID:      "abc-123",
			Query:   strings.Repeat("q", 50),
			Targets: []model.Target{{Source: "github", Handle: "octocat"}},
			Status:  model.RunStatusComplete,
			Result:  &model.RunResult{TargetsOK: 1, TargetsFailed: 0},
		},
		{
			ID:     "def-456",
			Query:  "short",
			Status: model.RunStatusFailed,
		},
	}

	var b strings.Builder
	formatRunsList(&b, runs)
	out := b.String()

	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "abc-123")
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "def-456")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, strings.Repeat("q", 37)+"...", "long queries are truncated")
	assert.NotContains(t, out, strings.Repeat("q", 38))
}
