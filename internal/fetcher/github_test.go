package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/osint-cli/internal/resilience"
)

func TestGitHub_FetchProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/octocat", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":583231,"login":"octocat","name":"The Octocat","bio":"Mascot","created_at":"2011-01-25T18:44:36Z","html_url":"https://github.com/octocat","followers":10000,"following":9,"public_repos":8}`))
	}))
	defer srv.Close()

	gh := NewGitHub(testAPIClient(), GitHubOptions{Token: "test-token", BaseURL: srv.URL})
	profile, err := gh.FetchProfile(context.Background(), "octocat")
	require.NoError(t, err)

	assert.Equal(t, "github", profile.Source)
	assert.Equal(t, "583231", profile.ID)
	assert.Equal(t, "octocat", profile.Handle)
	assert.Equal(t, "The Octocat", profile.DisplayName)
	assert.Equal(t, 10000, profile.Metrics["followers"])
	require.NotNil(t, profile.CreatedAt)
	assert.Equal(t, 2011, profile.CreatedAt.Year())
}

func TestGitHub_FetchProfile_NoToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":1,"login":"octocat"}`))
	}))
	defer srv.Close()

	gh := NewGitHub(testAPIClient(), GitHubOptions{BaseURL: srv.URL})
	_, err := gh.FetchProfile(context.Background(), "octocat")
	require.NoError(t, err)
}

func TestGitHub_FetchProfile_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	gh := NewGitHub(testAPIClient(), GitHubOptions{BaseURL: srv.URL})
	_, err := gh.FetchProfile(context.Background(), "ghost")

	var nfe *resilience.NotFoundError
	require.ErrorAs(t, err, &nfe)
	assert.Equal(t, "github", nfe.Source)
}

func TestGitHub_FetchProfile_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", "1900000000")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	gh := NewGitHub(testAPIClient(), GitHubOptions{BaseURL: srv.URL})
	_, err := gh.FetchProfile(context.Background(), "octocat")

	rle, limited := resilience.IsRateLimited(err)
	require.True(t, limited, "exhausted quota beats the 403 status")
	assert.False(t, rle.ResetAt.IsZero())
}

func TestGitHub_FetchRecords_Paginates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, `[
				{"id":"9001","type":"PushEvent","created_at":"2026-02-01T10:00:00Z","actor":{"login":"octocat"},"repo":{"name":"octocat/hello"},"payload":{"commits":[{"url":"a"},{"url":"b"}]}},
				{"id":"9002","type":"IssuesEvent","created_at":"2026-02-01T09:00:00Z","actor":{"login":"octocat"},"repo":{"name":"octocat/hello"},"payload":{"action":"opened","issue":{"number":12,"title":"Bug","html_url":"https://github.com/octocat/hello/issues/12"}}}
			]`)
		case "2":
			fmt.Fprint(w, `[
				{"id":"9003","type":"WatchEvent","created_at":"2026-01-31T09:00:00Z","actor":{"login":"octocat"},"repo":{"name":"torvalds/linux"},"payload":{}}
			]`)
		default:
			fmt.Fprint(w, `[]`)
		}
	}))
	defer srv.Close()

	gh := NewGitHub(testAPIClient(), GitHubOptions{BaseURL: srv.URL})
	records, err := gh.FetchRecords(context.Background(), "octocat", 3, nil)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "Pushed 2 commit(s) to octocat/hello", records[0].Text)
	assert.Contains(t, records[1].Text, "opened issue #12")
	assert.Equal(t, "https://github.com/octocat/hello/issues/12", records[1].URL)
	assert.Equal(t, "torvalds/linux", records[2].Context["repo"])
}

func TestGitHub_FetchRecords_StopsAtEmptyPage(t *testing.T) {
	pages := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	gh := NewGitHub(testAPIClient(), GitHubOptions{BaseURL: srv.URL})
	records, err := gh.FetchRecords(context.Background(), "octocat", 50, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 1, pages)
}
