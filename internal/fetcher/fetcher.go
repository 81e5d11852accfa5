// Package fetcher defines the per-source fetch capability, the static
// source registry, and the coordinator that decides between cache hits,
// deficit fetches and full refetches.
package fetcher

import (
	"context"

	"github.com/sells-group/osint-cli/internal/model"
)

// Source is the capability one data source implements. The coordinator
// is polymorphic over this interface and assumes nothing source-specific
// beyond it.
type Source interface {
	// Name returns the source identifier used in cache keys and records.
	Name() string

	// FetchProfile returns the current profile for a handle. Implementations
	// surface rate limits, missing users and auth failures as the typed
	// errors in internal/resilience.
	FetchProfile(ctx context.Context, handle string) (*model.Profile, error)

	// FetchRecords returns up to limit records for a handle, skipping any
	// whose dedup key is already in seen. limit is always the deficit
	// computed by the coordinator, never the caller's full desired count.
	FetchRecords(ctx context.Context, handle string, limit int, seen map[string]struct{}) ([]model.Record, error)

	// MediaHosts returns the CDN allowlist for artifacts found on this source.
	MediaHosts() []string

	// MediaHeaders returns auth headers required to fetch this source's media.
	MediaHeaders() map[string]string
}

// Registry maps source names to their implementations. It is built
// statically at startup; there is no plugin loading.
type Registry map[string]Source

// NewRegistry builds the standard source table.
func NewRegistry(api *APIClient, opts SourceOptions) Registry {
	sources := []Source{
		NewHackerNews(api, opts.HackerNews),
		NewGitHub(api, opts.GitHub),
		NewReddit(api, opts.Reddit),
	}
	reg := make(Registry, len(sources))
	for _, s := range sources {
		reg[s.Name()] = s
	}
	return reg
}

// SourceOptions carries per-source settings threaded in from config.
type SourceOptions struct {
	HackerNews HackerNewsOptions
	GitHub     GitHubOptions
	Reddit     RedditOptions
}

// Names returns the registered source names.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	return names
}
