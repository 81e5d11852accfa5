package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/osint-cli/internal/cache"
	"github.com/sells-group/osint-cli/internal/fetcher"
	"github.com/sells-group/osint-cli/internal/media"
	"github.com/sells-group/osint-cli/internal/pipeline"
	"github.com/sells-group/osint-cli/internal/store"
	"github.com/sells-group/osint-cli/pkg/anthropic"
)

// appEnv bundles the wired components a command needs.
type appEnv struct {
	Store    store.Store
	Cache    *cache.Cache
	Pipeline *pipeline.Pipeline
}

func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens and migrates the run ledger.
func initStore(ctx context.Context) (store.Store, error) {
	if dir := filepath.Dir(cfg.Store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrap(err, "create store dir")
		}
	}
	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// initCache opens the document cache under the data directory.
func initCache() (*cache.Cache, error) {
	return cache.New(
		filepath.Join(cfg.Data.Dir, "cache"),
		time.Duration(cfg.Cache.TTLHours)*time.Hour,
	)
}

// initPipeline wires the full pipeline. offline and unsafeMedia are
// per-invocation flags, not config, so they are passed in.
func initPipeline(ctx context.Context, offline, unsafeMedia bool) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	docCache, err := initCache()
	if err != nil {
		st.Close()
		return nil, err
	}

	mediaStore, err := media.New(filepath.Join(cfg.Data.Dir, "media"), media.Options{
		AllowExternal: unsafeMedia || cfg.Fetch.UnsafeExternalMedia,
		Offline:       offline,
		Timeout:       time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		UserAgent:     cfg.Fetch.UserAgent,
		RateLimit:     cfg.Fetch.MediaRateLimit,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	api := fetcher.NewAPIClient(fetcher.APIOptions{
		Timeout:   time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		UserAgent: cfg.Fetch.UserAgent,
	})
	registry := fetcher.NewRegistry(api, fetcher.SourceOptions{
		GitHub: fetcher.GitHubOptions{Token: cfg.Sources.GitHub.Token},
		Reddit: fetcher.RedditOptions{UserAgent: cfg.Sources.Reddit.UserAgent},
	})

	coord := fetcher.NewCoordinator(registry, docCache, mediaStore)
	ai := anthropic.NewClient(cfg.Anthropic.Key)

	return &appEnv{
		Store:    st,
		Cache:    docCache,
		Pipeline: pipeline.New(cfg, st, coord, docCache, ai),
	}, nil
}
