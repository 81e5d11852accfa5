package fetcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/osint-cli/internal/cache"
	"github.com/sells-group/osint-cli/internal/media"
	"github.com/sells-group/osint-cli/internal/merge"
	"github.com/sells-group/osint-cli/internal/model"
	"github.com/sells-group/osint-cli/internal/resilience"
)

// mediaConcurrency bounds parallel artifact downloads within a single
// target. The content store's per-key locks make this safe.
const mediaConcurrency = 4

// ErrUnknownSource is returned for targets whose source has no
// registered fetcher.
var ErrUnknownSource = eris.New("fetcher: unknown source")

// CollectOptions are the per-run knobs threaded in from the CLI.
type CollectOptions struct {
	DesiredCount int
	ForceRefresh bool
	Offline      bool
}

// CollectResult is the outcome of collecting one target.
type CollectResult struct {
	Document  *model.Document
	FromCache bool
	Fetched   int
	// MediaFailures lists artifacts that were dropped (blocked origin,
	// rejected content type, download error) without failing the target.
	MediaFailures []model.Failure
}

// Coordinator decides, per target, between serving the cache, fetching
// only the record deficit, or refetching from scratch. It owns the
// fetch/merge/download/persist sequence for a single target; failures
// never leak past the caller's per-target loop.
type Coordinator struct {
	registry Registry
	cache    *cache.Cache
	media    *media.Store
	now      func() time.Time
}

// NewCoordinator wires the coordinator with its collaborators.
func NewCoordinator(reg Registry, c *cache.Cache, m *media.Store) *Coordinator {
	return &Coordinator{registry: reg, cache: c, media: m, now: time.Now}
}

// Collect produces the up-to-date document for one target.
//
// Decision ladder:
//  1. offline: serve whatever the cache holds, however old, no network;
//  2. cache fresh and record count sufficient (and no force-refresh):
//     serve the cache, no network;
//  3. otherwise fetch: the profile is always re-fetched and replaced,
//     records are requested only for the deficit between cached and
//     desired, merged by (source, id), and the document is persisted
//     with a fresh timestamp.
func (c *Coordinator) Collect(ctx context.Context, target model.Target, opts CollectOptions) (*CollectResult, error) {
	src, ok := c.registry[target.Source]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownSource, "fetcher: no fetcher for %q", target.Source)
	}

	log := zap.L().With(zap.String("target", target.String()))

	cached, err := c.cache.Load(target)
	if err != nil {
		return nil, err
	}

	if opts.Offline {
		if cached == nil {
			return nil, eris.Errorf("fetcher: %s not cached and offline", target)
		}
		log.Info("fetcher: offline, serving cache",
			zap.Int("records", len(cached.Records)),
		)
		return &CollectResult{Document: cached, FromCache: true}, nil
	}

	now := c.now()
	if !opts.ForceRefresh && c.cache.IsFresh(cached, now, false) && len(cached.Records) >= opts.DesiredCount {
		log.Info("fetcher: cache hit with sufficient records",
			zap.Int("records", len(cached.Records)),
		)
		return &CollectResult{Document: cached, FromCache: true}, nil
	}

	// Fetch path. The profile is refreshed on every fetch, including
	// deficit-only ones, so identity metadata can never outlive the TTL.
	profile, err := src.FetchProfile(ctx, target.Handle)
	if err != nil {
		return nil, err
	}

	var existing []model.Record
	if !opts.ForceRefresh && cached != nil {
		existing = cached.Records
	}

	deficit := merge.Deficit(len(existing), opts.DesiredCount)
	var incoming []model.Record
	if deficit > 0 {
		incoming, err = src.FetchRecords(ctx, target.Handle, deficit, merge.SeenIDs(existing))
		if err != nil {
			return nil, err
		}
	}

	merged, added := merge.Records(existing, incoming, opts.DesiredCount)
	log.Info("fetcher: fetched",
		zap.Int("deficit", deficit),
		zap.Int("new_records", added),
		zap.Int("total_records", len(merged)),
	)

	doc := &model.Document{
		Profile:   profile,
		Records:   merged,
		FetchedAt: now,
	}

	mediaFailures, err := c.resolveArtifacts(ctx, src, doc)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Save(target, doc); err != nil {
		return nil, err
	}

	return &CollectResult{Document: doc, Fetched: added, MediaFailures: mediaFailures}, nil
}

// resolveArtifacts downloads every artifact that has no local copy yet.
// Per-artifact failures are collected, not fatal; a rate limit from the
// media CDN aborts the whole target like any other rate limit.
func (c *Coordinator) resolveArtifacts(ctx context.Context, src Source, doc *model.Document) ([]model.Failure, error) {
	var (
		mu       sync.Mutex
		failures []model.Failure
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(mediaConcurrency)

	for i := range doc.Records {
		for j := range doc.Records[i].Artifacts {
			art := &doc.Records[i].Artifacts[j]
			if art.LocalPath != "" || art.URL == "" {
				continue
			}
			g.Go(func() error {
				path, err := c.media.EnsureStored(gCtx, media.Request{
					URL:     art.URL,
					Source:  src.Name(),
					Kind:    art.Type,
					Headers: src.MediaHeaders(),
					Hosts:   src.MediaHosts(),
				})
				if err == nil {
					art.LocalPath = path
					return nil
				}

				if rle, limited := resilience.IsRateLimited(err); limited {
					return rle
				}

				mu.Lock()
				failures = append(failures, mediaFailure(art.URL, err))
				mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return failures, err
	}
	return failures, nil
}

func mediaFailure(url string, err error) model.Failure {
	kind := model.FailureTransport
	var cte *resilience.ContentTypeError
	switch {
	case errors.As(err, &cte):
		kind = model.FailureContentType
	case errors.Is(err, media.ErrUnsafeOrigin):
		kind = model.FailureOriginBlocked
	case errors.Is(err, media.ErrOfflineMiss):
		// Offline misses are expected, not failures worth reporting,
		// but account for them anyway per the no-silent-drops rule.
		kind = model.FailureTransport
	}
	return model.Failure{Key: url, Kind: kind, Reason: err.Error()}
}
