package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/osint-cli/internal/cache"
	"github.com/sells-group/osint-cli/internal/media"
	"github.com/sells-group/osint-cli/internal/model"
	"github.com/sells-group/osint-cli/internal/resilience"
)

// fakeSource is a scriptable Source for coordinator tests.
type fakeSource struct {
	name       string
	profile    *model.Profile
	profileErr error
	records    []model.Record
	recordsErr error
	hosts      []string

	profileCalls int
	recordCalls  int
	lastLimit    int
	lastSeen     map[string]struct{}
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) FetchProfile(ctx context.Context, handle string) (*model.Profile, error) {
	f.profileCalls++
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	return f.profile, nil
}

func (f *fakeSource) FetchRecords(ctx context.Context, handle string, limit int, seen map[string]struct{}) ([]model.Record, error) {
	f.recordCalls++
	f.lastLimit = limit
	f.lastSeen = seen
	if f.recordsErr != nil {
		return nil, f.recordsErr
	}
	if len(f.records) > limit {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func (f *fakeSource) MediaHosts() []string            { return f.hosts }
func (f *fakeSource) MediaHeaders() map[string]string { return nil }

func fakeProfile() *model.Profile {
	return &model.Profile{Source: "fake", ID: "1", Handle: "alice", URL: "https://example.com/alice"}
}

func fakeRecords(n int, from time.Time) []model.Record {
	return fakeRecordsPrefixed("r", n, from)
}

func fakeRecordsPrefixed(prefix string, n int, from time.Time) []model.Record {
	records := make([]model.Record, n)
	for i := range records {
		records[i] = model.Record{
			Source:    "fake",
			ID:        fmt.Sprintf("%s%d", prefix, i),
			CreatedAt: from.Add(-time.Duration(i) * time.Minute),
			Type:      "post",
		}
	}
	return records
}

func newTestCoordinator(t *testing.T, src *fakeSource) (*Coordinator, *cache.Cache) {
	t.Helper()
	c, err := cache.New(t.TempDir(), 24*time.Hour)
	require.NoError(t, err)
	m, err := media.New(t.TempDir(), media.Options{})
	require.NoError(t, err)
	return NewCoordinator(Registry{src.name: src}, c, m), c
}

func TestCollect_UnknownSource(t *testing.T) {
	coord, _ := newTestCoordinator(t, &fakeSource{name: "fake"})

	_, err := coord.Collect(context.Background(), model.Target{Source: "nope", Handle: "x"}, CollectOptions{DesiredCount: 10})
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestCollect_FreshCacheHit(t *testing.T) {
	now := time.Now().UTC()
	src := &fakeSource{name: "fake", profile: fakeProfile()}
	coord, c := newTestCoordinator(t, src)

	target := model.Target{Source: "fake", Handle: "alice"}
	require.NoError(t, c.Save(target, &model.Document{
		Profile:   fakeProfile(),
		Records:   fakeRecords(50, now),
		FetchedAt: now.Add(-time.Hour),
	}))

	res, err := coord.Collect(context.Background(), target, CollectOptions{DesiredCount: 50})
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, 0, src.profileCalls, "cache hit must not touch the network")
	assert.Equal(t, 0, src.recordCalls)
}

func TestCollect_DeficitFetch(t *testing.T) {
	now := time.Now().UTC()
	src := &fakeSource{name: "fake", profile: fakeProfile(), records: fakeRecordsPrefixed("new", 20, now)}
	coord, c := newTestCoordinator(t, src)

	target := model.Target{Source: "fake", Handle: "alice"}
	cached := fakeRecords(30, now.Add(-48*time.Hour))
	require.NoError(t, c.Save(target, &model.Document{
		Profile:   fakeProfile(),
		Records:   cached,
		FetchedAt: now.Add(-time.Hour),
	}))

	res, err := coord.Collect(context.Background(), target, CollectOptions{DesiredCount: 50})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 20, src.lastLimit, "fetchers receive the deficit, not the full desired count")
	assert.Len(t, src.lastSeen, 30)
	assert.Equal(t, 1, src.profileCalls, "profile refreshes on every network fetch")
	assert.Equal(t, 20, res.Fetched)
	assert.Len(t, res.Document.Records, 50)
}

func TestCollect_StaleButSufficient_ProfileOnlyRefresh(t *testing.T) {
	now := time.Now().UTC()
	src := &fakeSource{name: "fake", profile: fakeProfile()}
	coord, c := newTestCoordinator(t, src)
	coord.now = func() time.Time { return now }

	target := model.Target{Source: "fake", Handle: "alice"}
	require.NoError(t, c.Save(target, &model.Document{
		Profile:   fakeProfile(),
		Records:   fakeRecords(50, now),
		FetchedAt: now.Add(-30 * time.Hour), // past the 24h TTL
	}))

	res, err := coord.Collect(context.Background(), target, CollectOptions{DesiredCount: 50})
	require.NoError(t, err)
	assert.Equal(t, 1, src.profileCalls)
	assert.Equal(t, 0, src.recordCalls, "no deficit means no record fetch")
	assert.True(t, res.Document.FetchedAt.Equal(now), "fetch path stamps a fresh timestamp")
}

func TestCollect_ForceRefreshIgnoresCachedRecords(t *testing.T) {
	now := time.Now().UTC()
	src := &fakeSource{name: "fake", profile: fakeProfile(), records: fakeRecords(10, now)}
	coord, c := newTestCoordinator(t, src)

	target := model.Target{Source: "fake", Handle: "alice"}
	require.NoError(t, c.Save(target, &model.Document{
		Profile:   fakeProfile(),
		Records:   fakeRecords(50, now),
		FetchedAt: now.Add(-time.Minute),
	}))

	res, err := coord.Collect(context.Background(), target, CollectOptions{DesiredCount: 40, ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, 40, src.lastLimit, "force refresh requests the full desired count")
	assert.Empty(t, src.lastSeen)
	assert.Len(t, res.Document.Records, 10)
}

func TestCollect_OfflineServesAnyCache(t *testing.T) {
	now := time.Now().UTC()
	src := &fakeSource{name: "fake", profile: fakeProfile()}
	coord, c := newTestCoordinator(t, src)

	target := model.Target{Source: "fake", Handle: "alice"}
	require.NoError(t, c.Save(target, &model.Document{
		Profile:   fakeProfile(),
		Records:   fakeRecords(5, now),
		FetchedAt: now.Add(-90 * 24 * time.Hour),
	}))

	res, err := coord.Collect(context.Background(), target, CollectOptions{DesiredCount: 50, Offline: true})
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, 0, src.profileCalls)
}

func TestCollect_OfflineMissFails(t *testing.T) {
	src := &fakeSource{name: "fake", profile: fakeProfile()}
	coord, _ := newTestCoordinator(t, src)

	_, err := coord.Collect(context.Background(), model.Target{Source: "fake", Handle: "ghost"}, CollectOptions{DesiredCount: 10, Offline: true})
	require.Error(t, err)
	assert.Equal(t, 0, src.profileCalls)
}

func TestCollect_ProfileErrorPropagates(t *testing.T) {
	src := &fakeSource{name: "fake", profileErr: &resilience.RateLimitError{Provider: "fake"}}
	coord, _ := newTestCoordinator(t, src)

	_, err := coord.Collect(context.Background(), model.Target{Source: "fake", Handle: "alice"}, CollectOptions{DesiredCount: 10})
	_, limited := resilience.IsRateLimited(err)
	assert.True(t, limited)
}

func TestCollect_MediaFailureDoesNotFailTarget(t *testing.T) {
	now := time.Now().UTC()
	records := fakeRecords(1, now)
	records[0].Artifacts = []model.Artifact{{URL: "https://evil.example.com/x.jpg", Type: model.ArtifactImage}}

	src := &fakeSource{name: "fake", profile: fakeProfile(), records: records, hosts: []string{"cdn.fake.example"}}
	coord, _ := newTestCoordinator(t, src)

	res, err := coord.Collect(context.Background(), model.Target{Source: "fake", Handle: "alice"}, CollectOptions{DesiredCount: 1})
	require.NoError(t, err)
	require.Len(t, res.MediaFailures, 1)
	assert.Equal(t, model.FailureOriginBlocked, res.MediaFailures[0].Kind)
	assert.Empty(t, res.Document.Records[0].Artifacts[0].LocalPath)
}

func TestCollect_MediaStoredAndPathRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	now := time.Now().UTC()
	records := fakeRecords(1, now)
	records[0].Artifacts = []model.Artifact{{URL: srv.URL + "/pic.jpg", Type: model.ArtifactImage}}

	src := &fakeSource{name: "fake", profile: fakeProfile(), records: records, hosts: []string{"127.0.0.1"}}
	coord, c := newTestCoordinator(t, src)

	target := model.Target{Source: "fake", Handle: "alice"}
	res, err := coord.Collect(context.Background(), target, CollectOptions{DesiredCount: 1})
	require.NoError(t, err)
	assert.Empty(t, res.MediaFailures)
	assert.FileExists(t, res.Document.Records[0].Artifacts[0].LocalPath)

	// The persisted document carries the local path too.
	loaded, err := c.Load(target)
	require.NoError(t, err)
	assert.NotEmpty(t, loaded.Records[0].Artifacts[0].LocalPath)
}
