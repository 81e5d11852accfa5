package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/osint-cli/internal/model"
	"github.com/sells-group/osint-cli/internal/resilience"
)

// localhostOnly allowlists the httptest server.
var localhostOnly = []string{"127.0.0.1"}

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := New(t.TempDir(), opts)
	require.NoError(t, err)
	return s
}

func TestNew_RateLimitOption(t *testing.T) {
	slow := newTestStore(t, Options{RateLimit: 0.5})
	l := slow.limiter("https://i.redd.it/a.jpg")
	assert.Equal(t, rate.Limit(0.5), l.Limit())
	assert.Equal(t, 1, l.Burst(), "sub-1 rps still allows a single request")

	def := newTestStore(t, Options{})
	dl := def.limiter("https://i.redd.it/a.jpg")
	assert.Equal(t, rate.Limit(2), dl.Limit())
	assert.Equal(t, 4, dl.Burst())
}

func TestEnsureStored_DownloadsOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	s := newTestStore(t, Options{})
	req := Request{URL: srv.URL + "/pic.png", Source: "reddit", Kind: model.ArtifactImage, Hosts: localhostOnly}

	first, err := s.EnsureStored(context.Background(), req)
	require.NoError(t, err)
	assert.FileExists(t, first)

	second, err := s.EnsureStored(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), hits.Load(), "same URL must not be downloaded twice")
}

func TestEnsureStored_ConcurrentSameKey(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	s := newTestStore(t, Options{})
	req := Request{URL: srv.URL + "/same.jpg", Source: "reddit", Kind: model.ArtifactImage, Hosts: localhostOnly}

	var wg sync.WaitGroup
	paths := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := s.EnsureStored(context.Background(), req)
			assert.NoError(t, err)
			paths[i] = p
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load(), "per-key lock must serialize check-then-download")
	for _, p := range paths[1:] {
		assert.Equal(t, paths[0], p)
	}
}

func TestEnsureStored_RejectsContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html>not an image</html>"))
	}))
	defer srv.Close()

	s := newTestStore(t, Options{})
	_, err := s.EnsureStored(context.Background(), Request{
		URL: srv.URL + "/fake.jpg", Source: "reddit", Kind: model.ArtifactImage, Hosts: localhostOnly,
	})

	var cte *resilience.ContentTypeError
	require.ErrorAs(t, err, &cte)
	assert.Equal(t, "text/html", cte.ContentType)
}

func TestEnsureStored_KindMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	s := newTestStore(t, Options{})
	// A video artifact must not accept an image response.
	_, err := s.EnsureStored(context.Background(), Request{
		URL: srv.URL + "/clip.mp4", Source: "reddit", Kind: model.ArtifactVideo, Hosts: localhostOnly,
	})

	var cte *resilience.ContentTypeError
	assert.ErrorAs(t, err, &cte)
}

func TestEnsureStored_BlocksUnlistedOrigin(t *testing.T) {
	s := newTestStore(t, Options{})
	_, err := s.EnsureStored(context.Background(), Request{
		URL:    "https://evil.example.com/x.jpg",
		Source: "reddit",
		Kind:   model.ArtifactImage,
		Hosts:  []string{"i.redd.it"},
	})
	assert.ErrorIs(t, err, ErrUnsafeOrigin)
}

func TestEnsureStored_AllowExternalOverridesAllowlist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/gif")
		w.Write([]byte("gif-bytes"))
	}))
	defer srv.Close()

	s := newTestStore(t, Options{AllowExternal: true})
	path, err := s.EnsureStored(context.Background(), Request{
		URL: srv.URL + "/x.gif", Source: "reddit", Kind: model.ArtifactGIF, Hosts: nil,
	})
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestEnsureStored_OfflineMiss(t *testing.T) {
	s := newTestStore(t, Options{Offline: true})
	_, err := s.EnsureStored(context.Background(), Request{
		URL: "https://i.redd.it/missing.jpg", Source: "reddit", Kind: model.ArtifactImage, Hosts: []string{"i.redd.it"},
	})
	assert.ErrorIs(t, err, ErrOfflineMiss)
}

func TestEnsureStored_OfflineHit(t *testing.T) {
	dir := t.TempDir()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	online, err := New(dir, Options{})
	require.NoError(t, err)
	req := Request{URL: srv.URL + "/keep.jpg", Source: "reddit", Kind: model.ArtifactImage, Hosts: localhostOnly}
	stored, err := online.EnsureStored(context.Background(), req)
	require.NoError(t, err)

	offline, err := New(dir, Options{Offline: true})
	require.NoError(t, err)
	got, err := offline.EnsureStored(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, stored, got)
}

func TestEnsureStored_NotFoundIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := newTestStore(t, Options{})
	_, err := s.EnsureStored(context.Background(), Request{
		URL: srv.URL + "/gone.jpg", Source: "reddit", Kind: model.ArtifactImage, Hosts: localhostOnly,
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load(), "404 must not be retried")
}

func TestEnsureStored_RateLimitClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := newTestStore(t, Options{})
	_, err := s.EnsureStored(context.Background(), Request{
		URL: srv.URL + "/limited.jpg", Source: "reddit", Kind: model.ArtifactImage, Hosts: localhostOnly,
	})

	rle, limited := resilience.IsRateLimited(err)
	require.True(t, limited)
	assert.False(t, rle.ResetAt.IsZero())
}

func TestContentKey(t *testing.T) {
	a := ContentKey("https://i.redd.it/a.jpg")
	b := ContentKey("https://i.redd.it/a.jpg")
	c := ContentKey("https://i.redd.it/b.jpg")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}

func TestHostAllowed(t *testing.T) {
	assert.True(t, hostAllowed("https://i.redd.it/x.jpg", []string{"i.redd.it"}))
	assert.True(t, hostAllowed("https://I.REDD.IT/x.jpg", []string{"i.redd.it"}))
	assert.False(t, hostAllowed("https://evil.com/x.jpg", []string{"i.redd.it"}))
	assert.False(t, hostAllowed("https://i.redd.it.evil.com/x.jpg", []string{"i.redd.it"}))
	assert.False(t, hostAllowed("://bad", []string{"i.redd.it"}))
}

func TestErrOfflineMissIsDistinct(t *testing.T) {
	assert.False(t, errors.Is(ErrOfflineMiss, ErrUnsafeOrigin))
}
