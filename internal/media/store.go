// Package media implements a content-addressed store for downloaded
// artifacts. Identity is a hash of the source URL string, so one URL
// requested across any number of targets or sources is fetched and
// stored exactly once.
package media

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/osint-cli/internal/model"
	"github.com/sells-group/osint-cli/internal/resilience"
)

// ErrUnsafeOrigin is returned when a media URL points outside the
// source's configured CDN allowlist and external origins are disabled.
var ErrUnsafeOrigin = eris.New("media: origin not in allowlist")

// ErrOfflineMiss is returned in offline mode when the content is not
// already stored locally.
var ErrOfflineMiss = eris.New("media: not cached and offline")

// contentTypeExt maps acceptable response content types to their
// storage extension. Anything absent here is rejected outright.
var contentTypeExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"video/mp4":  ".mp4",
	"video/webm": ".webm",
}

// knownExtensions is the probe order for cache hits.
var knownExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif", ".mp4", ".webm"}

// allowedTypes returns the content-type whitelist for an artifact kind.
func allowedTypes(kind model.ArtifactType) map[string]bool {
	switch kind {
	case model.ArtifactVideo:
		return map[string]bool{"video/mp4": true, "video/webm": true}
	default:
		// Still and animated images share a whitelist; GIFs often arrive
		// as image/gif or image/webp depending on the CDN.
		return map[string]bool{
			"image/jpeg": true,
			"image/png":  true,
			"image/gif":  true,
			"image/webp": true,
		}
	}
}

// Request describes one artifact to ensure locally.
type Request struct {
	URL     string
	Source  string
	Kind    model.ArtifactType
	Headers map[string]string // auth headers for protected CDNs
	Hosts   []string          // source CDN allowlist
}

// Store downloads and deduplicates media under a single directory.
// The check-then-download sequence for a given content key is atomic:
// concurrent requests for the same key serialize on a per-key lock.
type Store struct {
	dir           string
	client        *http.Client
	allowExternal bool
	offline       bool
	userAgent     string
	rateLimit     rate.Limit
	burst         int

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
	limiters map[string]*rate.Limiter
}

// Options configures a Store.
type Options struct {
	AllowExternal bool
	Offline       bool
	Timeout       time.Duration
	UserAgent     string
	RateLimit     float64 // downloads per second per host; 0 means 2
}

// New creates a Store rooted at dir.
func New(dir string, opts Options) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "media: create dir %s", dir)
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "osint-cli/1.0"
	}
	rl := opts.RateLimit
	if rl <= 0 {
		rl = 2
	}
	burst := int(rl) * 2
	if burst < 1 {
		burst = 1
	}
	return &Store{
		dir:           dir,
		client:        &http.Client{Timeout: timeout},
		allowExternal: opts.AllowExternal,
		offline:       opts.Offline,
		userAgent:     ua,
		rateLimit:     rate.Limit(rl),
		burst:         burst,
		keyLocks:      make(map[string]*sync.Mutex),
		limiters:      make(map[string]*rate.Limiter),
	}, nil
}

// ContentKey returns the store key for a URL: the hex MD5 of the URL
// string itself. Two distinct URLs serving identical bytes are stored
// twice; the same URL is stored once, whoever requests it.
func ContentKey(rawURL string) string {
	sum := md5.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

// EnsureStored returns the local path for the artifact at req.URL,
// downloading it first if it is not already present. An existing file
// under the content key short-circuits the network entirely. In offline
// mode only the local check runs; a miss returns ErrOfflineMiss.
func (s *Store) EnsureStored(ctx context.Context, req Request) (string, error) {
	key := ContentKey(req.URL)

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if path := s.findExisting(key); path != "" {
		zap.L().Debug("media: content hit", zap.String("url", req.URL), zap.String("path", path))
		return path, nil
	}

	if s.offline {
		return "", ErrOfflineMiss
	}

	if !s.allowExternal && !hostAllowed(req.URL, req.Hosts) {
		zap.L().Warn("media: blocked download from unlisted origin",
			zap.String("url", req.URL),
			zap.String("source", req.Source),
		)
		return "", ErrUnsafeOrigin
	}

	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger(req.Source, "media download")
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (string, error) {
		return s.download(ctx, key, req)
	})
}

func (s *Store) download(ctx context.Context, key string, req Request) (string, error) {
	if err := s.limiter(req.URL).Wait(ctx); err != nil {
		return "", eris.Wrap(err, "media: rate limiter wait")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return "", eris.Wrapf(err, "media: build request for %s", req.URL)
	}
	httpReq.Header.Set("User-Agent", s.userAgent)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", resilience.NewTransientError(eris.Wrapf(err, "media: fetch %s", req.URL), 0)
	}
	defer resp.Body.Close()

	if rlErr := resilience.ClassifyResponse(req.Source+" media", resp); rlErr != nil {
		return "", rlErr
	}
	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("media: fetch %s: status %d", req.URL, resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return "", resilience.NewTransientError(err, resp.StatusCode)
		}
		return "", err
	}

	contentType := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	ext, known := contentTypeExt[contentType]
	if !known || !allowedTypes(req.Kind)[contentType] {
		return "", &resilience.ContentTypeError{URL: req.URL, ContentType: contentType}
	}

	final := filepath.Join(s.dir, key+ext)
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return "", eris.Wrap(err, "media: create temp file")
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", resilience.NewTransientError(eris.Wrapf(err, "media: read body for %s", req.URL), 0)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", eris.Wrapf(err, "media: close %s", tmpName)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", eris.Wrapf(err, "media: rename to %s", final)
	}

	zap.L().Debug("media: stored",
		zap.String("url", req.URL),
		zap.String("path", final),
		zap.String("content_type", contentType),
	)
	return final, nil
}

// findExisting probes the known extensions for a stored file under key.
func (s *Store) findExisting(key string) string {
	for _, ext := range knownExtensions {
		path := filepath.Join(s.dir, key+ext)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func (s *Store) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.keyLocks[key] = l
	}
	return l
}

// limiter returns the per-host rate limiter, created on first use at
// the configured per-host rate.
func (s *Store) limiter(rawURL string) *rate.Limiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = strings.ToLower(u.Host)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[host]
	if !ok {
		l = rate.NewLimiter(s.rateLimit, s.burst)
		s.limiters[host] = l
	}
	return l
}

func hostAllowed(rawURL string, hosts []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range hosts {
		if host == strings.ToLower(h) {
			return true
		}
	}
	return false
}
