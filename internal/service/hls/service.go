package hls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"

	"github.com/rophim/server/internal/repository/segment"
)

var ErrInvalidURL = errors.New("hls: invalid or missing source url")

// UpstreamError carries a non-2xx upstream response so the handler can relay
// the original status to the player.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("hls: upstream responded with status %d", e.StatusCode)
}

type iSegmentCache interface {
	Get(ctx context.Context, namespace, key string) (io.ReadCloser, segment.Meta, error)
	NewWriter(ctx context.Context, namespace, key, contentType string) (segment.Writer, error)
	Clear(ctx context.Context, namespace string) error
}

type Config struct {
	// ProxyPath is the public route rewritten playlists point their media
	// lines at.
	ProxyPath string
	// UpstreamTimeout bounds a single upstream fetch.
	UpstreamTimeout time.Duration
	// RequestsPerSecond throttles upstream fetches across all viewers.
	// Zero disables throttling.
	RequestsPerSecond int
}

func (c *Config) withDefaults() {
	if c.ProxyPath == "" {
		c.ProxyPath = "/api/hls/proxy"
	}
	if c.UpstreamTimeout <= 0 {
		c.UpstreamTimeout = 30 * time.Second
	}
}

type service struct {
	cache    iSegmentCache
	client   *http.Client
	limiter  ratelimit.Limiter
	logger   *slog.Logger
	cfg      Config
	inflight *xsync.MapOf[string, struct{}]
}

func NewService(cache iSegmentCache, logger *slog.Logger, cfg Config) *service {
	cfg.withDefaults()

	limiter := ratelimit.NewUnlimited()
	if cfg.RequestsPerSecond > 0 {
		limiter = ratelimit.New(cfg.RequestsPerSecond)
	}

	return &service{
		cache: cache,
		client: &http.Client{
			Timeout: cfg.UpstreamTimeout,
		},
		limiter:  limiter,
		logger:   logger,
		cfg:      cfg,
		inflight: xsync.NewMapOf[string, struct{}](),
	}
}

// ClearCache drops every cached segment for the room, or the whole cache when
// roomID is empty.
func (s service) ClearCache(ctx context.Context, roomID string) error {
	return s.cache.Clear(ctx, roomID)
}

// fetch performs a throttled upstream GET with the merged header set and
// returns the response together with the post-redirect URL.
func (s service) fetch(ctx context.Context, target string, headers map[string]string) (*http.Response, string, error) {
	s.limiter.Take()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("hls: build upstream request: %w", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("hls: upstream fetch: %w", err)
	}

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return resp, finalURL, nil
}
