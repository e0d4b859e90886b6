package hls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rophim/server/internal/repository/segment"
)

const playlistContentType = "application/vnd.apple.mpegurl"

type ProxyParams struct {
	URL string
	// RawHeaders is the headers query parameter exactly as received; it is
	// part of the cache key, so byte-identical requests share entries.
	RawHeaders string
	RoomID     string
}

// Proxy relays the target through the server. Playlists are rewritten so
// every media line points back at the proxy and are never cached; segments
// are cached while they stream to the viewer; anything else passes through.
func (s service) Proxy(ctx context.Context, w http.ResponseWriter, params ProxyParams) error {
	if err := validateSourceURL(params.URL); err != nil {
		return err
	}

	cacheKey := params.URL + "::" + params.RawHeaders
	if served, err := s.serveFromCache(ctx, w, params.RoomID, cacheKey); served {
		return err
	}

	custom, err := parseHeaderPayload(params.RawHeaders)
	if err != nil {
		s.logger.WarnContext(ctx, "ignoring malformed header payload", "error", err)
	}

	resp, finalURL, err := s.fetch(ctx, params.URL, mergeHeaders(custom))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
		if strings.Contains(finalURL, ".m3u8") {
			contentType = playlistContentType
		}
	}

	if isPlaylistContent(contentType, finalURL) {
		playlist, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("hls: read playlist: %w", err)
		}

		rewritten := s.rewritePlaylist(string(playlist), finalURL, custom, params.RoomID)
		w.Header().Set("Content-Type", playlistContentType)
		if _, err := io.WriteString(w, rewritten); err != nil {
			return fmt.Errorf("hls: write playlist: %w", err)
		}

		return nil
	}

	w.Header().Set("Content-Type", contentType)
	if resp.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}

	if isSegmentContent(finalURL, contentType) {
		return s.streamSegment(ctx, w, params.RoomID, cacheKey, resp.Body, contentType)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("hls: stream upstream body: %w", err)
	}

	return nil
}

// serveFromCache reports whether the response was handled from cache. A
// cache error other than a miss still counts as handled once bytes started
// flowing.
func (s service) serveFromCache(ctx context.Context, w http.ResponseWriter, roomID, cacheKey string) (bool, error) {
	rc, meta, err := s.cache.Get(ctx, roomID, cacheKey)
	if err != nil {
		if !errors.Is(err, segment.ErrNotFound) {
			s.logger.WarnContext(ctx, "segment cache read failed", "error", err)
		}
		return false, nil
	}
	defer rc.Close()

	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if meta.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	}

	if _, err := io.Copy(w, rc); err != nil {
		return true, fmt.Errorf("hls: stream cached segment: %w", err)
	}

	return true, nil
}

// streamSegment copies the upstream body to the viewer while teeing it into
// the cache. Only one writer per key runs at a time; concurrent requests for
// a segment that is already being written stream without caching. A failed
// or abandoned copy aborts the cache write, so partial segments never become
// entries.
func (s service) streamSegment(ctx context.Context, w http.ResponseWriter, roomID, cacheKey string, body io.Reader, contentType string) error {
	inflightKey := roomID + "\x00" + cacheKey
	if _, loaded := s.inflight.LoadOrStore(inflightKey, struct{}{}); loaded {
		if _, err := io.Copy(w, body); err != nil {
			return fmt.Errorf("hls: stream segment: %w", err)
		}
		return nil
	}
	defer s.inflight.Delete(inflightKey)

	cw, err := s.cache.NewWriter(ctx, roomID, cacheKey, contentType)
	if err != nil {
		s.logger.WarnContext(ctx, "segment cache writer failed", "error", err)
		if _, err := io.Copy(w, body); err != nil {
			return fmt.Errorf("hls: stream segment: %w", err)
		}
		return nil
	}

	if _, err := io.Copy(io.MultiWriter(w, cw), body); err != nil {
		cw.Abort()
		return fmt.Errorf("hls: stream segment: %w", err)
	}

	if err := cw.Commit(); err != nil {
		s.logger.WarnContext(ctx, "segment cache commit failed", "error", err)
	}

	return nil
}
