package hls

import (
	"context"
	"fmt"
	"io"
	"net/url"
)

const (
	StreamTypeMaster = "master"
	StreamTypeDirect = "direct"
)

type AnalyzeParams struct {
	URL string
	// Headers is the caller-supplied header payload as raw JSON.
	Headers string
	RoomID  string
}

// Quality is one selectable rendition of a master playlist.
type Quality struct {
	ID         string  `json:"id"`
	Resolution string  `json:"resolution,omitempty"`
	Bitrate    float64 `json:"bitrate,omitempty"`
	ProxiedURL string  `json:"proxiedUrl"`
	URL        string  `json:"url"`
}

type AnalyzeResponse struct {
	Type       string    `json:"type"`
	Qualities  []Quality `json:"qualities,omitempty"`
	ProxiedURL string    `json:"proxiedUrl,omitempty"`
	URL        string    `json:"url,omitempty"`
}

func validateSourceURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return ErrInvalidURL
	}

	return nil
}

// Analyze fetches the source URL and classifies it. A master playlist yields
// the list of renditions, each with a proxied URL; anything else, a media
// playlist included, is reported as a direct stream behind a single proxied
// URL. Redirects are followed first so relative rendition URIs resolve
// against the URL that actually served the playlist.
func (s service) Analyze(ctx context.Context, params AnalyzeParams) (AnalyzeResponse, error) {
	if err := validateSourceURL(params.URL); err != nil {
		return AnalyzeResponse{}, err
	}

	custom, err := parseHeaderPayload(params.Headers)
	if err != nil {
		s.logger.WarnContext(ctx, "ignoring malformed header payload", "error", err)
	}

	resp, finalURL, err := s.fetch(ctx, params.URL, mergeHeaders(custom))
	if err != nil {
		return AnalyzeResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return AnalyzeResponse{}, &UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	playlist, err := io.ReadAll(resp.Body)
	if err != nil {
		return AnalyzeResponse{}, fmt.Errorf("hls: read playlist: %w", err)
	}

	variants := parseMasterPlaylist(string(playlist), finalURL)
	if len(variants) == 0 {
		return AnalyzeResponse{
			Type:       StreamTypeDirect,
			ProxiedURL: s.buildProxyURL(finalURL, custom, params.RoomID),
			URL:        finalURL,
		}, nil
	}

	qualities := make([]Quality, 0, len(variants))
	for i, v := range variants {
		resolution := v.Resolution
		if resolution == "" {
			resolution = "auto"
		}
		qualities = append(qualities, Quality{
			ID:         fmt.Sprintf("%s-%d", resolution, i),
			Resolution: v.Resolution,
			Bitrate:    v.Bitrate,
			ProxiedURL: s.buildProxyURL(v.URL, custom, params.RoomID),
			URL:        v.URL,
		})
	}

	return AnalyzeResponse{
		Type:      StreamTypeMaster,
		Qualities: qualities,
	}, nil
}
