package hls

import (
	"bufio"
	"encoding/json"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"
)

var (
	resolutionRe = regexp.MustCompile(`(?i)RESOLUTION=(\d+x\d+)`)
	bandwidthRe  = regexp.MustCompile(`(?i)BANDWIDTH=(\d+)`)
)

// variant is one rendition advertised by a master playlist.
type variant struct {
	URL        string
	Resolution string
	Bitrate    float64
}

// parseMasterPlaylist extracts the renditions of a master playlist, sorted by
// bitrate descending. Media playlists and plain files yield no variants. The
// strict decoder runs first; playlists that it rejects (ad-spliced or
// otherwise malformed output from some CDNs) go through a line scan instead.
func parseMasterPlaylist(playlist, baseURL string) []variant {
	variants := decodeMasterPlaylist(playlist, baseURL)
	if variants == nil {
		variants = scanMasterPlaylist(playlist, baseURL)
	}

	sort.SliceStable(variants, func(i, j int) bool {
		return variants[i].Bitrate > variants[j].Bitrate
	})

	return variants
}

func decodeMasterPlaylist(playlist, baseURL string) []variant {
	decoded, listType, err := m3u8.DecodeFrom(bufio.NewReader(strings.NewReader(playlist)), true)
	if err != nil || listType != m3u8.MASTER {
		return nil
	}

	master, ok := decoded.(*m3u8.MasterPlaylist)
	if !ok {
		return nil
	}

	variants := []variant{}
	for _, v := range master.Variants {
		if v == nil || v.URI == "" {
			continue
		}
		variants = append(variants, variant{
			URL:        ensureAbsolute(v.URI, baseURL),
			Resolution: v.Resolution,
			Bitrate:    roundMbps(int64(v.Bandwidth)),
		})
	}

	if len(variants) == 0 {
		return nil
	}

	return variants
}

func scanMasterPlaylist(playlist, baseURL string) []variant {
	lines := splitLines(playlist)

	variants := []variant{}
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#EXT-X-STREAM-INF") {
			continue
		}

		// the rendition URI is the next non-comment, non-blank line
		for _, next := range lines[i+1:] {
			next = strings.TrimSpace(next)
			if next == "" || strings.HasPrefix(next, "#") {
				continue
			}
			variants = append(variants, variant{
				URL:        ensureAbsolute(next, baseURL),
				Resolution: extractResolution(trimmed),
				Bitrate:    extractBitrate(trimmed),
			})
			break
		}
	}

	return variants
}

func extractResolution(infoLine string) string {
	match := resolutionRe.FindStringSubmatch(infoLine)
	if match == nil {
		return ""
	}

	return match[1]
}

func extractBitrate(infoLine string) float64 {
	match := bandwidthRe.FindStringSubmatch(infoLine)
	if match == nil {
		return 0
	}

	bandwidth, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0
	}

	return roundMbps(bandwidth)
}

// roundMbps converts bits per second to Mbps rounded to two decimals.
func roundMbps(bandwidth int64) float64 {
	return math.Round(float64(bandwidth)/1_000_000*100) / 100
}

// rewritePlaylist points every media line of a playlist at the proxy route,
// resolving relative URIs against baseURL. Comments and tags pass through
// untouched; line endings are normalized to \n.
func (s service) rewritePlaylist(playlist, baseURL string, headers map[string]string, roomID string) string {
	lines := splitLines(playlist)
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		lines[i] = s.buildProxyURL(ensureAbsolute(trimmed, baseURL), headers, roomID)
	}

	return strings.Join(lines, "\n")
}

// buildProxyURL renders the proxy route for target, carrying the custom
// header payload and the optional cache room forward.
func (s service) buildProxyURL(target string, headers map[string]string, roomID string) string {
	payload := headers
	if payload == nil {
		payload = map[string]string{}
	}
	encoded, _ := json.Marshal(payload)

	var b strings.Builder
	b.WriteString(s.cfg.ProxyPath)
	b.WriteString("?url=")
	b.WriteString(url.QueryEscape(target))
	b.WriteString("&headers=")
	b.WriteString(url.QueryEscape(string(encoded)))
	if roomID != "" {
		b.WriteString("&roomId=")
		b.WriteString(url.QueryEscape(roomID))
	}

	return b.String()
}

func ensureAbsolute(candidate, base string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return candidate
	}

	resolved, err := baseURL.Parse(candidate)
	if err != nil {
		return candidate
	}

	return resolved.String()
}

func splitLines(s string) []string {
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}

func isPlaylistContent(contentType, rawURL string) bool {
	return strings.Contains(contentType, "mpegurl") ||
		strings.Contains(strings.ToLower(rawURL), ".m3u8")
}

func isSegmentContent(rawURL, contentType string) bool {
	lower := strings.ToLower(rawURL)
	for _, ext := range []string{".ts", ".m4s", ".mp4", ".aac", ".mp3"} {
		if strings.Contains(lower, ext) {
			return true
		}
	}

	return strings.Contains(contentType, "video") || strings.Contains(contentType, "audio")
}
