package hls

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const (
	defaultReferer = "https://goatembed.com/"
	// fallbackOrigin is used when the referer cannot be parsed at all.
	fallbackOrigin = "https://rophim.net"
)

// defaultUpstreamHeaders imitates a desktop Chrome player so picky CDNs serve
// us the same bytes they serve the embed page.
var defaultUpstreamHeaders = map[string]string{
	"accept":             "*/*",
	"accept-language":    "vi-VN,vi;q=0.9,zh-CN;q=0.8,zh;q=0.7,fr-FR;q=0.6,fr;q=0.5,en-US;q=0.4,en;q=0.3",
	"cache-control":      "no-cache",
	"pragma":             "no-cache",
	"priority":           "u=1, i",
	"sec-ch-ua":          `"Chromium";v="142", "Google Chrome";v="142", "Not_A Brand";v="99"`,
	"sec-ch-ua-mobile":   "?0",
	"sec-ch-ua-platform": `"Windows"`,
	"sec-fetch-dest":     "empty",
	"sec-fetch-mode":     "cors",
	"sec-fetch-site":     "cross-site",
	"Referer":            defaultReferer,
	"User-Agent":         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36",
}

// parseHeaderPayload decodes the caller-supplied header JSON. Values of any
// JSON type are coerced to strings. A malformed payload yields an empty map
// and the decode error so callers can log it and carry on with defaults.
func parseHeaderPayload(raw string) (map[string]string, error) {
	if raw == "" {
		return map[string]string{}, nil
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return map[string]string{}, fmt.Errorf("hls: decode header payload: %w", err)
	}

	headers := make(map[string]string, len(decoded))
	for key, value := range decoded {
		switch v := value.(type) {
		case string:
			headers[key] = v
		default:
			headers[key] = fmt.Sprint(v)
		}
	}

	return headers, nil
}

// mergeHeaders layers custom headers over the defaults and derives an Origin
// from the effective Referer when the caller did not supply one.
func mergeHeaders(custom map[string]string) map[string]string {
	merged := make(map[string]string, len(defaultUpstreamHeaders)+len(custom))
	for key, value := range defaultUpstreamHeaders {
		merged[key] = value
	}
	for key, value := range custom {
		merged[key] = value
	}

	hasOrigin := false
	referer := defaultReferer
	for key, value := range merged {
		switch strings.ToLower(key) {
		case "origin":
			hasOrigin = true
		case "referer":
			referer = value
		}
	}
	if !hasOrigin {
		merged["Origin"] = safeOrigin(referer)
	}

	return merged
}

func safeOrigin(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fallbackOrigin
	}

	return parsed.Scheme + "://" + parsed.Host
}
