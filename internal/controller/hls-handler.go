package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rophim/server/internal/service/hls"
	"github.com/rophim/server/pkg/rest"
)

type analyzeStreamRequest struct {
	URL string `json:"url" validate:"required"`
	// Headers accepts either a JSON object or a string holding JSON, the two
	// shapes players send.
	Headers json.RawMessage `json:"headers"`
	RoomID  string          `json:"roomId"`
}

func headerPayloadString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}

	return string(raw)
}

func (c controller) analyzeStream(w http.ResponseWriter, r *http.Request) {
	var req analyzeStreamRequest
	if err := rest.ReadJSON(r, &req); err != nil {
		rest.WriteJSON(w, http.StatusUnprocessableEntity, rest.Envelope{"error": err.Error()})
		return
	}

	if validationErrors, ok := c.validate.Validate(req); !ok {
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	resp, err := c.hlsService.Analyze(r.Context(), hls.AnalyzeParams{
		URL:     req.URL,
		Headers: headerPayloadString(req.Headers),
		RoomID:  req.RoomID,
	})
	if err != nil {
		c.writeHlsError(w, r, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, resp)
}

// trackingResponseWriter remembers whether any response bytes went out, so
// errors raised mid-stream are not answered with a second status line.
type trackingResponseWriter struct {
	http.ResponseWriter
	wrote bool
}

func (t *trackingResponseWriter) Write(p []byte) (int, error) {
	t.wrote = true
	return t.ResponseWriter.Write(p)
}

func (t *trackingResponseWriter) WriteHeader(status int) {
	t.wrote = true
	t.ResponseWriter.WriteHeader(status)
}

func (c controller) proxyStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tw := &trackingResponseWriter{ResponseWriter: w}

	err := c.hlsService.Proxy(r.Context(), tw, hls.ProxyParams{
		URL:        q.Get("url"),
		RawHeaders: q.Get("headers"),
		RoomID:     q.Get("roomId"),
	})
	if err == nil {
		return
	}

	if tw.wrote {
		c.logger.WarnContext(r.Context(), "proxy stream interrupted", "error", err)
		return
	}

	c.writeHlsError(w, r, err)
}

func (c controller) writeHlsError(w http.ResponseWriter, r *http.Request, err error) {
	var upstreamErr *hls.UpstreamError
	switch {
	case errors.Is(err, hls.ErrInvalidURL):
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"error": "invalid or missing source url"})
	case errors.As(err, &upstreamErr):
		rest.WriteJSON(w, upstreamErr.StatusCode, rest.Envelope{"error": "upstream refused the request"})
	default:
		c.logger.ErrorContext(r.Context(), "hls request failed", "error", err)
		rest.WriteJSON(w, http.StatusBadGateway, rest.Envelope{"error": "failed to reach the stream source"})
	}
}
