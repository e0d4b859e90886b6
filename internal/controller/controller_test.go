package controller

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rophim/server/internal/metrics"
	"github.com/rophim/server/internal/repository/room"
	roomredis "github.com/rophim/server/internal/repository/room/redis"
	segmentmemory "github.com/rophim/server/internal/repository/segment/memory"
	sessioninmemory "github.com/rophim/server/internal/repository/session/inmemory"
	"github.com/rophim/server/internal/service/hls"
	"github.com/rophim/server/internal/service/watchparty"
	"github.com/rophim/server/pkg/randstr"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := segmentmemory.NewRepo(segmentmemory.Config{})
	roomRepo := roomredis.NewRepo(rc, logger, time.Hour)
	generator := randstr.New([]byte("0123456789abcdef"))

	roomService := watchparty.NewService(roomRepo, cache, generator, logger, watchparty.Config{})
	hlsService := hls.NewService(cache, logger, hls.Config{})

	c := NewController(roomService, hlsService, sessioninmemory.NewRepo(), metrics.New(), logger)
	ts := httptest.NewServer(c.GetMux())
	t.Cleanup(ts.Close)

	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)

	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return out
}

func createTestRoom(t *testing.T, ts *httptest.Server, overrides map[string]any) room.Room {
	t.Helper()

	body := map[string]any{
		"movie_id":  "movie-1",
		"title":     "Movie Night",
		"host_id":   "host-1",
		"host_name": "Host",
	}
	for k, v := range overrides {
		body[k] = v
	}

	resp := postJSON(t, ts.URL+"/api/watch-party/", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	return decodeJSON[room.Room](t, resp)
}

func TestController_Healthz(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestController_Metrics(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "server_requests_total")
}

func TestController_CreateAndGetRoom(t *testing.T) {
	ts := newTestServer(t)

	created := createTestRoom(t, ts, nil)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "host-1", created.HostID)
	assert.True(t, created.State.IsPlaying, "auto_start defaults to true")
	require.Len(t, created.Participants, 1)

	resp, err := http.Get(ts.URL + "/api/watch-party/" + created.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	fetched := decodeJSON[room.Room](t, resp)
	assert.Equal(t, created.ID, fetched.ID)
	assert.Equal(t, "Movie Night", fetched.Title)
}

func TestController_CreateRoom_ValidationError(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/watch-party/", map[string]any{
		"movie_id": "movie-1",
		"host_id":  "host-1",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestController_GetRoom_NotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/watch-party/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestController_JoinAndListPrivate(t *testing.T) {
	ts := newTestServer(t)
	created := createTestRoom(t, ts, map[string]any{"is_private": true})

	resp := postJSON(t, ts.URL+"/api/watch-party/"+created.ID+"/join", map[string]any{
		"viewer_id": "viewer-1",
		"name":      "Viewer",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	joined := decodeJSON[room.Room](t, resp)
	assert.Len(t, joined.Participants, 2)

	listResp, err := http.Get(ts.URL + "/api/watch-party/private?viewer_id=viewer-1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, listResp.StatusCode)
	rooms := decodeJSON[[]room.Room](t, listResp)
	require.Len(t, rooms, 1)
	assert.Equal(t, created.ID, rooms[0].ID)

	// an uninvolved viewer sees nothing
	otherResp, err := http.Get(ts.URL + "/api/watch-party/private?viewer_id=stranger")
	require.NoError(t, err)
	assert.Empty(t, decodeJSON[[]room.Room](t, otherResp))
}

func TestController_UpdateState_LiveModeForbidden(t *testing.T) {
	ts := newTestServer(t)
	created := createTestRoom(t, ts, map[string]any{"is_live": true})

	resp := postJSON(t, ts.URL+"/api/watch-party/"+created.ID+"/state", map[string]any{
		"viewer_id": "viewer-1",
		"position":  30,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	hostResp := postJSON(t, ts.URL+"/api/watch-party/"+created.ID+"/state", map[string]any{
		"viewer_id":  "host-1",
		"position":   30,
		"is_playing": true,
	})
	require.Equal(t, http.StatusOK, hostResp.StatusCode)
	state := decodeJSON[room.PlaybackState](t, hostResp)
	assert.Equal(t, float64(30), state.Position)
}

func TestController_Chat(t *testing.T) {
	ts := newTestServer(t)
	created := createTestRoom(t, ts, nil)

	resp := postJSON(t, ts.URL+"/api/watch-party/"+created.ID+"/chat", map[string]any{
		"viewer_id": "viewer-1",
		"user_name": "Viewer",
		"content":   "hello",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	messages := decodeJSON[[]room.ChatMessage](t, resp)
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].Content)
}

func TestController_DeleteRoom(t *testing.T) {
	ts := newTestServer(t)
	created := createTestRoom(t, ts, nil)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/watch-party/"+created.ID+"?viewer_id=viewer-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err = http.NewRequest(http.MethodDelete, ts.URL+"/api/watch-party/"+created.ID+"?viewer_id=host-1", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	getResp, err := http.Get(ts.URL + "/api/watch-party/" + created.ID)
	require.NoError(t, err)
	getResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
}

func TestController_AnalyzeStream_InvalidURL(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/hls/analyze", map[string]any{"url": "not a url"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestController_ProxyStream_RelaysUpstreamStatus(t *testing.T) {
	ts := newTestServer(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer upstream.Close()

	resp, err := http.Get(ts.URL + "/api/hls/proxy?url=" + upstream.URL + "/seg.ts")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestController_ProxyStream_MissingURL(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/hls/proxy")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

type wsEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dialWs(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/watch-party/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func sendWs(t *testing.T, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": eventType, "payload": payload}))
}

// readWsEvent reads until an event of the wanted type arrives, skipping
// interleaved broadcasts.
func readWsEvent(t *testing.T, conn *websocket.Conn, eventType string) wsEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var ev wsEvent
		require.NoError(t, conn.ReadJSON(&ev), "waiting for %s", eventType)
		if ev.Type == eventType {
			return ev
		}
	}
}

func assertNoWsEvent(t *testing.T, conn *websocket.Conn, eventType string) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	for {
		var ev wsEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		assert.NotEqual(t, eventType, ev.Type)
	}
}

func TestController_Websocket_JoinErrorOnUnknownRoom(t *testing.T) {
	ts := newTestServer(t)
	conn := dialWs(t, ts)

	sendWs(t, conn, "watch-party:join", map[string]any{"room_id": "missing", "viewer_id": "viewer-1"})

	ev := readWsEvent(t, conn, "watch-party:error")
	assert.Contains(t, string(ev.Payload), "room not found")
}

func TestController_Websocket_JoinAndSync(t *testing.T) {
	ts := newTestServer(t)
	created := createTestRoom(t, ts, nil)

	conn := dialWs(t, ts)
	sendWs(t, conn, "watch-party:join", map[string]any{
		"room_id":   created.ID,
		"viewer_id": "viewer-1",
		"name":      "Viewer",
	})

	joined := readWsEvent(t, conn, "watch-party:joined")
	var rm room.Room
	require.NoError(t, json.Unmarshal(joined.Payload, &rm))
	assert.Equal(t, created.ID, rm.ID)
	assert.Len(t, rm.Participants, 2)

	sendWs(t, conn, "watch-party:sync-request", map[string]any{"room_id": created.ID})

	state := readWsEvent(t, conn, "watch-party:state")
	assert.Contains(t, string(state.Payload), `"host_id":"host-1"`)
}

func TestController_Websocket_FreeModeStateEchoesToSenderOnly(t *testing.T) {
	ts := newTestServer(t)
	created := createTestRoom(t, ts, nil)

	host := dialWs(t, ts)
	sendWs(t, host, "watch-party:join", map[string]any{"room_id": created.ID, "viewer_id": "host-1"})
	readWsEvent(t, host, "watch-party:joined")

	viewer := dialWs(t, ts)
	sendWs(t, viewer, "watch-party:join", map[string]any{"room_id": created.ID, "viewer_id": "viewer-1"})
	readWsEvent(t, viewer, "watch-party:joined")

	sendWs(t, host, "watch-party:state", map[string]any{
		"room_id":    created.ID,
		"viewer_id":  "host-1",
		"position":   60,
		"is_playing": true,
	})

	ev := readWsEvent(t, host, "watch-party:state")
	assert.Contains(t, string(ev.Payload), `"position":60`)

	// free mode keeps other viewers on their own playback
	assertNoWsEvent(t, viewer, "watch-party:state")
}

func TestController_Websocket_LiveModeBroadcastsState(t *testing.T) {
	ts := newTestServer(t)
	created := createTestRoom(t, ts, nil)

	host := dialWs(t, ts)
	sendWs(t, host, "watch-party:join", map[string]any{"room_id": created.ID, "viewer_id": "host-1"})
	readWsEvent(t, host, "watch-party:joined")

	viewer := dialWs(t, ts)
	sendWs(t, viewer, "watch-party:join", map[string]any{"room_id": created.ID, "viewer_id": "viewer-1"})
	readWsEvent(t, viewer, "watch-party:joined")

	sendWs(t, host, "watch-party:live-toggle", map[string]any{
		"room_id":   created.ID,
		"viewer_id": "host-1",
		"is_live":   true,
	})
	live := readWsEvent(t, viewer, "watch-party:live")
	assert.Contains(t, string(live.Payload), `"is_live":true`)

	sendWs(t, host, "watch-party:state", map[string]any{
		"room_id":    created.ID,
		"viewer_id":  "host-1",
		"position":   90,
		"is_playing": true,
	})

	ev := readWsEvent(t, viewer, "watch-party:state")
	assert.Contains(t, string(ev.Payload), `"position":90`)

	// guests cannot drive playback in live mode
	sendWs(t, viewer, "watch-party:state", map[string]any{
		"room_id":   created.ID,
		"viewer_id": "viewer-1",
		"position":  5,
	})
	errEv := readWsEvent(t, viewer, "watch-party:error")
	assert.Contains(t, string(errEv.Payload), "live mode")
}

func TestController_Websocket_ChatBroadcast(t *testing.T) {
	ts := newTestServer(t)
	created := createTestRoom(t, ts, nil)

	host := dialWs(t, ts)
	sendWs(t, host, "watch-party:join", map[string]any{"room_id": created.ID, "viewer_id": "host-1"})
	readWsEvent(t, host, "watch-party:joined")

	viewer := dialWs(t, ts)
	sendWs(t, viewer, "watch-party:join", map[string]any{"room_id": created.ID, "viewer_id": "viewer-1", "name": "Viewer"})
	readWsEvent(t, viewer, "watch-party:joined")

	sendWs(t, viewer, "watch-party:chat", map[string]any{
		"room_id":   created.ID,
		"viewer_id": "viewer-1",
		"user_name": "Viewer",
		"content":   "hello room",
	})

	ev := readWsEvent(t, host, "watch-party:messages")
	assert.Contains(t, string(ev.Payload), "hello room")
}

func TestController_Websocket_DuplicateJoinEvictsOldConn(t *testing.T) {
	ts := newTestServer(t)
	created := createTestRoom(t, ts, nil)

	first := dialWs(t, ts)
	sendWs(t, first, "watch-party:join", map[string]any{"room_id": created.ID, "viewer_id": "viewer-1"})
	readWsEvent(t, first, "watch-party:joined")

	second := dialWs(t, ts)
	sendWs(t, second, "watch-party:join", map[string]any{"room_id": created.ID, "viewer_id": "viewer-1"})
	readWsEvent(t, second, "watch-party:joined")

	// the first connection gets closed by the server
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var ev wsEvent
		if err := first.ReadJSON(&ev); err != nil {
			break
		}
	}
}

func TestController_Websocket_UnknownEventType(t *testing.T) {
	ts := newTestServer(t)
	conn := dialWs(t, ts)

	sendWs(t, conn, "watch-party:nonsense", map[string]any{})

	ev := readWsEvent(t, conn, "watch-party:error")
	assert.Contains(t, string(ev.Payload), "unknown message type")
}

func TestController_Websocket_InvalidInputsAnswerWithError(t *testing.T) {
	ts := newTestServer(t)
	conn := dialWs(t, ts)

	sendWs(t, conn, "watch-party:state", map[string]any{"room_id": "room-1"})
	ev := readWsEvent(t, conn, "watch-party:error")
	assert.Contains(t, string(ev.Payload), "viewer_id")

	sendWs(t, conn, "watch-party:heartbeat", map[string]any{"viewer_id": "viewer-1"})
	ev = readWsEvent(t, conn, "watch-party:error")
	assert.Contains(t, string(ev.Payload), "room_id")

	sendWs(t, conn, "watch-party:live-toggle", map[string]any{"room_id": "room-1"})
	ev = readWsEvent(t, conn, "watch-party:error")
	assert.Contains(t, string(ev.Payload), "required")

	sendWs(t, conn, "watch-party:chat", map[string]any{"room_id": "room-1", "viewer_id": "viewer-1"})
	ev = readWsEvent(t, conn, "watch-party:error")
	assert.Contains(t, string(ev.Payload), "content is required")

	sendWs(t, conn, "watch-party:sync-request", map[string]any{})
	ev = readWsEvent(t, conn, "watch-party:error")
	assert.Contains(t, string(ev.Payload), "room_id is required")
}

func TestController_Websocket_ConcurrentBroadcastsAcrossRooms(t *testing.T) {
	ts := newTestServer(t)
	roomA := createTestRoom(t, ts, nil)
	roomB := createTestRoom(t, ts, map[string]any{"host_id": "host-2", "host_name": "Other"})

	hostA := dialWs(t, ts)
	sendWs(t, hostA, "watch-party:join", map[string]any{"room_id": roomA.ID, "viewer_id": "host-1"})
	readWsEvent(t, hostA, "watch-party:joined")

	hostB := dialWs(t, ts)
	sendWs(t, hostB, "watch-party:join", map[string]any{"room_id": roomB.ID, "viewer_id": "host-2"})
	readWsEvent(t, hostB, "watch-party:joined")

	viewerA := dialWs(t, ts)
	sendWs(t, viewerA, "watch-party:join", map[string]any{"room_id": roomA.ID, "viewer_id": "viewer-1"})
	readWsEvent(t, viewerA, "watch-party:joined")

	viewerB := dialWs(t, ts)
	sendWs(t, viewerB, "watch-party:join", map[string]any{"room_id": roomB.ID, "viewer_id": "viewer-2"})
	readWsEvent(t, viewerB, "watch-party:joined")

	// chat from both rooms at once; every write goes through its own
	// per-connection lock
	errs := make(chan error, 10)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			errs <- viewerA.WriteJSON(map[string]any{
				"type":    "watch-party:chat",
				"payload": map[string]any{"room_id": roomA.ID, "viewer_id": "viewer-1", "content": "from room a"},
			})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			errs <- viewerB.WriteJSON(map[string]any{
				"type":    "watch-party:chat",
				"payload": map[string]any{"room_id": roomB.ID, "viewer_id": "viewer-2", "content": "from room b"},
			})
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for i := 0; i < 5; i++ {
		ev := readWsEvent(t, hostA, "watch-party:messages")
		assert.Contains(t, string(ev.Payload), "from room a")
	}
	for i := 0; i < 5; i++ {
		ev := readWsEvent(t, hostB, "watch-party:messages")
		assert.Contains(t, string(ev.Payload), "from room b")
	}
}
