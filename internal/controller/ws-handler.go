package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rophim/server/internal/repository/room"
	"github.com/rophim/server/internal/repository/session"
	"github.com/rophim/server/internal/service/watchparty"
	"github.com/rophim/server/pkg/wsrouter"
)

// Inbound event types.
const (
	evJoin        = "watch-party:join"
	evState       = "watch-party:state"
	evSyncRequest = "watch-party:sync-request"
	evHeartbeat   = "watch-party:heartbeat"
	evLiveToggle  = "watch-party:live-toggle"
	evChat        = "watch-party:chat"
)

// Outbound event types. evState is reused for state pushes.
const (
	evJoined       = "watch-party:joined"
	evParticipants = "watch-party:participants"
	evLive         = "watch-party:live"
	evMessages     = "watch-party:messages"
	evError        = "watch-party:error"
)

// wsWriteTimeout bounds a single websocket write, so a stalled client cannot
// hold its write lock forever.
const wsWriteTimeout = 10 * time.Second

type Output struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func (c controller) newWsMux() *wsrouter.WSRouter {
	mux := wsrouter.New()
	mux.Handle(evJoin, c.handleJoin)
	mux.Handle(evState, c.handleState)
	mux.Handle(evSyncRequest, c.handleSyncRequest)
	mux.Handle(evHeartbeat, c.handleHeartbeat)
	mux.Handle(evLiveToggle, c.handleLiveToggle)
	mux.Handle(evChat, c.handleChat)
	mux.HandleUnknown(func(ctx context.Context, conn *websocket.Conn, messageType string) {
		c.sendError(ctx, conn, "unknown message type: "+messageType)
	})

	return mux
}

func (c controller) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	defer c.writeLocks.Delete(conn)

	c.metrics.ConnOpened()
	defer c.metrics.ConnClosed()

	ctx := r.Context()
	if err := c.wsmux.ServeConn(ctx, conn); err != nil &&
		!websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		c.logger.DebugContext(ctx, "websocket read loop ended", "error", err)
	}

	// the request context is gone once the read loop exits
	c.handleDisconnect(context.WithoutCancel(ctx), conn)
}

func (c controller) send(ctx context.Context, conn *websocket.Conn, out Output) {
	mu, _ := c.writeLocks.LoadOrCompute(conn, func() *sync.Mutex { return &sync.Mutex{} })
	mu.Lock()
	defer mu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(out); err != nil {
		c.logger.DebugContext(ctx, "websocket write failed", "type", out.Type, "error", err)
	}
}

func (c controller) broadcast(ctx context.Context, roomID string, out Output) {
	for _, conn := range c.sessions.RoomConns(roomID) {
		c.send(ctx, conn, out)
	}
}

func (c controller) sendError(ctx context.Context, conn *websocket.Conn, message string) {
	c.send(ctx, conn, Output{Type: evError, Payload: map[string]string{"message": message}})
}

func (c controller) sendServiceError(ctx context.Context, conn *websocket.Conn, err error) {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		c.sendError(ctx, conn, "room not found")
	case errors.Is(err, watchparty.ErrPermissionDenied):
		c.sendError(ctx, conn, "permission denied")
	case errors.Is(err, room.ErrVersionConflict):
		c.sendError(ctx, conn, "room is busy, try again")
	default:
		c.logger.ErrorContext(ctx, "websocket handler failed", "error", err)
		c.sendError(ctx, conn, "internal error")
	}
}

type wsJoinInput struct {
	RoomID   string `json:"room_id"`
	ViewerID string `json:"viewer_id"`
	Name     string `json:"name"`
}

func (c controller) handleJoin(ctx context.Context, conn *websocket.Conn, payload json.RawMessage) {
	var input wsJoinInput
	if err := json.Unmarshal(payload, &input); err != nil {
		c.sendError(ctx, conn, "malformed payload")
		return
	}
	if input.RoomID == "" || input.ViewerID == "" {
		c.sendError(ctx, conn, "room_id and viewer_id are required")
		return
	}

	rm, err := c.roomService.Join(ctx, watchparty.JoinParams{
		RoomID:   input.RoomID,
		ViewerID: input.ViewerID,
		Name:     input.Name,
	})
	if err != nil {
		c.sendServiceError(ctx, conn, err)
		return
	}

	// a reload can leave the viewer's previous socket behind; drop it so
	// presence stays accurate
	if evicted := c.sessions.Add(conn, session.Session{RoomID: input.RoomID, ViewerID: input.ViewerID}); evicted != nil {
		evicted.Close()
	}

	c.send(ctx, conn, Output{Type: evJoined, Payload: rm})
	c.broadcast(ctx, input.RoomID, Output{Type: evParticipants, Payload: rm.Participants})
}

type wsStateInput struct {
	RoomID       string  `json:"room_id"`
	ViewerID     string  `json:"viewer_id"`
	Position     float64 `json:"position"`
	IsPlaying    bool    `json:"is_playing"`
	PlaybackRate float64 `json:"playback_rate"`
}

func (c controller) handleState(ctx context.Context, conn *websocket.Conn, payload json.RawMessage) {
	var input wsStateInput
	if err := json.Unmarshal(payload, &input); err != nil {
		c.sendError(ctx, conn, "malformed payload")
		return
	}
	if input.RoomID == "" || input.ViewerID == "" {
		c.sendError(ctx, conn, "room_id and viewer_id are required")
		return
	}

	updated, err := c.roomService.UpdateState(ctx, watchparty.UpdateStateParams{
		RoomID:       input.RoomID,
		ViewerID:     input.ViewerID,
		Position:     input.Position,
		IsPlaying:    input.IsPlaying,
		PlaybackRate: input.PlaybackRate,
	})
	if err != nil {
		if errors.Is(err, watchparty.ErrPermissionDenied) {
			c.sendError(ctx, conn, "room is in live mode, only the host controls playback")
			return
		}
		c.sendServiceError(ctx, conn, err)
		return
	}

	out := Output{Type: evState, Payload: map[string]any{
		"room_id": input.RoomID,
		"state":   updated.State,
	}}
	if updated.IsLive {
		c.broadcast(ctx, input.RoomID, out)
		return
	}
	// free mode: the state is stored for late joiners but only echoed to the
	// sender, everyone else keeps their own playback
	c.send(ctx, conn, out)
}

type wsSyncRequestInput struct {
	RoomID string `json:"room_id"`
}

func (c controller) handleSyncRequest(ctx context.Context, conn *websocket.Conn, payload json.RawMessage) {
	var input wsSyncRequestInput
	if err := json.Unmarshal(payload, &input); err != nil {
		c.sendError(ctx, conn, "malformed payload")
		return
	}
	if input.RoomID == "" {
		c.sendError(ctx, conn, "room_id is required")
		return
	}

	rm, err := c.roomService.GetRoom(ctx, input.RoomID)
	if err != nil {
		c.sendServiceError(ctx, conn, err)
		return
	}

	c.send(ctx, conn, Output{Type: evState, Payload: map[string]any{
		"room_id": rm.ID,
		"state":   rm.State,
		"is_live": rm.IsLive,
		"host_id": rm.HostID,
	}})
	c.send(ctx, conn, Output{Type: evParticipants, Payload: rm.Participants})
}

type wsHeartbeatInput struct {
	RoomID   string `json:"room_id"`
	ViewerID string `json:"viewer_id"`
}

func (c controller) handleHeartbeat(ctx context.Context, conn *websocket.Conn, payload json.RawMessage) {
	var input wsHeartbeatInput
	if err := json.Unmarshal(payload, &input); err != nil {
		c.sendError(ctx, conn, "malformed payload")
		return
	}
	if input.RoomID == "" || input.ViewerID == "" {
		c.sendError(ctx, conn, "room_id and viewer_id are required")
		return
	}

	rm, err := c.roomService.Heartbeat(ctx, input.RoomID, input.ViewerID)
	if err != nil {
		c.sendServiceError(ctx, conn, err)
		return
	}

	c.broadcast(ctx, input.RoomID, Output{Type: evParticipants, Payload: rm.Participants})
}

type wsLiveToggleInput struct {
	RoomID   string `json:"room_id"`
	ViewerID string `json:"viewer_id"`
	IsLive   bool   `json:"is_live"`
}

func (c controller) handleLiveToggle(ctx context.Context, conn *websocket.Conn, payload json.RawMessage) {
	var input wsLiveToggleInput
	if err := json.Unmarshal(payload, &input); err != nil {
		c.sendError(ctx, conn, "malformed payload")
		return
	}
	if input.RoomID == "" || input.ViewerID == "" {
		c.sendError(ctx, conn, "room_id and viewer_id are required")
		return
	}

	rm, err := c.roomService.UpdateSettings(ctx, watchparty.UpdateSettingsParams{
		RoomID:   input.RoomID,
		ViewerID: input.ViewerID,
		IsLive:   &input.IsLive,
	})
	if err != nil {
		if errors.Is(err, watchparty.ErrPermissionDenied) {
			c.sendError(ctx, conn, "only the host can toggle live mode")
			return
		}
		c.sendServiceError(ctx, conn, err)
		return
	}

	c.broadcast(ctx, input.RoomID, Output{Type: evLive, Payload: map[string]any{
		"room_id": rm.ID,
		"is_live": rm.IsLive,
	}})
}

type wsChatInput struct {
	RoomID   string   `json:"room_id"`
	ViewerID string   `json:"viewer_id"`
	UserName string   `json:"user_name"`
	Content  string   `json:"content"`
	Position *float64 `json:"position"`
}

func (c controller) handleChat(ctx context.Context, conn *websocket.Conn, payload json.RawMessage) {
	var input wsChatInput
	if err := json.Unmarshal(payload, &input); err != nil {
		c.sendError(ctx, conn, "malformed payload")
		return
	}
	if input.RoomID == "" || input.ViewerID == "" {
		c.sendError(ctx, conn, "room_id and viewer_id are required")
		return
	}
	if input.Content == "" {
		c.sendError(ctx, conn, "content is required")
		return
	}

	rm, err := c.roomService.SendMessage(ctx, watchparty.SendMessageParams{
		RoomID:   input.RoomID,
		ViewerID: input.ViewerID,
		UserName: input.UserName,
		Content:  input.Content,
		Position: input.Position,
	})
	if err != nil {
		c.sendServiceError(ctx, conn, err)
		return
	}

	c.broadcast(ctx, input.RoomID, Output{Type: evMessages, Payload: rm.Messages})
}

// handleDisconnect prunes the viewer once their last connection to the room
// is gone and tells the room about the new participant list.
func (c controller) handleDisconnect(ctx context.Context, conn *websocket.Conn) {
	sess, last, err := c.sessions.Remove(conn)
	if err != nil {
		// evicted connections are already unregistered
		return
	}
	if !last {
		return
	}

	rm, err := c.roomService.Leave(ctx, sess.RoomID, sess.ViewerID)
	if err != nil {
		if !errors.Is(err, room.ErrRoomNotFound) {
			c.logger.WarnContext(ctx, "failed to remove participant on disconnect",
				"room_id", sess.RoomID, "viewer_id", sess.ViewerID, "error", err)
		}
		return
	}

	c.broadcast(ctx, sess.RoomID, Output{Type: evParticipants, Payload: rm.Participants})
}
