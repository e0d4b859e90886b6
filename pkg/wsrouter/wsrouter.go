package wsrouter

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"
)

type message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type HandlerFunc func(ctx context.Context, conn *websocket.Conn, payload json.RawMessage)

// UnknownFunc is invoked for inbound messages whose type has no registered
// handler. It allows the owner to answer with a protocol-level error event
// instead of silently dropping the message.
type UnknownFunc func(ctx context.Context, conn *websocket.Conn, messageType string)

type WSRouter struct {
	routes    map[string]HandlerFunc
	onUnknown UnknownFunc
}

func New() *WSRouter {
	return &WSRouter{routes: make(map[string]HandlerFunc)}
}

func (r *WSRouter) Handle(messageType string, handler HandlerFunc) {
	r.routes[messageType] = handler
}

func (r *WSRouter) HandleUnknown(handler UnknownFunc) {
	r.onUnknown = handler
}

// ServeConn reads messages from conn until the connection fails and routes
// each one to its registered handler. The read error that terminated the
// loop is returned; for an orderly client close that is a *websocket.CloseError.
func (r *WSRouter) ServeConn(ctx context.Context, conn *websocket.Conn) error {
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}

		handler, exists := r.routes[msg.Type]
		if !exists {
			if r.onUnknown != nil {
				r.onUnknown(ctx, conn, msg.Type)
			}
			continue
		}

		handler(ctx, conn, msg.Payload)
	}
}
