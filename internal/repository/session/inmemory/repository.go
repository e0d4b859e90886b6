package inmemory

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rophim/server/internal/repository/session"
)

// repo is the gateway's connection registry: a two-way mapping between live
// websocket connections and (room, viewer) pairs, owned by one gateway
// instance. A viewer may hold several connections to the same room (two
// tabs, a reconnect racing the old socket); the registry tracks them all and
// reports when the last one goes away.
type repo struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]session.Session
	rooms map[string]map[*websocket.Conn]struct{}
}

func NewRepo() *repo {
	return &repo{
		conns: make(map[*websocket.Conn]session.Session),
		rooms: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Add registers conn under sess. If another connection is already registered
// for the same (room, viewer) pair it is dropped from the registry and
// returned so the caller can detach it; this keeps participant counts
// correct when a client reloads and the old socket lingers.
func (r *repo) Add(conn *websocket.Conn, sess session.Session) *websocket.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	// a connection re-joining moves rooms; detach it from the old one first
	if old, ok := r.conns[conn]; ok {
		r.detach(conn, old)
	}

	var evicted *websocket.Conn
	for other := range r.rooms[sess.RoomID] {
		if other == conn {
			continue
		}
		if r.conns[other] == sess {
			r.detach(other, sess)
			delete(r.conns, other)
			evicted = other
			break
		}
	}

	r.conns[conn] = sess
	if r.rooms[sess.RoomID] == nil {
		r.rooms[sess.RoomID] = make(map[*websocket.Conn]struct{})
	}
	r.rooms[sess.RoomID][conn] = struct{}{}

	return evicted
}

// Remove unregisters conn and reports whether it was the viewer's last
// connection to that room.
func (r *repo) Remove(conn *websocket.Conn) (session.Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.conns[conn]
	if !ok {
		return session.Session{}, false, session.ErrNotFound
	}

	delete(r.conns, conn)
	r.detach(conn, sess)

	for other := range r.rooms[sess.RoomID] {
		if r.conns[other].ViewerID == sess.ViewerID {
			return sess, false, nil
		}
	}

	return sess, true, nil
}

func (r *repo) Get(conn *websocket.Conn) (session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.conns[conn]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}

	return sess, nil
}

func (r *repo) RoomConns(roomID string) []*websocket.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*websocket.Conn, 0, len(r.rooms[roomID]))
	for conn := range r.rooms[roomID] {
		conns = append(conns, conn)
	}

	return conns
}

// detach must be called with the mutex held.
func (r *repo) detach(conn *websocket.Conn, sess session.Session) {
	set := r.rooms[sess.RoomID]
	delete(set, conn)
	if len(set) == 0 {
		delete(r.rooms, sess.RoomID)
	}
}
