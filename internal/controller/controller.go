package controller

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/rophim/server/internal/metrics"
	"github.com/rophim/server/internal/repository/room"
	"github.com/rophim/server/internal/repository/session"
	"github.com/rophim/server/internal/service/hls"
	"github.com/rophim/server/internal/service/watchparty"
	"github.com/rophim/server/pkg/validator"
	"github.com/rophim/server/pkg/wsrouter"
)

type iWatchPartyService interface {
	CreateRoom(ctx context.Context, params watchparty.CreateRoomParams) (*room.Room, error)
	GetRoom(ctx context.Context, roomID string) (*room.Room, error)
	ListPublicRooms(ctx context.Context, limit int) ([]*room.Room, error)
	ListPrivateRooms(ctx context.Context, viewerID string, limit int) ([]*room.Room, error)
	Join(ctx context.Context, params watchparty.JoinParams) (*room.Room, error)
	Heartbeat(ctx context.Context, roomID, viewerID string) (*room.Room, error)
	Leave(ctx context.Context, roomID, viewerID string) (*room.Room, error)
	UpdateState(ctx context.Context, params watchparty.UpdateStateParams) (*room.Room, error)
	UpdateSettings(ctx context.Context, params watchparty.UpdateSettingsParams) (*room.Room, error)
	SendMessage(ctx context.Context, params watchparty.SendMessageParams) (*room.Room, error)
	DeleteRoom(ctx context.Context, roomID, viewerID string) error
}

type iHlsService interface {
	Analyze(ctx context.Context, params hls.AnalyzeParams) (hls.AnalyzeResponse, error)
	Proxy(ctx context.Context, w http.ResponseWriter, params hls.ProxyParams) error
}

type iSessionRepo interface {
	Add(conn *websocket.Conn, sess session.Session) *websocket.Conn
	Remove(conn *websocket.Conn) (session.Session, bool, error)
	Get(conn *websocket.Conn) (session.Session, error)
	RoomConns(roomID string) []*websocket.Conn
}

type controller struct {
	roomService iWatchPartyService
	hlsService  iHlsService
	sessions    iSessionRepo
	metrics     *metrics.Metrics
	upgrader    websocket.Upgrader
	validate    *validator.Validator
	wsmux       *wsrouter.WSRouter
	logger      *slog.Logger
	// writeLocks serializes writes per connection; a slow client only delays
	// its own messages. Entries are dropped when the connection goes away.
	writeLocks *xsync.MapOf[*websocket.Conn, *sync.Mutex]
}

func NewController(roomService iWatchPartyService, hlsService iHlsService, sessions iSessionRepo, m *metrics.Metrics, logger *slog.Logger) *controller {
	c := &controller{
		roomService: roomService,
		hlsService:  hlsService,
		sessions:    sessions,
		metrics:     m,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		validate:   validator.NewValidator(),
		logger:     logger,
		writeLocks: xsync.NewMapOf[*websocket.Conn, *sync.Mutex](),
	}
	c.wsmux = c.newWsMux()

	return c
}

func (c controller) generateRequestId() string {
	return uuid.NewString()
}
