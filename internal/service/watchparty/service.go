package watchparty

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rophim/server/internal/repository/room"
	"github.com/rophim/server/pkg/casretry"
)

var ErrPermissionDenied = errors.New("watchparty: permission denied")

type iRoomRepo interface {
	Create(ctx context.Context, rm *room.Room) error
	Get(ctx context.Context, roomID string) (*room.Room, error)
	Save(ctx context.Context, rm *room.Room) error
	Delete(ctx context.Context, roomID string) error
	ListPublic(ctx context.Context, limit int) ([]*room.Room, error)
	ListPrivate(ctx context.Context, viewerID string, limit int) ([]*room.Room, error)
}

type iSegmentCache interface {
	Clear(ctx context.Context, namespace string) error
}

type iGenerator interface {
	GenerateRandomString(length int) string
}

type Config struct {
	// StaleWindow is how long a participant survives without a heartbeat.
	StaleWindow time.Duration
	// MaxSaveAttempts bounds the optimistic-concurrency retry loop.
	MaxSaveAttempts int
	// MaxMessages caps the chat history kept per room.
	MaxMessages int
	// MaxMessageLen truncates chat messages, counted in runes.
	MaxMessageLen int
	RoomIDLength  int
}

func (c *Config) withDefaults() {
	if c.StaleWindow <= 0 {
		c.StaleWindow = 15 * time.Second
	}
	if c.MaxSaveAttempts <= 0 {
		c.MaxSaveAttempts = 3
	}
	if c.MaxMessages <= 0 {
		c.MaxMessages = 50
	}
	if c.MaxMessageLen <= 0 {
		c.MaxMessageLen = 500
	}
	if c.RoomIDLength <= 0 {
		c.RoomIDLength = 10
	}
}

type service struct {
	roomRepo  iRoomRepo
	cache     iSegmentCache
	generator iGenerator
	logger    *slog.Logger
	cfg       Config
}

func NewService(roomRepo iRoomRepo, cache iSegmentCache, generator iGenerator, logger *slog.Logger, cfg Config) *service {
	cfg.withDefaults()

	return &service{
		roomRepo:  roomRepo,
		cache:     cache,
		generator: generator,
		logger:    logger,
		cfg:       cfg,
	}
}

// pruneParticipants drops everyone whose last heartbeat fell outside the
// stale window.
func (s service) pruneParticipants(rm *room.Room) {
	now := time.Now().UnixMilli()
	alive := rm.Participants[:0]
	for _, p := range rm.Participants {
		if now-p.LastSeen < s.cfg.StaleWindow.Milliseconds() {
			alive = append(alive, p)
		}
	}
	rm.Participants = alive
}

// saveWithRetry runs a load-prune-mutate-save cycle against the room store,
// reloading and reapplying the mutation on version conflicts. When the caller
// already holds a fresh copy it is used for the first attempt only; every
// retry reloads.
func (s service) saveWithRetry(ctx context.Context, roomID string, initial *room.Room, mutate func(*room.Room)) (*room.Room, error) {
	first := initial

	return casretry.Do(ctx, room.ErrVersionConflict, s.cfg.MaxSaveAttempts,
		func(ctx context.Context) (*room.Room, error) {
			if first != nil {
				rm := first
				first = nil
				return rm, nil
			}
			return s.roomRepo.Get(ctx, roomID)
		},
		func(rm *room.Room) error {
			s.pruneParticipants(rm)
			mutate(rm)
			return nil
		},
		s.roomRepo.Save,
	)
}

// IsHost reports whether viewerID owns the room.
func (s service) IsHost(rm *room.Room, viewerID string) bool {
	return rm != nil && viewerID != "" && viewerID == rm.HostID
}

// CanUpdateState allows everyone in free mode and only the host in live mode.
func (s service) CanUpdateState(rm *room.Room, viewerID string) bool {
	if rm == nil {
		return false
	}
	if rm.IsLive && !s.IsHost(rm, viewerID) {
		return false
	}

	return true
}

func (s service) CanUpdateSettings(rm *room.Room, viewerID string) bool {
	return s.IsHost(rm, viewerID)
}

func (s service) CanDeleteRoom(rm *room.Room, viewerID string) bool {
	return s.IsHost(rm, viewerID)
}
