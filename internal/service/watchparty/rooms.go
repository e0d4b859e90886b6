package watchparty

import (
	"context"
	"time"

	"github.com/rophim/server/internal/repository/room"
)

const (
	defaultPublicRoomsLimit  = 100
	defaultPrivateRoomsLimit = 50
)

type CreateRoomParams struct {
	MovieID       string
	EpisodeNumber *int
	Title         string
	Poster        string
	HostID        string
	HostName      string
	IsLive        bool
	IsPrivate     bool
	AutoStart     bool
	// CurrentPosition seeds the shared playback position, in seconds.
	CurrentPosition float64
	// Participant overrides the initial participant; the host joins under
	// their own identity when nil.
	Participant *ParticipantParams
}

type ParticipantParams struct {
	UserID string
	Name   string
}

// CreateRoom creates a room with a fresh ID and the creator as its first
// participant.
func (s service) CreateRoom(ctx context.Context, params CreateRoomParams) (*room.Room, error) {
	now := time.Now().UnixMilli()

	first := room.Participant{
		UserID:   params.HostID,
		Name:     params.HostName,
		JoinedAt: now,
		LastSeen: now,
	}
	if params.Participant != nil {
		if params.Participant.UserID != "" {
			first.UserID = params.Participant.UserID
		}
		if params.Participant.Name != "" {
			first.Name = params.Participant.Name
		}
	}

	rm := &room.Room{
		ID:            s.generator.GenerateRandomString(s.cfg.RoomIDLength),
		MovieID:       params.MovieID,
		EpisodeNumber: params.EpisodeNumber,
		Title:         params.Title,
		Poster:        params.Poster,
		HostID:        params.HostID,
		HostName:      params.HostName,
		IsLive:        params.IsLive,
		IsPrivate:     params.IsPrivate,
		AutoStart:     params.AutoStart,
		State: room.PlaybackState{
			Position:     params.CurrentPosition,
			IsPlaying:    params.AutoStart,
			PlaybackRate: 1,
			UpdatedAt:    now,
		},
		Participants: []room.Participant{first},
		Messages:     []room.ChatMessage{},
		LastActive:   now,
	}

	if err := s.roomRepo.Create(ctx, rm); err != nil {
		return nil, err
	}

	return rm, nil
}

// GetRoom returns the room with its participant list pruned; the pruned list
// is persisted so other readers see it too.
func (s service) GetRoom(ctx context.Context, roomID string) (*room.Room, error) {
	return s.saveWithRetry(ctx, roomID, nil, func(*room.Room) {})
}

// ListPublicRooms returns public rooms ordered by recent activity. Pruning
// here is cosmetic; the stored lists are cleaned up on the next write.
func (s service) ListPublicRooms(ctx context.Context, limit int) ([]*room.Room, error) {
	if limit <= 0 {
		limit = defaultPublicRoomsLimit
	}

	rooms, err := s.roomRepo.ListPublic(ctx, limit)
	if err != nil {
		return nil, err
	}

	for _, rm := range rooms {
		s.pruneParticipants(rm)
	}

	return rooms, nil
}

// ListPrivateRooms returns private rooms the viewer hosts or participates in.
func (s service) ListPrivateRooms(ctx context.Context, viewerID string, limit int) ([]*room.Room, error) {
	if limit <= 0 {
		limit = defaultPrivateRoomsLimit
	}

	rooms, err := s.roomRepo.ListPrivate(ctx, viewerID, limit)
	if err != nil {
		return nil, err
	}

	for _, rm := range rooms {
		s.pruneParticipants(rm)
	}

	return rooms, nil
}

type UpdateSettingsParams struct {
	RoomID   string
	ViewerID string
	// IsLive toggles host-authority mode; nil leaves it unchanged.
	IsLive *bool
}

// UpdateSettings changes room settings. Only the host may call it.
func (s service) UpdateSettings(ctx context.Context, params UpdateSettingsParams) (*room.Room, error) {
	rm, err := s.roomRepo.Get(ctx, params.RoomID)
	if err != nil {
		return nil, err
	}

	if !s.CanUpdateSettings(rm, params.ViewerID) {
		return nil, ErrPermissionDenied
	}

	return s.saveWithRetry(ctx, params.RoomID, rm, func(rm *room.Room) {
		if params.IsLive != nil {
			rm.IsLive = *params.IsLive
		}
		rm.LastActive = time.Now().UnixMilli()
	})
}

// DeleteRoom removes the room and drops its cached segments. Only the host
// may call it.
func (s service) DeleteRoom(ctx context.Context, roomID, viewerID string) error {
	rm, err := s.roomRepo.Get(ctx, roomID)
	if err != nil {
		return err
	}

	if !s.CanDeleteRoom(rm, viewerID) {
		return ErrPermissionDenied
	}

	if err := s.roomRepo.Delete(ctx, roomID); err != nil {
		return err
	}

	if err := s.cache.Clear(ctx, roomID); err != nil {
		s.logger.WarnContext(ctx, "failed to clear room segment cache", "room_id", roomID, "error", err)
	}

	return nil
}
