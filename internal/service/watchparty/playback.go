package watchparty

import (
	"context"
	"time"

	"github.com/rophim/server/internal/repository/room"
)

type UpdateStateParams struct {
	RoomID       string
	ViewerID     string
	Position     float64
	IsPlaying    bool
	PlaybackRate float64
}

// UpdateState replaces the shared playback state. In live mode only the host
// may drive it; in free mode any participant's update is stored so late
// joiners have a position to seek to.
func (s service) UpdateState(ctx context.Context, params UpdateStateParams) (*room.Room, error) {
	rm, err := s.roomRepo.Get(ctx, params.RoomID)
	if err != nil {
		return nil, err
	}

	if !s.CanUpdateState(rm, params.ViewerID) {
		return nil, ErrPermissionDenied
	}

	now := time.Now().UnixMilli()
	rate := params.PlaybackRate
	if rate <= 0 {
		rate = 1
	}

	return s.saveWithRetry(ctx, params.RoomID, rm, func(rm *room.Room) {
		rm.State = room.PlaybackState{
			Position:     params.Position,
			IsPlaying:    params.IsPlaying,
			PlaybackRate: rate,
			UpdatedAt:    now,
		}
		rm.LastActive = now
	})
}
