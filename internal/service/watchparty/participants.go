package watchparty

import (
	"context"
	"time"

	"github.com/rophim/server/internal/repository/room"
)

const defaultParticipantName = "Guest"

type JoinParams struct {
	RoomID   string
	ViewerID string
	Name     string
}

// Join adds the viewer to the participant list, or refreshes their heartbeat
// when they are already in it, so joining is safe to repeat.
func (s service) Join(ctx context.Context, params JoinParams) (*room.Room, error) {
	now := time.Now().UnixMilli()

	return s.saveWithRetry(ctx, params.RoomID, nil, func(rm *room.Room) {
		for i := range rm.Participants {
			if rm.Participants[i].UserID != params.ViewerID {
				continue
			}
			rm.Participants[i].LastSeen = now
			if params.Name != "" {
				rm.Participants[i].Name = params.Name
			}
			rm.LastActive = now
			return
		}

		name := params.Name
		if name == "" {
			name = defaultParticipantName
		}
		rm.Participants = append(rm.Participants, room.Participant{
			UserID:   params.ViewerID,
			Name:     name,
			JoinedAt: now,
			LastSeen: now,
		})
		rm.LastActive = now
	})
}

// Heartbeat marks the viewer as still present. Unknown viewers only bump the
// room's activity; they are expected to join first.
func (s service) Heartbeat(ctx context.Context, roomID, viewerID string) (*room.Room, error) {
	now := time.Now().UnixMilli()

	return s.saveWithRetry(ctx, roomID, nil, func(rm *room.Room) {
		for i := range rm.Participants {
			if rm.Participants[i].UserID == viewerID {
				rm.Participants[i].LastSeen = now
				break
			}
		}
		rm.LastActive = now
	})
}

// Leave removes the viewer from the participant list.
func (s service) Leave(ctx context.Context, roomID, viewerID string) (*room.Room, error) {
	now := time.Now().UnixMilli()

	return s.saveWithRetry(ctx, roomID, nil, func(rm *room.Room) {
		kept := rm.Participants[:0]
		for _, p := range rm.Participants {
			if p.UserID != viewerID {
				kept = append(kept, p)
			}
		}
		rm.Participants = kept
		rm.LastActive = now
	})
}
