package watchparty

import (
	"context"
	"time"

	"github.com/rophim/server/internal/repository/room"
)

const anonymousUserName = "Anonymous"

type SendMessageParams struct {
	RoomID   string
	ViewerID string
	UserName string
	Content  string
	// Position optionally anchors the message to a playback timestamp.
	Position *float64
}

// SendMessage appends a chat message, truncated to the configured length, and
// trims the history to the newest MaxMessages entries.
func (s service) SendMessage(ctx context.Context, params SendMessageParams) (*room.Room, error) {
	now := time.Now().UnixMilli()

	userName := params.UserName
	if userName == "" {
		userName = anonymousUserName
	}

	content := params.Content
	if runes := []rune(content); len(runes) > s.cfg.MaxMessageLen {
		content = string(runes[:s.cfg.MaxMessageLen])
	}

	return s.saveWithRetry(ctx, params.RoomID, nil, func(rm *room.Room) {
		rm.Messages = append(rm.Messages, room.ChatMessage{
			UserID:    params.ViewerID,
			UserName:  userName,
			Content:   content,
			Position:  params.Position,
			CreatedAt: now,
		})
		if len(rm.Messages) > s.cfg.MaxMessages {
			rm.Messages = rm.Messages[len(rm.Messages)-s.cfg.MaxMessages:]
		}
		rm.LastActive = now
	})
}
