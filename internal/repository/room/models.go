package room

// PlaybackState is the shared player position for a room. In live mode every
// viewer follows it; in free mode it is only the host's last known position.
type PlaybackState struct {
	Position     float64 `json:"position"`
	IsPlaying    bool    `json:"is_playing"`
	PlaybackRate float64 `json:"playback_rate"`
	UpdatedAt    int64   `json:"updated_at"`
}

type Participant struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	JoinedAt int64  `json:"joined_at"`
	LastSeen int64  `json:"last_seen"`
}

type ChatMessage struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Content  string `json:"content"`
	// Position anchors the message to a playback timestamp when the client
	// sent one.
	Position  *float64 `json:"position,omitempty"`
	CreatedAt int64    `json:"created_at"`
}

// Room is the persisted watch-party record. Version is bumped by the store on
// every successful save and checked on write, so concurrent mutations fail
// with ErrVersionConflict instead of overwriting each other.
type Room struct {
	ID            string        `json:"room_id"`
	MovieID       string        `json:"movie_id"`
	EpisodeNumber *int          `json:"episode_number,omitempty"`
	Title         string        `json:"title"`
	Poster        string        `json:"poster,omitempty"`
	HostID        string        `json:"host_id"`
	HostName      string        `json:"host_name"`
	IsLive        bool          `json:"is_live"`
	IsPrivate     bool          `json:"is_private"`
	AutoStart     bool          `json:"auto_start"`
	State         PlaybackState `json:"state"`
	Participants  []Participant `json:"participants"`
	Messages      []ChatMessage `json:"messages"`
	LastActive    int64         `json:"last_active"`
	Version       int64         `json:"version"`
}

// HasParticipant reports whether userID is currently in the participant list.
func (r *Room) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return true
		}
	}

	return false
}
