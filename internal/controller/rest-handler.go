package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rophim/server/internal/service/watchparty"
	"github.com/rophim/server/pkg/rest"
)

type participantRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

type createRoomRequest struct {
	MovieID         string              `json:"movie_id" validate:"required"`
	EpisodeNumber   *int                `json:"episode_number"`
	Title           string              `json:"title" validate:"required"`
	Poster          string              `json:"poster"`
	HostID          string              `json:"host_id" validate:"required"`
	HostName        string              `json:"host_name" validate:"required,max=64"`
	IsLive          bool                `json:"is_live"`
	IsPrivate       bool                `json:"is_private"`
	AutoStart       *bool               `json:"auto_start"`
	CurrentPosition float64             `json:"current_position"`
	Participant     *participantRequest `json:"participant"`
}

func (c controller) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := rest.ReadJSON(r, &req); err != nil {
		rest.WriteJSON(w, http.StatusUnprocessableEntity, rest.Envelope{"error": err.Error()})
		return
	}

	if validationErrors, ok := c.validate.Validate(req); !ok {
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	autoStart := true
	if req.AutoStart != nil {
		autoStart = *req.AutoStart
	}

	params := watchparty.CreateRoomParams{
		MovieID:         req.MovieID,
		EpisodeNumber:   req.EpisodeNumber,
		Title:           req.Title,
		Poster:          req.Poster,
		HostID:          req.HostID,
		HostName:        req.HostName,
		IsLive:          req.IsLive,
		IsPrivate:       req.IsPrivate,
		AutoStart:       autoStart,
		CurrentPosition: req.CurrentPosition,
	}
	if req.Participant != nil {
		params.Participant = &watchparty.ParticipantParams{
			UserID: req.Participant.UserID,
			Name:   req.Participant.Name,
		}
	}

	rm, err := c.roomService.CreateRoom(r.Context(), params)
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}

	c.metrics.IncRoomsCreated()
	rest.WriteJSON(w, http.StatusCreated, rm)
}

func (c controller) listPublicRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := c.roomService.ListPublicRooms(r.Context(), 0)
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rooms)
}

func (c controller) listPrivateRooms(w http.ResponseWriter, r *http.Request) {
	viewerID := r.URL.Query().Get("viewer_id")
	if viewerID == "" {
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"error": "viewer_id is required"})
		return
	}

	rooms, err := c.roomService.ListPrivateRooms(r.Context(), viewerID, 0)
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rooms)
}

func (c controller) getRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := c.roomService.GetRoom(r.Context(), chi.URLParam(r, "room-id"))
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rm)
}

type joinRoomRequest struct {
	ViewerID string `json:"viewer_id" validate:"required"`
	Name     string `json:"name" validate:"max=64"`
}

func (c controller) joinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRoomRequest
	if err := rest.ReadJSON(r, &req); err != nil {
		rest.WriteJSON(w, http.StatusUnprocessableEntity, rest.Envelope{"error": err.Error()})
		return
	}

	if validationErrors, ok := c.validate.Validate(req); !ok {
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	rm, err := c.roomService.Join(r.Context(), watchparty.JoinParams{
		RoomID:   chi.URLParam(r, "room-id"),
		ViewerID: req.ViewerID,
		Name:     req.Name,
	})
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rm)
}

type heartbeatRequest struct {
	ViewerID string `json:"viewer_id" validate:"required"`
}

func (c controller) heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := rest.ReadJSON(r, &req); err != nil {
		rest.WriteJSON(w, http.StatusUnprocessableEntity, rest.Envelope{"error": err.Error()})
		return
	}

	if validationErrors, ok := c.validate.Validate(req); !ok {
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	rm, err := c.roomService.Heartbeat(r.Context(), chi.URLParam(r, "room-id"), req.ViewerID)
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rm)
}

func (c controller) leaveRoom(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := rest.ReadJSON(r, &req); err != nil {
		rest.WriteJSON(w, http.StatusUnprocessableEntity, rest.Envelope{"error": err.Error()})
		return
	}

	if validationErrors, ok := c.validate.Validate(req); !ok {
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	rm, err := c.roomService.Leave(r.Context(), chi.URLParam(r, "room-id"), req.ViewerID)
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rm)
}

type updateStateRequest struct {
	ViewerID     string  `json:"viewer_id" validate:"required"`
	Position     float64 `json:"position"`
	IsPlaying    bool    `json:"is_playing"`
	PlaybackRate float64 `json:"playback_rate"`
}

func (c controller) updateState(w http.ResponseWriter, r *http.Request) {
	var req updateStateRequest
	if err := rest.ReadJSON(r, &req); err != nil {
		rest.WriteJSON(w, http.StatusUnprocessableEntity, rest.Envelope{"error": err.Error()})
		return
	}

	if validationErrors, ok := c.validate.Validate(req); !ok {
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	rm, err := c.roomService.UpdateState(r.Context(), watchparty.UpdateStateParams{
		RoomID:       chi.URLParam(r, "room-id"),
		ViewerID:     req.ViewerID,
		Position:     req.Position,
		IsPlaying:    req.IsPlaying,
		PlaybackRate: req.PlaybackRate,
	})
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rm.State)
}

type updateSettingsRequest struct {
	ViewerID string `json:"viewer_id" validate:"required"`
	IsLive   *bool  `json:"is_live"`
}

func (c controller) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := rest.ReadJSON(r, &req); err != nil {
		rest.WriteJSON(w, http.StatusUnprocessableEntity, rest.Envelope{"error": err.Error()})
		return
	}

	if validationErrors, ok := c.validate.Validate(req); !ok {
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	rm, err := c.roomService.UpdateSettings(r.Context(), watchparty.UpdateSettingsParams{
		RoomID:   chi.URLParam(r, "room-id"),
		ViewerID: req.ViewerID,
		IsLive:   req.IsLive,
	})
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rm)
}

type sendMessageRequest struct {
	ViewerID string   `json:"viewer_id" validate:"required"`
	UserName string   `json:"user_name" validate:"max=64"`
	Content  string   `json:"content" validate:"required"`
	Position *float64 `json:"position"`
}

func (c controller) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := rest.ReadJSON(r, &req); err != nil {
		rest.WriteJSON(w, http.StatusUnprocessableEntity, rest.Envelope{"error": err.Error()})
		return
	}

	if validationErrors, ok := c.validate.Validate(req); !ok {
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	rm, err := c.roomService.SendMessage(r.Context(), watchparty.SendMessageParams{
		RoomID:   chi.URLParam(r, "room-id"),
		ViewerID: req.ViewerID,
		UserName: req.UserName,
		Content:  req.Content,
		Position: req.Position,
	})
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rm.Messages)
}

func (c controller) deleteRoom(w http.ResponseWriter, r *http.Request) {
	viewerID := r.URL.Query().Get("viewer_id")
	if viewerID == "" {
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"error": "viewer_id is required"})
		return
	}

	if err := c.roomService.DeleteRoom(r.Context(), chi.URLParam(r, "room-id"), viewerID); err != nil {
		c.writeServiceError(w, r, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"message": "room deleted"})
}
