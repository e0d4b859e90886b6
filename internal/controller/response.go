package controller

import (
	"errors"
	"net/http"

	"github.com/rophim/server/internal/repository/room"
	"github.com/rophim/server/internal/service/watchparty"
	"github.com/rophim/server/pkg/rest"
)

func (c controller) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		rest.WriteJSON(w, http.StatusNotFound, rest.Envelope{"error": "room not found"})
	case errors.Is(err, watchparty.ErrPermissionDenied):
		rest.WriteJSON(w, http.StatusForbidden, rest.Envelope{"error": "permission denied"})
	case errors.Is(err, room.ErrVersionConflict):
		rest.WriteJSON(w, http.StatusConflict, rest.Envelope{"error": "room is being updated, try again"})
	default:
		c.logger.ErrorContext(r.Context(), "request failed", "error", err)
		rest.WriteJSON(w, http.StatusInternalServerError, rest.Envelope{"error": "internal server error"})
	}
}
