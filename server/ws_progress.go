package server

import (
	"net/http"

	"TrackHub/core/chunk"
	"TrackHub/logger"

	"github.com/gorilla/mux"
)

// ProgressHandler upgrades to a websocket that receives the pipeline
// events of one track.
func (h *Handler) ProgressHandler(w http.ResponseWriter, r *http.Request) {
	trackID := mux.Vars(r)["id"]
	if err := chunk.ValidateTrackID(trackID); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied
		logger.Warn("WebSocket 升级失败", logger.String("trackId", trackID), logger.ErrorField(err))
		return
	}
	h.hub.Subscribe(conn, trackID)
}
