package api

import (
	"net/http"
	"time"
)

type serverInfoResponse struct {
	ID   string    `json:"id"`
	Time time.Time `json:"time"`
}

func (h *Handler) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, serverInfoResponse{ID: h.serverID.String(), Time: time.Now().UTC()})
}
