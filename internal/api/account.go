package api

import (
	"encoding/json"
	"net/http"

	"github.com/0xpr03/vtasync/internal/identity"
	"github.com/0xpr03/vtasync/internal/session"
)

type registerNewRequest struct {
	Key     string `json:"key"`
	KeyType string `json:"keytype"`
	Proof   string `json:"proof"`
}

type registerNewResponse struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

func (h *Handler) handleRegisterNew(w http.ResponseWriter, r *http.Request) {
	var req registerNewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleErr(w, validationErr("body"))
		return
	}

	user, err := h.identity.Register(r.Context(), identity.RegisterRequest{
		PublicKeyPEM: req.Key,
		KeyType:      identity.KeyType(req.KeyType),
		Proof:        req.Proof,
	})
	h.metrics.RecordAuthAttempt("register_key", err == nil)
	if err != nil {
		handleErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, registerNewResponse{UUID: user.UUID, Name: user.Name})
}

type loginKeyRequest struct {
	Iss   string `json:"iss"`
	Proof string `json:"proof"`
}

func (h *Handler) handleLoginKey(w http.ResponseWriter, r *http.Request) {
	var req loginKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleErr(w, validationErr("body"))
		return
	}

	userUUID, err := h.identity.LoginByKey(r.Context(), req.Iss, req.Proof)
	h.metrics.RecordAuthAttempt("login_key", err == nil)
	if err != nil {
		handleErr(w, err)
		return
	}

	if err := h.gate.Issue(w, userUUID); err != nil {
		handleErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"uuid": userUUID})
}

type loginPasswordRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) handleLoginPassword(w http.ResponseWriter, r *http.Request) {
	var req loginPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleErr(w, validationErr("body"))
		return
	}

	userUUID, err := h.identity.LoginByPassword(r.Context(), req.Email, req.Password)
	h.metrics.RecordAuthAttempt("login_password", err == nil)
	if err != nil {
		handleErr(w, err)
		return
	}

	if err := h.gate.Issue(w, userUUID); err != nil {
		handleErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"uuid": userUUID})
}

func (h *Handler) handleRegisterPassword(w http.ResponseWriter, r *http.Request) {
	userUUID, ok := session.UserID(r.Context())
	if !ok {
		handleErr(w, session.ErrNotAuthenticated)
		return
	}

	var req loginPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleErr(w, validationErr("body"))
		return
	}

	if err := h.identity.RegisterPassword(r.Context(), userUUID, req.Email, req.Password); err != nil {
		handleErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type accountInfoResponse struct {
	UUID         string  `json:"uuid"`
	Name         string  `json:"name"`
	LockedReason *string `json:"locked_reason,omitempty"`
	LastSeen     int64   `json:"last_seen"`
	DeleteAfter  *int64  `json:"delete_after,omitempty"`
	HasPassword  bool    `json:"has_password"`
}

func (h *Handler) handleAccountInfo(w http.ResponseWriter, r *http.Request) {
	userUUID, ok := session.UserID(r.Context())
	if !ok {
		handleErr(w, session.ErrNotAuthenticated)
		return
	}

	user, err := h.identity.Get(r.Context(), userUUID)
	if err != nil {
		handleErr(w, err)
		return
	}

	hasPassword, err := h.identity.HasPassword(r.Context(), userUUID)
	if err != nil {
		handleErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, accountInfoResponse{
		UUID:         user.UUID,
		Name:         user.Name,
		LockedReason: user.LockedReason,
		LastSeen:     user.LastSeen,
		DeleteAfter:  user.DeleteAfter,
		HasPassword:  hasPassword,
	})
}

func (h *Handler) handleAccountDelete(w http.ResponseWriter, r *http.Request) {
	userUUID, ok := session.UserID(r.Context())
	if !ok {
		handleErr(w, session.ErrNotAuthenticated)
		return
	}

	if err := h.identity.Delete(r.Context(), userUUID); err != nil {
		handleErr(w, err)
		return
	}

	h.gate.Clear(w)
	writeJSON(w, http.StatusOK, nil)
}
