package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/0xpr03/vtasync/internal/authz"
	"github.com/0xpr03/vtasync/internal/session"
	"github.com/0xpr03/vtasync/internal/sharecode"
)

type shareGenerateRequest struct {
	Write    bool      `json:"write"`
	Reshare  bool      `json:"reshare"`
	Reusable bool      `json:"reusable"`
	Deadline time.Time `json:"deadline"`
}

type shareGenerateResponse struct {
	TokenA string `json:"token_a"`
	TokenB string `json:"token_b"`
}

func (h *Handler) handleShareGenerate(w http.ResponseWriter, r *http.Request) {
	userUUID, ok := session.UserID(r.Context())
	if !ok {
		handleErr(w, session.ErrNotAuthenticated)
		return
	}
	list := mux.Vars(r)["l"]

	var req shareGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleErr(w, validationErr("body"))
		return
	}

	tx, err := h.db.BeginTx(r.Context(), nil)
	if err != nil {
		handleErr(w, err)
		return
	}
	defer tx.Rollback()

	isOwner, err := authz.HasPermission(r.Context(), tx, userUUID, list, authz.Owner)
	if err != nil {
		handleErr(w, err)
		return
	}
	if !isOwner {
		handleErr(w, authz.ErrPermissionDenied)
		return
	}

	tokenA, tokenB, err := sharecode.Generate(r.Context(), tx, list, sharecode.Params{
		Write: req.Write, Reshare: req.Reshare, Reusable: req.Reusable, Deadline: req.Deadline,
	})
	if err != nil {
		handleErr(w, err)
		return
	}

	if err := tx.Commit(); err != nil {
		handleErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, shareGenerateResponse{TokenA: tokenA, TokenB: tokenB})
}

type shareUseResponse struct {
	List string `json:"list"`
}

func (h *Handler) handleShareUse(w http.ResponseWriter, r *http.Request) {
	userUUID, ok := session.UserID(r.Context())
	if !ok {
		handleErr(w, session.ErrNotAuthenticated)
		return
	}
	vars := mux.Vars(r)
	tokenA, tokenB := vars["tokenA"], vars["tokenB"]

	tx, err := h.db.BeginTx(r.Context(), nil)
	if err != nil {
		handleErr(w, err)
		return
	}
	defer tx.Rollback()

	list, err := sharecode.Use(r.Context(), tx, userUUID, tokenA, tokenB, time.Now())
	if err != nil {
		handleErr(w, err)
		return
	}

	if err := tx.Commit(); err != nil {
		handleErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, shareUseResponse{List: list})
}
