package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/0xpr03/vtasync/internal/identity"
	"github.com/0xpr03/vtasync/internal/metrics"
	"github.com/0xpr03/vtasync/internal/session"
	"github.com/0xpr03/vtasync/internal/syncengine"
)

// Handler serves the account, sync, and share-code endpoints over JSON.
type Handler struct {
	identity *identity.Registry
	engine   *syncengine.Engine
	gate     *session.Gate
	metrics  metrics.Manager
	serverID uuid.UUID
	started  time.Time
	db       *sql.DB
}

// NewHandler creates a Handler.
func NewHandler(db *sql.DB, identityRegistry *identity.Registry, engine *syncengine.Engine, gate *session.Gate, m metrics.Manager, serverID uuid.UUID) *Handler {
	return &Handler{
		db:       db,
		identity: identityRegistry,
		engine:   engine,
		gate:     gate,
		metrics:  m,
		serverID: serverID,
		started:  time.Now(),
	}
}

// RegisterRoutes mounts every endpoint from §6 onto router.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/server/info", h.handleServerInfo).Methods(http.MethodGet)

	router.HandleFunc("/api/v1/account/register/new", h.handleRegisterNew).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/account/login/key", h.handleLoginKey).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/account/login/password", h.handleLoginPassword).Methods(http.MethodPost)

	protected := router.PathPrefix("/").Subrouter()
	protected.Use(h.gate.RequireAuth, h.touchLastSeen)

	protected.HandleFunc("/api/v1/account/register/password", h.handleRegisterPassword).Methods(http.MethodPost)
	protected.HandleFunc("/api/v1/account/info", h.handleAccountInfo).Methods(http.MethodGet)
	protected.HandleFunc("/api/v1/account/delete", h.handleAccountDelete).Methods(http.MethodPost)

	protected.HandleFunc("/api/v1/sync/lists/deleted", h.handleListsDeleted).Methods(http.MethodPost)
	protected.HandleFunc("/api/v1/sync/lists/changed", h.handleListsChanged).Methods(http.MethodPost)
	protected.HandleFunc("/api/v1/sync/entries/deleted", h.handleEntriesDeleted).Methods(http.MethodPost)
	protected.HandleFunc("/api/v1/sync/entries/changed", h.handleEntriesChanged).Methods(http.MethodPost)

	protected.HandleFunc("/api/v1/lists/{l}/share", h.handleShareGenerate).Methods(http.MethodPost)
	protected.HandleFunc("/api/v1/lists/share/{tokenA}/{tokenB}", h.handleShareUse).Methods(http.MethodPost)
}

// touchLastSeen rejects locked accounts and bumps last_seen, on every
// request that clears the session gate. Per SPEC_FULL §12 a lock applied
// after a session cookie was issued must take effect before any sync logic
// runs, not just at the next login, so the check happens here rather than
// only in the login handlers.
func (h *Handler) touchLastSeen(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userUUID, ok := session.UserID(r.Context()); ok {
			if err := h.identity.CheckUnlocked(r.Context(), userUUID); err != nil {
				handleErr(w, err)
				return
			}
			if err := h.identity.TouchLastSeen(r.Context(), userUUID); err != nil {
				logTouchLastSeenErr(err)
			}
		}
		next.ServeHTTP(w, r)
	})
}
