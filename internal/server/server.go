package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/0xpr03/vtasync/internal/api"
	"github.com/0xpr03/vtasync/internal/config"
	"github.com/0xpr03/vtasync/internal/cryptowork"
	"github.com/0xpr03/vtasync/internal/db/migrations"
	"github.com/0xpr03/vtasync/internal/identity"
	"github.com/0xpr03/vtasync/internal/metrics"
	"github.com/0xpr03/vtasync/internal/middleware"
	"github.com/0xpr03/vtasync/internal/serverid"
	"github.com/0xpr03/vtasync/internal/session"
	"github.com/0xpr03/vtasync/internal/syncengine"
)

// Server represents the vtasync sync backend.
type Server struct {
	config *config.Config
	db     *sql.DB

	identity *identity.Registry
	engine   *syncengine.Engine
	gate     *session.Gate
	metrics  metrics.Manager

	httpServer *http.Server
}

// New wires up the database, identity registry, sync engine, session gate
// and HTTP routing for a fresh vtasync server.
func New(cfg *config.Config) (*Server, error) {
	db, err := sql.Open("sqlite", cfg.Database.DB+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxConn)

	if err := migrations.NewMigrationManager(db, logrus.StandardLogger()).Migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	ident, err := serverid.Load(db)
	if err != nil {
		return nil, fmt.Errorf("failed to load server identity: %w", err)
	}

	pool := cryptowork.New(4)
	identityRegistry := identity.New(db, ident.ServerID, pool)
	engine := syncengine.New(db)
	gate := session.New(ident.SessionKey, cfg.Secure)
	metricsManager := metrics.NewManager()

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s := &Server{
		config:     cfg,
		db:         db,
		identity:   identityRegistry,
		engine:     engine,
		gate:       gate,
		metrics:    metricsManager,
		httpServer: httpServer,
	}

	if err := s.setupRoutes(ident); err != nil {
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}

	return s, nil
}

func (s *Server) setupRoutes(ident *serverid.Identity) error {
	router := mux.NewRouter()

	router.Handle("/metrics", s.metrics.GetMetricsHandler()).Methods(http.MethodGet)

	apiRouter := router.PathPrefix("/").Subrouter()
	if s.config.LogLevel == "debug" {
		apiRouter.Use(middleware.VerboseLogging())
	} else {
		apiRouter.Use(middleware.Logging())
	}
	apiRouter.Use(middleware.CORS())
	apiRouter.Use(middleware.RateLimit())
	apiRouter.Use(s.metrics.Middleware())

	h := api.NewHandler(s.db, s.identity, s.engine, s.gate, s.metrics, ident.ServerID)
	h.RegisterRoutes(apiRouter)

	s.httpServer.Handler = handlers.RecoveryHandler()(router)
	return nil
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	logrus.WithField("address", s.config.Addr()).Info("starting vtasync server")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("http server error")
		}
	}()

	<-ctx.Done()
	return s.shutdown()
}

func (s *Server) shutdown() error {
	logrus.Info("shutting down vtasync server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("failed to shut down http server")
	}

	return s.db.Close()
}
