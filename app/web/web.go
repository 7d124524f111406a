// Package web implements the JSON API server for the job tracker
package web

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/didip/tollbooth/v8"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/jobtrack/app/persistence"
	"github.com/umputun/jobtrack/app/store"
)

// rate limit for login and registration attempts
var loginLimiter = tollbooth.NewLimiter(1, nil)

// UserStore provides account operations for the identity layer
type UserStore interface {
	CreateUser(ctx context.Context, email, passwordHash string) (persistence.User, error)
	GetUserByEmail(ctx context.Context, email string) (persistence.User, error)
}

// session represents an active user session
type session struct {
	userID    string
	createdAt time.Time
}

// Server represents the web server. It owns one collection store per
// authenticated user, created when the identity becomes available and torn
// down on sign-out.
type Server struct {
	persistence store.Persistence
	users       UserStore
	version     string
	loginTTL    time.Duration
	openSignup  bool

	csrfProtection *http.CrossOriginProtection

	storesMu sync.Mutex
	stores   map[string]*store.Store // user id -> session store

	sessionsMu sync.Mutex
	sessions   map[string]session // token -> session

	startTime time.Time
}

// Config holds server configuration
type Config struct {
	Persistence store.Persistence
	Users       UserStore
	Version     string
	LoginTTL    time.Duration // session TTL, defaults to 24h if not set
	OpenSignup  bool          // allow self-registration
}

// New creates a new web server
func New(cfg Config) (*Server, error) {
	if cfg.Persistence == nil {
		return nil, fmt.Errorf("web server initialization failed: Persistence is required")
	}
	if cfg.Users == nil {
		return nil, fmt.Errorf("web server initialization failed: Users is required")
	}

	loginTTL := cfg.LoginTTL
	if loginTTL == 0 {
		loginTTL = 24 * time.Hour
	}

	return &Server{
		persistence:    cfg.Persistence,
		users:          cfg.Users,
		version:        cfg.Version,
		loginTTL:       loginTTL,
		openSignup:     cfg.OpenSignup,
		csrfProtection: http.NewCrossOriginProtection(),
		stores:         make(map[string]*store.Store),
		sessions:       make(map[string]session),
		startTime:      time.Now(),
	}, nil
}

// Run starts the web server and blocks until ctx is canceled
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s", address)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	// global middleware - applied to all routes
	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("jobtrack", "umputun", s.version),
		rest.Ping,
		rest.Trace,
		rest.SizeLimit(1024*1024), // 1MB max request size, covers import payloads
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)

	// identity routes, not protected by auth
	router.With(s.csrfProtection.Handler, tollbooth.HTTPMiddleware(loginLimiter)).HandleFunc("POST /login", s.handleLogin)
	if s.openSignup {
		router.With(s.csrfProtection.Handler, tollbooth.HTTPMiddleware(loginLimiter)).HandleFunc("POST /register", s.handleRegister)
	}
	router.HandleFunc("GET /logout", s.handleLogout)

	// authenticated API
	router.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)
		api.Use(s.csrfProtection.Handler)
		api.Use(s.authMiddleware)

		api.HandleFunc("GET /jobs", s.handleListJobs)
		api.HandleFunc("POST /jobs", s.handleAddJob)
		api.HandleFunc("PUT /jobs/{id}", s.handleUpdateJob)
		api.HandleFunc("DELETE /jobs/{id}", s.handleDeleteJob)
		api.HandleFunc("POST /jobs/{id}/applied", s.handleMarkApplied)
		api.HandleFunc("POST /jobs/{id}/status", s.handleSetStatus)
		api.HandleFunc("POST /jobs/{id}/excitement", s.handleSetExcitement)

		api.HandleFunc("POST /selection/toggle", s.handleToggleSelect)
		api.HandleFunc("POST /selection/all", s.handleSelectAll)

		api.HandleFunc("GET /notes", s.handleListNotes)
		api.HandleFunc("POST /notes", s.handleAddNote)
		api.HandleFunc("PUT /notes/{id}", s.handleUpdateNote)
		api.HandleFunc("DELETE /notes/{id}", s.handleDeleteNote)

		api.HandleFunc("GET /stats", s.handleStats)
		api.HandleFunc("GET /status", s.handleStatus)
		api.HandleFunc("POST /reload", s.handleReload)

		api.HandleFunc("GET /export", s.handleExport)
		api.HandleFunc("GET /export/schema", s.handleExportSchema)
		api.HandleFunc("POST /import", s.handleImport)
	})

	return router
}

// storeFor returns the session store for the user, creating and loading it on
// first access. A failed initial load keeps the empty store registered, the
// client retries via POST /reload.
func (s *Server) storeFor(ctx context.Context, userID string) (*store.Store, error) {
	s.storesMu.Lock()
	st, ok := s.stores[userID]
	if !ok {
		st = store.New(s.persistence)
		s.stores[userID] = st
	}
	s.storesMu.Unlock()

	if !ok {
		if err := st.SetUser(ctx, userID); err != nil {
			return st, fmt.Errorf("initial load failed for user %s: %w", userID, err)
		}
	}
	return st, nil
}

// dropStore tears down the user's session store on sign-out
func (s *Server) dropStore(userID string) {
	s.storesMu.Lock()
	st, ok := s.stores[userID]
	delete(s.stores, userID)
	s.storesMu.Unlock()

	if ok {
		if err := st.SetUser(context.Background(), ""); err != nil {
			log.Printf("[WARN] failed to clear store for user %s: %v", userID, err)
		}
	}
}
