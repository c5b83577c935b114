// Package server wires the application together: router, middleware,
// route definitions, and graceful shutdown.
//
// DEPENDENCY FLOW:
// main.go loads config and creates the logger; New assembles everything
// else in one place (the composition root):
//
//	sqlite.DB → repositories
//	session.Manager, auth providers
//	services → handlers → routes
//
// Handlers never touch the database directly; services never touch HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/obouchta/cf-rankings/internal/auth"
	"github.com/obouchta/cf-rankings/internal/codeforces"
	"github.com/obouchta/cf-rankings/internal/config"
	"github.com/obouchta/cf-rankings/internal/handler"
	"github.com/obouchta/cf-rankings/internal/middleware"
	sqliteRepo "github.com/obouchta/cf-rankings/internal/repository/sqlite"
	"github.com/obouchta/cf-rankings/internal/service"
	"github.com/obouchta/cf-rankings/internal/session"
)

// Server holds the router and the resources it owns. The database
// connection is closed during shutdown.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	cf     *auth.CodeforcesProvider
}

// New creates a Server with all dependencies wired.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}
	s.setupRoutes()
	return s, nil
}

// setupRoutes configures middleware, builds the dependency chain, and
// registers every route.
//
// ROUTE MAP:
//
//	GET    /                              → API index
//	POST   /api/users/add-user            → add user by Codeforces handle
//	GET    /api/auth/42/login             → start 42 login
//	GET    /api/auth/42/callback          → finish 42 login
//	GET    /api/auth/me                   → session profile        [auth]
//	POST   /api/auth/logout               → destroy session
//	GET    /api/auth/codeforces           → start CF linking       [auth]
//	GET    /api/auth/codeforces/callback  → finish CF linking
//	DELETE /api/auth/codeforces           → unlink CF account      [linked]
//	GET    /api/rankings                  → refresh + leaderboard
//	GET    /api/rankings/top              → stored top-N
//	GET    /api/rankings/me               → caller's standing      [linked]
//	GET    /api/rankings/history/{handle} → contest history        [linked]
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	// External clients and providers.
	cfClient := codeforces.New(s.config.CFAPIBase)
	intra := auth.NewIntraProvider(
		s.config.IntraClientID,
		s.config.IntraClientSecret,
		s.config.IntraCallbackURL,
	)
	s.cf = auth.NewCodeforcesProvider(
		s.config.CFClientID,
		s.config.CFClientSecret,
		s.config.CFCallbackURL,
	)

	// Secure cookies whenever the frontend is served over HTTPS.
	secure := strings.HasPrefix(s.config.FrontendURL, "https://")
	sessions := session.NewManager(s.db, secure)

	// Services.
	authSvc := service.NewAuthService(s.db, cfClient, s.logger)
	rankingSvc := service.NewRankingService(s.db, cfClient, nil, s.logger)

	// Handlers.
	authHandler := handler.NewAuthHandler(intra, sessions, authSvc, s.config.FrontendURL, s.logger)
	oauthHandler := handler.NewOAuthHandler(s.cf, sessions, authSvc, s.config.FrontendURL, s.logger)
	userHandler := handler.NewUserHandler(authSvc, s.logger)
	rankingHandler := handler.NewRankingHandler(rankingSvc, authSvc, s.logger)

	requireAuth := auth.RequireAuth(sessions)
	requireCF := auth.RequireCodeforces(sessions, s.db)

	s.router.Get("/", handleIndex)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/users/add-user", userHandler.HandleAddUser)

		r.Route("/auth", func(r chi.Router) {
			r.Get("/42/login", authHandler.HandleIntraLogin)
			r.Get("/42/callback", authHandler.HandleIntraCallback)
			r.With(requireAuth).Get("/me", authHandler.HandleMe)
			r.Post("/logout", authHandler.HandleLogout)

			r.With(requireAuth).Get("/codeforces", oauthHandler.HandleCodeforcesLogin)
			// The callback arrives as a top-level navigation from
			// codeforces.com — it checks the session itself so failures
			// redirect instead of returning a JSON 401.
			r.Get("/codeforces/callback", oauthHandler.HandleCodeforcesCallback)
			r.With(requireCF).Delete("/codeforces", oauthHandler.HandleUnlink)
		})

		r.Route("/rankings", func(r chi.Router) {
			r.Get("/", rankingHandler.HandleRankings)
			r.Get("/top", rankingHandler.HandleTop)
			r.With(requireCF).Get("/me", rankingHandler.HandleMyRanking)
			r.With(requireCF).Get("/history/{handle}", rankingHandler.HandleHistory)
		})
	})
}

// handleIndex describes the API — handy when poking the service with curl.
func handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{
  "message": "Codeforces Ranking API",
  "endpoints": {
    "addUser": "POST /api/users/add-user {\"codeforcesHandle\":\"tourist\"}",
    "rankings": "GET /api/rankings",
    "login": "GET /api/auth/42/login",
    "linkCodeforces": "GET /api/auth/codeforces",
    "me": "GET /api/auth/me"
  }
}
`))
}

// Start runs the HTTP server until SIGINT/SIGTERM, then drains in-flight
// requests (30s budget) and closes the database.
func (s *Server) Start() error {
	defer s.db.Close()

	// Warm up OIDC discovery so the first user to link doesn't pay for it.
	// A failure here is not fatal — discovery retries lazily on first use.
	if s.cf.Configured() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.cf.Init(ctx); err != nil {
			s.logger.Warn("Codeforces OIDC discovery failed at startup — will retry on first use",
				slog.String("error", err.Error()),
			)
		}
		cancel()
	} else {
		s.logger.Warn("Codeforces OAuth credentials not configured — account linking disabled")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		// The rankings refresh makes N paced upstream calls inside one
		// request; give it room to finish on a busy leaderboard.
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
			slog.String("frontend", s.config.FrontendURL),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
