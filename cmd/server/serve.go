package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/vikasavnish/stockwatch/internal/api"
	"github.com/vikasavnish/stockwatch/internal/db"
	"github.com/vikasavnish/stockwatch/internal/finnhub"
	"github.com/vikasavnish/stockwatch/internal/identity"
	"github.com/vikasavnish/stockwatch/internal/services"
	"github.com/vikasavnish/stockwatch/internal/tasks"
	"github.com/vikasavnish/stockwatch/internal/watch"
	"github.com/vikasavnish/stockwatch/internal/websocket"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE:  runServe,
}

// app is everything a running server is wired from
type app struct {
	router  *mux.Router
	handler http.Handler
	hub     *websocket.Hub
	tasks   *tasks.Manager
}

// sessionStore picks Redis when it is reachable and the in-memory store
// otherwise. The memory store needs a sweep task to drop expired entries.
func sessionStore(taskManager *tasks.Manager) identity.SessionStore {
	redisClient, err := db.ConnectRedis(cfg.Redis)
	if err == nil {
		log.Info().Msg("Sessions stored in Redis")
		return identity.NewRedisSessionStore(redisClient)
	}

	log.Warn().Err(err).Msg("Failed to connect to Redis, keeping sessions in memory")
	store := identity.NewMemorySessionStore()
	taskManager.RegisterTask(tasks.NewSessionSweepTask(store, cfg.Identity.SweepInterval))
	return store
}

func buildApp(database *gorm.DB, sessions identity.SessionStore, taskManager *tasks.Manager) *app {
	backend := identity.NewBackend(database, sessions, identity.Options{
		SecretKey:     cfg.JWT.SecretKey,
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.Identity.RefreshTTL,
		ResetTokenTTL: cfg.Identity.ResetTokenTTL,
		MinPassword:   cfg.Identity.MinPassword,
		ConfirmEmail:  cfg.Identity.ConfirmEmail,
	})
	quotes := finnhub.NewClient(cfg.Finnhub.APIKey, cfg.Finnhub.BaseURL, cfg.Finnhub.RequestTimeout)
	if !quotes.Enabled() {
		log.Warn().Msg("FINNHUB_API_KEY is not set; search and quotes are disabled")
	}

	hub := websocket.NewHub(&websocket.Factory{
		Auth:     backend,
		Store:    services.NewFavoriteService(database),
		Profiles: services.NewProfileService(database),
		Market:   quotes,
		Options: watch.Options{
			SearchDelay:    cfg.Finnhub.SearchDebounce,
			SearchLimit:    cfg.Finnhub.SearchLimit,
			RequestTimeout: cfg.Finnhub.RequestTimeout,
		},
	})

	router := api.SetupRouter(database, backend, quotes, hub, cfg)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	return &app{
		router:  router,
		handler: corsMiddleware.Handler(router),
		hub:     hub,
		tasks:   taskManager,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	database, err := db.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	taskManager := tasks.NewManager()
	a := buildApp(database, sessionStore(taskManager), taskManager)
	a.tasks.StartScheduledTasks()
	defer a.tasks.StopAllTasks()

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: a.handler,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server starting")
		errCh <- srv.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	a.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
