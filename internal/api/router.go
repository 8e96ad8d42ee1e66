package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/vikasavnish/stockwatch/internal/config"
	"github.com/vikasavnish/stockwatch/internal/finnhub"
	"github.com/vikasavnish/stockwatch/internal/handlers"
	"github.com/vikasavnish/stockwatch/internal/identity"
	"github.com/vikasavnish/stockwatch/internal/market"
	"github.com/vikasavnish/stockwatch/internal/middleware"
	"github.com/vikasavnish/stockwatch/internal/services"
	"github.com/vikasavnish/stockwatch/internal/websocket"
)

// SetupRouter configures all routes and returns the router
func SetupRouter(
	db *gorm.DB,
	backend *identity.Backend,
	quotes *finnhub.Client,
	wsHub *websocket.Hub,
	cfg *config.Config,
) *mux.Router {
	router := mux.NewRouter()

	// Add health check endpoint
	router.HandleFunc("/api/health", HealthHandler(db, wsHub)).Methods("GET")

	// Watch sessions authenticate over the socket itself
	router.HandleFunc("/ws", wsHub.HandleWebSocket)

	// Create services
	favoriteService := services.NewFavoriteService(db)
	profileService := services.NewProfileService(db)

	// Create handlers using services
	authHandler := handlers.NewAuthHandler(backend, profileService)
	favoritesHandler := handlers.NewFavoritesHandler(favoriteService, wsHub)
	marketHandler := handlers.NewMarketHandler(quotes, market.NewFanout(quotes), favoriteService, cfg.Finnhub.SearchLimit)

	apiRouter := router.PathPrefix("/api").Subrouter()

	// Public endpoints (no authentication required)
	authHandler.RegisterPublicRoutes(apiRouter)

	// Create a subrouter for authenticated endpoints
	authRouter := apiRouter.PathPrefix("").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(backend))

	// Register routes
	authHandler.RegisterRoutes(authRouter)
	favoritesHandler.RegisterRoutes(authRouter)
	marketHandler.RegisterRoutes(authRouter)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})

	return router
}
