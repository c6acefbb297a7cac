// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ppp-gateway/internal/config"
	"ppp-gateway/internal/handler"
	"ppp-gateway/internal/middleware"
)

// Router holds all dependencies for routing
type Router struct {
	config     *config.Config
	logger     *zap.Logger
	db         handler.Pinger
	controller handler.ConnectionController
	history    handler.HistoryReader
	websocket  *handler.WebSocketHandler
}

// NewRouter creates a new router instance. db and history may be nil when
// history storage is disabled.
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	db handler.Pinger,
	controller handler.ConnectionController,
	history handler.HistoryReader,
	websocket *handler.WebSocketHandler,
) *Router {
	return &Router{
		config:     config,
		logger:     logger,
		db:         db,
		controller: controller,
		history:    history,
		websocket:  websocket,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsDebugEnabled() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware(r.logger.With(zap.String("component", "http-server"))))
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.CORSMiddleware(r.config.Server.AllowedOrigins))
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	var streams handler.StreamStats
	if r.websocket != nil {
		streams = r.websocket
	}
	healthHandler := handler.NewHealthHandler(r.db, r.controller, streams, r.config, r.logger)
	connectionHandler := handler.NewConnectionHandler(r.controller, r.logger)
	sessionHandler := handler.NewSessionHandler(r.history, r.logger)

	// Health check routes
	healthHandler.RegisterRoutes(router)

	// API v1 routes
	apiV1 := router.Group("/api/v1")
	connectionHandler.RegisterRoutes(apiV1)
	sessionHandler.RegisterRoutes(apiV1)

	// WebSocket routes
	if r.websocket != nil {
		r.websocket.RegisterRoutes(router.Group("/ws"))
	}

	r.logger.Info("All routes configured successfully")
}
