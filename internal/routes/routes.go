// internal/routes/routes.go
package routes

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"serial2rudics/internal/config"
	"serial2rudics/internal/handler"
)

// Router holds all dependencies for the status server's routing
type Router struct {
	config           *config.Config
	logger           *zap.Logger
	statusHandler    *handler.StatusHandler
	websocketHandler *handler.WebSocketHandler
}

// NewRouter creates a new router instance
func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	statusHandler *handler.StatusHandler,
	websocketHandler *handler.WebSocketHandler,
) *Router {
	return &Router{
		config:           cfg,
		logger:           logger,
		statusHandler:    statusHandler,
		websocketHandler: websocketHandler,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins: r.config.Status.AllowedOrigins,
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	root := router.Group("/")
	r.statusHandler.RegisterRoutes(root)

	ws := router.Group("/ws")
	r.websocketHandler.RegisterRoutes(ws)

	return router
}
