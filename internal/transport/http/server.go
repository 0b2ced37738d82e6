// Package http exposes the hub over WebSocket and a small REST API.
package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tg11/boundless/internal/auth"
	"github.com/tg11/boundless/internal/config"
	"github.com/tg11/boundless/internal/core"
	"github.com/tg11/boundless/internal/metrics"
)

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Hub     *core.Hub
	Auth    *auth.Service
	Metrics *metrics.Metrics // optional
}

// NewServer builds the HTTP server with all routes.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(deps, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewHandler routes channel sockets to the WebSocket handler and everything
// else to the gin router. The socket stays off gin's ResponseWriter so the
// upgrade can hijack the connection.
func NewHandler(deps Deps, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	mux := stdhttp.NewServeMux()
	mux.Handle(wsRoute, NewWSHandler(deps.Hub, deps.Auth, deps.Metrics, cfg, logger))
	mux.Handle("/", NewRouter(deps, cfg, logger))
	return mux
}

// NewRouter registers the REST routes on a fresh gin engine.
func NewRouter(deps Deps, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))
	if deps.Metrics != nil {
		router.Use(MetricsMiddleware(deps.Metrics))
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	router.GET("/health", healthHandler(deps.Hub))

	api := NewAPIHandlers(deps.Auth, logger)
	router.POST("/api/register", api.Register)
	router.POST("/api/login", api.Login)

	messages := NewMessageHandlers(deps.Hub, logger)
	protected := router.Group("/api", AuthMiddleware(deps.Auth, logger))
	protected.GET("/channels/:channel_id/messages", messages.ListChannel)
	protected.GET("/messages/:message_id", messages.GetMessage)
	protected.GET("/messages/:message_id/history", messages.History)
	protected.PATCH("/messages/:message_id", messages.EditMessage)
	protected.DELETE("/messages/:message_id", messages.DeleteMessage)

	return router
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func healthHandler(hub *core.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(stdhttp.StatusOK, HealthResponse{Status: "ok", Sessions: hub.Sessions()})
	}
}
