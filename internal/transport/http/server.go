package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/swflcoders/chatsync/internal/config"
	"github.com/swflcoders/chatsync/internal/dispatch"
	"github.com/swflcoders/chatsync/internal/metrics"
	"github.com/swflcoders/chatsync/internal/registry"
	"github.com/swflcoders/chatsync/internal/store"
)

// Deps bundles the collaborators the HTTP surface needs.
type Deps struct {
	Messages   store.MessageLog
	Registry   registry.Registry
	Sink       *Sink
	Dispatcher *dispatch.Dispatcher
	Recorder   metrics.Recorder
	Gatherer   prometheus.Gatherer
}

// NewServer builds the HTTP server: REST message endpoints, the websocket
// push endpoint, health, and Prometheus metrics.
func NewServer(deps Deps, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	chatHandlers := NewChatHandlers(deps.Messages, deps.Dispatcher, deps.Recorder, cfg.HistoryLimit, logger)

	router.GET("/health", chatHandlers.Health)

	api := router.Group("/api/chat")
	api.POST("/messages", chatHandlers.PostMessage)
	api.GET("/messages/:room_id", chatHandlers.History)

	router.GET("/ws", gin.WrapH(NewWSHandler(deps.Registry, deps.Sink, deps.Recorder, logger)))

	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
