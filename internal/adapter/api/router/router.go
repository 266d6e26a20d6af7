package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketchat/internal/adapter/api/handler"
	"marketchat/internal/adapter/api/middleware"
)

type Options struct {
	Environment string
	// Limiter throttles the handshake and dev routes per IP; nil disables it.
	Limiter  middleware.Limiter
	Gatherer prometheus.Gatherer
}

// Setup registers every route. handler.Setup must run first.
func Setup(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, wsHandler *handler.WebSocketHandler, opts Options) {
	SetupHealthRouter(e)
	SetupChatRouter(e, handler.GetChatHandler(), authMiddleware)
	SetupWebSocketRouter(e, wsHandler, opts.Limiter)
	SetupDevRouter(e, opts.Environment, opts.Limiter)

	if opts.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
}

func limited(limiter middleware.Limiter, action string) []echo.MiddlewareFunc {
	if limiter == nil {
		return nil
	}
	return []echo.MiddlewareFunc{middleware.RateLimit(limiter, action)}
}
