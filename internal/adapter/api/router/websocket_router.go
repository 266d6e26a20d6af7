package router

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/adapter/api/handler"
	"marketchat/internal/adapter/api/middleware"
	"marketchat/internal/infrastructure/ratelimit"
)

// SetupWebSocketRouter sets up WebSocket routes. The handler authenticates
// the handshake itself so it can accept the token as a query parameter.
func SetupWebSocketRouter(e *echo.Echo, wsHandler *handler.WebSocketHandler, limiter middleware.Limiter) {
	e.GET("/ws", wsHandler.HandleWebSocket, limited(limiter, ratelimit.ActionConnect)...)
}
