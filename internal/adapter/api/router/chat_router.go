package router

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/adapter/api/handler"
	"marketchat/internal/adapter/api/middleware"
)

// SetupChatRouter sets up all chat-related routes (excluding WebSocket)
func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, authMiddleware *middleware.AuthMiddleware) {
	chatGroup := e.Group("/v1/chats")
	chatGroup.Use(authMiddleware.Authenticate)

	chatGroup.POST("", chatHandler.StartChat)                // find-or-create by product
	chatGroup.GET("", chatHandler.ListChats)                 // sidebar, most recently active first
	chatGroup.GET("/:id/messages", chatHandler.GetMessages)  // history, resets own unread
	chatGroup.POST("/:id/messages", chatHandler.SendMessage) // persist + broadcast
	chatGroup.POST("/:id/read", chatHandler.MarkAsRead)
}
