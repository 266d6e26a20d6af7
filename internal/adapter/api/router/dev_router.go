package router

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/adapter/api/handler"
	"marketchat/internal/adapter/api/middleware"
)

func SetupDevRouter(e *echo.Echo, environment string, limiter middleware.Limiter) {
	devTokenHandler := handler.GetDevTokenHandler()
	if environment != "development" || devTokenHandler == nil {
		return
	}

	e.POST("/v1/dev/token", devTokenHandler.GenerateUserToken, limited(limiter, "dev_token")...)
}
