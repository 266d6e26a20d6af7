package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type ConnectionCounter interface {
	ConnectionCount() int
}

type HealthHandler struct {
	gateway ConnectionCounter
}

func NewHealthHandler(gateway ConnectionCounter) *HealthHandler {
	return &HealthHandler{
		gateway: gateway,
	}
}

func (h *HealthHandler) CheckHealth(c echo.Context) error {
	body := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	}
	if h.gateway != nil {
		body["connections"] = h.gateway.ConnectionCount()
	}
	return c.JSON(http.StatusOK, body)
}
