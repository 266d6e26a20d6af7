package handler

import (
	"github.com/labstack/echo/v4"

	"marketchat/pkg/errors"
	"marketchat/pkg/response"
)

type TokenIssuer interface {
	GenerateToken(userID string) (string, error)
}

// DevTokenHandler mints tokens for manual testing. Only routed in development.
type DevTokenHandler struct {
	issuer TokenIssuer
}

func NewDevTokenHandler(issuer TokenIssuer) *DevTokenHandler {
	return &DevTokenHandler{issuer: issuer}
}

type devTokenRequest struct {
	UserID string `json:"user_id" validate:"required,notblank"`
}

func (h *DevTokenHandler) GenerateUserToken(c echo.Context) error {
	var req devTokenRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	token, err := h.issuer.GenerateToken(req.UserID)
	if err != nil {
		return response.Error(c, errors.Internal("Failed to generate token", err))
	}

	return response.Success(c, map[string]string{
		"token":   token,
		"user_id": req.UserID,
	})
}
