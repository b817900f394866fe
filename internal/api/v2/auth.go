package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/envsense/envsense/internal/errors"
	"github.com/envsense/envsense/internal/logger"
)

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c *Controller) initAuthRoutes() {
	c.Group.POST("/auth/login", c.Login)
}

// Login exchanges credentials for a bearer token.
func (c *Controller) Login(ctx echo.Context) error {
	var req LoginRequest
	if err := bindJSON(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body")
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		return c.HandleError(ctx, errors.Validation(componentAPI, "username", "username is required"), "Invalid login")
	}
	if req.Password == "" {
		return c.HandleError(ctx, errors.Validation(componentAPI, "password", "password is required"), "Invalid login")
	}

	user, token, err := c.auth.Login(ctx.Request().Context(), c.users, req.Username, req.Password)
	if err != nil {
		if errors.IsCategory(err, errors.CategoryUnauthorized) {
			c.log.Info("login rejected", logger.String("username", req.Username), logger.String("ip", ctx.RealIP()))
		}
		return c.HandleError(ctx, err, "Login failed")
	}

	c.log.Info("user logged in", logger.Uint64("user_id", uint64(user.ID)))
	return ctx.JSON(http.StatusOK, token)
}
