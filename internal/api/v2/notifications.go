package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/envsense/envsense/internal/alerting"
	"github.com/envsense/envsense/internal/logger"
)

// initNotificationRoutes registers notification channel config endpoints.
func (c *Controller) initNotificationRoutes() {
	configs := c.alerts.Group("/notification-configs")
	configs.GET("", c.ListNotificationConfigs)
	configs.POST("", c.CreateNotificationConfig)
	configs.GET("/:id", c.GetNotificationConfig)
	configs.PUT("/:id", c.UpdateNotificationConfig)
	configs.DELETE("/:id", c.DeleteNotificationConfig)
}

// ListNotificationConfigs returns every channel config of the caller.
func (c *Controller) ListNotificationConfigs(ctx echo.Context) error {
	configs, err := c.notifications.ListConfigs(ctx.Request().Context(), currentUser(ctx), false)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list notification configs")
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"configs": configs,
		"count":   len(configs),
	})
}

// GetNotificationConfig returns one channel config of the caller.
func (c *Controller) GetNotificationConfig(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid config ID")
	}
	cfg, err := c.notifications.GetConfig(ctx.Request().Context(), id, currentUser(ctx))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get notification config")
	}
	return ctx.JSON(http.StatusOK, cfg)
}

// CreateNotificationConfig adds a channel for the caller.
func (c *Controller) CreateNotificationConfig(ctx echo.Context) error {
	cfg := alerting.DefaultNotificationConfig()
	if err := bindJSON(ctx, &cfg); err != nil {
		return c.HandleError(ctx, err, "Invalid request body")
	}
	cfg.ID = 0
	cfg.UserID = currentUser(ctx)
	cfg.User = nil

	if err := alerting.ValidateNotificationConfig(&cfg); err != nil {
		return c.HandleError(ctx, err, "Invalid notification config")
	}
	if err := c.notifications.CreateConfig(ctx.Request().Context(), &cfg); err != nil {
		return c.HandleError(ctx, err, "Failed to create notification config")
	}

	c.log.Info("notification config created",
		logger.Uint64("id", uint64(cfg.ID)),
		logger.String("type", string(cfg.Type)))
	return ctx.JSON(http.StatusCreated, cfg)
}

// UpdateNotificationConfig replaces a channel config. Fields the body
// leaves out keep their stored value.
func (c *Controller) UpdateNotificationConfig(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid config ID")
	}
	userID := currentUser(ctx)
	reqCtx := ctx.Request().Context()

	existing, err := c.notifications.GetConfig(reqCtx, id, userID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get notification config")
	}
	cfg := *existing
	// Config is replaced as a whole rather than merged key by key.
	cfg.Config = nil
	if err := bindJSON(ctx, &cfg); err != nil {
		return c.HandleError(ctx, err, "Invalid request body")
	}
	if cfg.Config == nil {
		cfg.Config = existing.Config
	}
	cfg.ID = existing.ID
	cfg.UserID = existing.UserID
	cfg.CreatedAt = existing.CreatedAt
	cfg.User = nil

	if err := alerting.ValidateNotificationConfig(&cfg); err != nil {
		return c.HandleError(ctx, err, "Invalid notification config")
	}
	if err := c.notifications.UpdateConfig(reqCtx, &cfg); err != nil {
		return c.HandleError(ctx, err, "Failed to update notification config")
	}
	updated, err := c.notifications.GetConfig(reqCtx, id, userID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get notification config")
	}
	return ctx.JSON(http.StatusOK, updated)
}

// DeleteNotificationConfig removes a channel config. Its delivery log rows
// stay, detached from the config.
func (c *Controller) DeleteNotificationConfig(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid config ID")
	}
	if err := c.notifications.DeleteConfig(ctx.Request().Context(), id, currentUser(ctx)); err != nil {
		return c.HandleError(ctx, err, "Failed to delete notification config")
	}
	c.log.Info("notification config deleted", logger.Uint64("id", uint64(id)))
	return noContent(ctx)
}
