package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/envsense/envsense/internal/alerting"
	"github.com/envsense/envsense/internal/datastore/v2/entities"
	"github.com/envsense/envsense/internal/datastore/v2/repository"
	"github.com/envsense/envsense/internal/errors"
	"github.com/envsense/envsense/internal/logger"
)

const maxRuleLimit = 500

// ToggleResponse is returned by the toggle endpoint.
type ToggleResponse struct {
	ID      uint `json:"id"`
	Enabled bool `json:"enabled"`
}

// initAlertRoutes registers alert rule and schema endpoints.
func (c *Controller) initAlertRoutes() {
	c.alerts.GET("/schema", c.GetAlertSchema)
	c.alerts.GET("/rules", c.ListAlertRules)
	c.alerts.POST("/rules", c.CreateAlertRule)
	c.alerts.GET("/rules/:id", c.GetAlertRule)
	c.alerts.PUT("/rules/:id", c.UpdateAlertRule)
	c.alerts.DELETE("/rules/:id", c.DeleteAlertRule)
	c.alerts.POST("/rules/:id/toggle", c.ToggleAlertRule)
}

// GetAlertSchema returns the catalog used to build rules and channels.
func (c *Controller) GetAlertSchema(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, alerting.GetSchema())
}

// ListAlertRules returns the caller's rules, optionally filtered.
func (c *Controller) ListAlertRules(ctx echo.Context) error {
	filter := repository.AlertRuleFilter{
		OwnerID:    currentUser(ctx),
		SensorType: ctx.QueryParam("sensor_type"),
		Limit:      maxRuleLimit,
	}
	var err error
	if filter.DeviceID, err = parseUintQuery(ctx, "device_id"); err != nil {
		return c.HandleError(ctx, err, "Invalid query")
	}
	if enabledParam := ctx.QueryParam("enabled"); enabledParam != "" {
		v := enabledParam == "true" || enabledParam == "1"
		filter.Enabled = &v
	}

	rules, err := c.rules.ListRules(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list alert rules")
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// GetAlertRule returns a single rule of the caller.
func (c *Controller) GetAlertRule(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid rule ID")
	}
	rule, err := c.rules.GetOwnedRule(ctx.Request().Context(), id, currentUser(ctx))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get alert rule")
	}
	return ctx.JSON(http.StatusOK, rule)
}

// checkRule validates rule and requires its device to belong to the caller.
func (c *Controller) checkRule(ctx context.Context, rule *entities.AlertRule) error {
	if err := alerting.ValidateRule(rule); err != nil {
		return err
	}
	if _, err := c.devices.GetOwnedDevice(ctx, rule.DeviceID, rule.CreatedBy); err != nil {
		if repository.IsNotFound(err) {
			return errors.Validation(componentAPI, "device_id", "unknown device %d", rule.DeviceID)
		}
		return err
	}
	return nil
}

// CreateAlertRule creates a rule. Fields the body leaves out take the
// rule defaults.
func (c *Controller) CreateAlertRule(ctx echo.Context) error {
	rule := alerting.DefaultRule()
	if err := bindJSON(ctx, &rule); err != nil {
		return c.HandleError(ctx, err, "Invalid request body")
	}
	rule.ID = 0
	rule.CreatedBy = currentUser(ctx)
	rule.Device = nil

	reqCtx := ctx.Request().Context()
	if err := c.checkRule(reqCtx, &rule); err != nil {
		return c.HandleError(ctx, err, "Failed to create alert rule")
	}
	if err := c.rules.CreateRule(reqCtx, &rule); err != nil {
		return c.HandleError(ctx, err, "Failed to create alert rule")
	}
	c.invalidate(rule.DeviceID)

	c.log.Info("alert rule created",
		logger.String("name", rule.Name),
		logger.Uint64("id", uint64(rule.ID)),
		logger.Uint64("device_id", uint64(rule.DeviceID)))

	return c.respondRule(ctx, http.StatusCreated, rule.ID)
}

// UpdateAlertRule replaces an existing rule. Fields the body leaves out
// keep their stored value.
func (c *Controller) UpdateAlertRule(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid rule ID")
	}
	userID := currentUser(ctx)
	reqCtx := ctx.Request().Context()

	existing, err := c.rules.GetOwnedRule(reqCtx, id, userID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get alert rule")
	}
	oldDevice := existing.DeviceID

	rule := *existing
	if err := bindJSON(ctx, &rule); err != nil {
		return c.HandleError(ctx, err, "Invalid request body")
	}
	rule.ID = existing.ID
	rule.CreatedBy = existing.CreatedBy
	rule.CreatedAt = existing.CreatedAt
	rule.Device = nil

	if err := c.checkRule(reqCtx, &rule); err != nil {
		return c.HandleError(ctx, err, "Failed to update alert rule")
	}
	if err := c.rules.UpdateRule(reqCtx, &rule); err != nil {
		return c.HandleError(ctx, err, "Failed to update alert rule")
	}
	c.invalidate(oldDevice, rule.DeviceID)

	return c.respondRule(ctx, http.StatusOK, rule.ID)
}

// ToggleAlertRule flips a rule's enabled flag.
func (c *Controller) ToggleAlertRule(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid rule ID")
	}
	userID := currentUser(ctx)
	reqCtx := ctx.Request().Context()

	rule, err := c.rules.GetOwnedRule(reqCtx, id, userID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get alert rule")
	}
	enabled, err := c.rules.ToggleRule(reqCtx, id, userID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to toggle alert rule")
	}
	c.invalidate(rule.DeviceID)

	return ctx.JSON(http.StatusOK, ToggleResponse{ID: id, Enabled: enabled})
}

// DeleteAlertRule deletes a rule together with its records.
func (c *Controller) DeleteAlertRule(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid rule ID")
	}
	userID := currentUser(ctx)
	reqCtx := ctx.Request().Context()

	rule, err := c.rules.GetOwnedRule(reqCtx, id, userID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get alert rule")
	}
	if err := c.rules.DeleteRule(reqCtx, id, userID); err != nil {
		return c.HandleError(ctx, err, "Failed to delete alert rule")
	}
	c.invalidate(rule.DeviceID)

	c.log.Info("alert rule deleted", logger.Uint64("id", uint64(id)))
	return noContent(ctx)
}

func (c *Controller) respondRule(ctx echo.Context, status int, id uint) error {
	rule, err := c.rules.GetOwnedRule(ctx.Request().Context(), id, currentUser(ctx))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get alert rule")
	}
	return ctx.JSON(status, rule)
}

// invalidate drops cached rules of the given devices.
func (c *Controller) invalidate(deviceIDs ...uint) {
	if c.ruleCache == nil {
		return
	}
	for _, id := range deviceIDs {
		c.ruleCache.InvalidateDevice(id)
	}
}
