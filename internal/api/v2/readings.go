package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/envsense/envsense/internal/datastore/v2/entities"
	"github.com/envsense/envsense/internal/datastore/v2/repository"
	"github.com/envsense/envsense/internal/errors"
)

const (
	defaultReadingLimit   = 100
	maxReadingLimit       = 1000
	realtimeReadingLimit  = 100
	defaultQueryPageSize  = 50
	maxQueryPageSize      = 200
	defaultReadingsWindow = "24h"
)

// ReadingQueryResponse is one page of a device's reading history.
type ReadingQueryResponse struct {
	Total    int64                    `json:"total"`
	Page     int                      `json:"page"`
	PageSize int                      `json:"page_size"`
	Data     []entities.SensorReading `json:"data"`
}

// RealtimeResponse is a device with its most recent readings.
type RealtimeResponse struct {
	Device *entities.Device         `json:"device"`
	Data   []entities.SensorReading `json:"data"`
}

// ReadingStatisticsResponse is returned by GET /monitoring/statistics/:device_id.
type ReadingStatisticsResponse struct {
	TimeRange string                     `json:"time_range"`
	Summary   ReadingSummary             `json:"summary"`
	Hourly    []repository.HourlyAverage `json:"hourly"`
}

// ReadingSummary is the whole-window aggregate of a device.
type ReadingSummary struct {
	Count  int64                            `json:"count"`
	Fields map[string]repository.FieldStats `json:"fields"`
}

func (c *Controller) initReadingRoutes() {
	c.Group.GET("/monitoring/data", c.ListReadings, c.authMiddleware)
	c.Group.GET("/monitoring/data/latest", c.LatestReadings, c.authMiddleware)
	c.Group.GET("/monitoring/query", c.QueryReadings, c.authMiddleware)
	c.Group.GET("/monitoring/realtime/:device_id", c.RealtimeReadings, c.authMiddleware)
	c.Group.GET("/monitoring/statistics/:device_id", c.GetReadingStatistics, c.authMiddleware)
}

// positiveQuery parses an optional positive integer query parameter.
func positiveQuery(ctx echo.Context, name string, fallback int) (int, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, errors.Validation(componentAPI, name, "%s must be a positive integer", name)
	}
	return v, nil
}

func timeQuery(ctx echo.Context, name string) (time.Time, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return time.Time{}, errors.Validation(componentAPI, name, "%s is required", name)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.Validation(componentAPI, name, "%s must be an RFC 3339 timestamp", name)
	}
	return t, nil
}

// ownedDevice resolves a device path or query id to a device of the caller.
func (c *Controller) ownedDevice(ctx echo.Context, id uint) (*entities.Device, error) {
	return c.devices.GetOwnedDevice(ctx.Request().Context(), id, currentUser(ctx))
}

// ListReadings returns the newest readings of the caller's devices,
// optionally narrowed to one device.
func (c *Controller) ListReadings(ctx echo.Context) error {
	deviceID, err := parseUintQuery(ctx, "device_id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid query")
	}
	limit, err := positiveQuery(ctx, "limit", defaultReadingLimit)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid query")
	}
	readings, _, err := c.readings.ListReadings(ctx.Request().Context(), repository.ReadingFilter{
		OwnerID:  currentUser(ctx),
		DeviceID: deviceID,
		Limit:    min(limit, maxReadingLimit),
	})
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list readings")
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"data":  readings,
		"count": len(readings),
	})
}

// LatestReadings returns each of the caller's devices with its newest
// reading.
func (c *Controller) LatestReadings(ctx echo.Context) error {
	latest, err := c.readings.LatestReadings(ctx.Request().Context(), currentUser(ctx))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list latest readings")
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"devices": latest,
		"count":   len(latest),
	})
}

// QueryReadings pages through the valid readings of one device between
// start_time and end_time.
func (c *Controller) QueryReadings(ctx echo.Context) error {
	deviceID, err := parseUintQuery(ctx, "device_id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid query")
	}
	if deviceID == 0 {
		return c.HandleError(ctx, errors.Validation(componentAPI, "device_id", "device_id is required"), "Invalid query")
	}
	start, err := timeQuery(ctx, "start_time")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid query")
	}
	end, err := timeQuery(ctx, "end_time")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid query")
	}
	if end.Before(start) {
		return c.HandleError(ctx, errors.Validation(componentAPI, "end_time", "end_time is before start_time"), "Invalid query")
	}
	page, err := positiveQuery(ctx, "page", 1)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid query")
	}
	size, err := positiveQuery(ctx, "page_size", defaultQueryPageSize)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid query")
	}
	size = min(size, maxQueryPageSize)

	if _, err := c.ownedDevice(ctx, deviceID); err != nil {
		return c.HandleError(ctx, err, "Failed to get device")
	}
	readings, total, err := c.readings.ListReadings(ctx.Request().Context(), repository.ReadingFilter{
		OwnerID:   currentUser(ctx),
		DeviceID:  deviceID,
		Since:     start,
		Until:     end,
		ValidOnly: true,
		Limit:     size,
		Offset:    (page - 1) * size,
	})
	if err != nil {
		return c.HandleError(ctx, err, "Failed to query readings")
	}
	return ctx.JSON(http.StatusOK, ReadingQueryResponse{Total: total, Page: page, PageSize: size, Data: readings})
}

// RealtimeReadings returns a device of the caller with its most recent
// readings.
func (c *Controller) RealtimeReadings(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "device_id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid device ID")
	}
	device, err := c.ownedDevice(ctx, id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get device")
	}
	readings, _, err := c.readings.ListReadings(ctx.Request().Context(), repository.ReadingFilter{
		OwnerID:  device.OwnerID,
		DeviceID: device.ID,
		Limit:    realtimeReadingLimit,
	})
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list readings")
	}
	return ctx.JSON(http.StatusOK, RealtimeResponse{Device: device, Data: readings})
}

// GetReadingStatistics summarises a device's valid readings over 24h, 7d
// or 30d. An unknown range falls back to 24h.
func (c *Controller) GetReadingStatistics(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "device_id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid device ID")
	}
	device, err := c.ownedDevice(ctx, id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get device")
	}
	label, since := c.parseRange(ctx.QueryParam("range"), defaultReadingsWindow)
	stats, err := c.readings.ReadingStats(ctx.Request().Context(), device.ID, since)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to compute reading statistics")
	}
	return ctx.JSON(http.StatusOK, ReadingStatisticsResponse{
		TimeRange: label,
		Summary:   ReadingSummary{Count: stats.Count, Fields: stats.Fields},
		Hourly:    stats.Hourly,
	})
}
