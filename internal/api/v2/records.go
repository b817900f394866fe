package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/envsense/envsense/internal/datastore/v2/entities"
	"github.com/envsense/envsense/internal/datastore/v2/repository"
	"github.com/envsense/envsense/internal/errors"
	"github.com/envsense/envsense/internal/logger"
)

const (
	defaultRecordLimit = 50
	maxRecordLimit     = 200
	topDeviceLimit     = 10
	defaultStatsRange  = "7d"
)

var statsRanges = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// TransitionRequest is the body of acknowledge and false-alarm.
type TransitionRequest struct {
	Notes *string `json:"notes"`
}

// ResolveRequest is the body of resolve.
type ResolveRequest struct {
	Notes         *string  `json:"notes"`
	RecoveryValue *float64 `json:"recovery_value"`
}

// RecordResponse wraps a record after a state change.
type RecordResponse struct {
	Message string                `json:"message"`
	Record  *entities.AlertRecord `json:"record"`
}

// StatsSummary counts records by lifecycle state.
type StatsSummary struct {
	Total        int64 `json:"total"`
	Pending      int64 `json:"pending"`
	Acknowledged int64 `json:"acknowledged"`
	Resolved     int64 `json:"resolved"`
}

// StatsResponse is returned by GET /alerts/records/stats.
type StatsResponse struct {
	Summary    StatsSummary     `json:"summary"`
	BySeverity map[string]int64 `json:"by_severity"`
}

// TotalStats is the headline block of the statistics view.
type TotalStats struct {
	Total    int64 `json:"total"`
	Pending  int64 `json:"pending"`
	Resolved int64 `json:"resolved"`
}

// StatisticsResponse is returned by GET /alerts/statistics.
type StatisticsResponse struct {
	TimeRange     string                        `json:"time_range"`
	TotalStats    TotalStats                    `json:"total_stats"`
	DeviceStats   []repository.DeviceAlertCount `json:"device_stats"`
	SeverityStats map[string]int64              `json:"severity_stats"`
}

func (c *Controller) initRecordRoutes() {
	records := c.alerts

	records.GET("/records", c.ListAlertRecords)
	records.GET("/records/pending", c.ListPendingAlertRecords)
	records.GET("/records/stats", c.GetAlertRecordStats)
	records.GET("/statistics", c.GetAlertStatistics)
	records.GET("/records/:id", c.GetAlertRecord)
	records.GET("/records/:id/notifications", c.ListAlertRecordNotifications)
	records.POST("/records/:id/acknowledge", c.AcknowledgeAlertRecord)
	records.POST("/records/:id/resolve", c.ResolveAlertRecord)
	records.POST("/records/:id/false-alarm", c.MarkAlertRecordFalseAlarm)
}

func parseRecordFilter(ctx echo.Context, ownerID uint) (repository.AlertRecordFilter, error) {
	filter := repository.AlertRecordFilter{OwnerID: ownerID, Limit: defaultRecordLimit}

	if s := ctx.QueryParam("status"); s != "" {
		status := entities.AlertStatus(s)
		if !status.Valid() {
			return filter, errors.Validation(componentAPI, "status", "unknown status %q", s)
		}
		filter.Status = status
	}
	if s := ctx.QueryParam("severity"); s != "" {
		sev := entities.Severity(s)
		if !sev.Valid() {
			return filter, errors.Validation(componentAPI, "severity", "unknown severity %q", s)
		}
		filter.Severity = sev
	}
	var err error
	if filter.DeviceID, err = parseUintQuery(ctx, "device_id"); err != nil {
		return filter, err
	}
	if filter.RuleID, err = parseUintQuery(ctx, "rule_id"); err != nil {
		return filter, err
	}
	if s := ctx.QueryParam("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			return filter, errors.Validation(componentAPI, "limit", "limit must be a positive integer")
		}
		filter.Limit = min(v, maxRecordLimit)
	}
	if s := ctx.QueryParam("offset"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			return filter, errors.Validation(componentAPI, "offset", "offset must not be negative")
		}
		filter.Offset = v
	}
	return filter, nil
}

// ListAlertRecords returns the caller's records, newest first.
func (c *Controller) ListAlertRecords(ctx echo.Context) error {
	filter, err := parseRecordFilter(ctx, currentUser(ctx))
	if err != nil {
		return c.HandleError(ctx, err, "Invalid query")
	}
	records, total, err := c.records.ListRecords(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list alert records")
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"records": records,
		"count":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// ListPendingAlertRecords returns every pending record of the caller.
func (c *Controller) ListPendingAlertRecords(ctx echo.Context) error {
	records, total, err := c.records.ListRecords(ctx.Request().Context(), repository.AlertRecordFilter{
		OwnerID: currentUser(ctx),
		Status:  entities.AlertStatusPending,
	})
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list pending alert records")
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"records": records,
		"count":   total,
	})
}

// parseRange resolves a range query value. An unknown value falls back to
// fallback; an empty fallback means no window.
func (c *Controller) parseRange(raw, fallback string) (string, time.Time) {
	if _, ok := statsRanges[raw]; !ok {
		raw = fallback
	}
	window, ok := statsRanges[raw]
	if !ok {
		return "", time.Time{}
	}
	return raw, c.now().Add(-window)
}

func severityCounts(stats *repository.AlertStats) map[string]int64 {
	out := make(map[string]int64, len(entities.Severities()))
	for _, sev := range entities.Severities() {
		out[string(sev)] = stats.BySeverity[sev]
	}
	return out
}

// GetAlertRecordStats returns status and severity counts, optionally
// windowed by range.
func (c *Controller) GetAlertRecordStats(ctx echo.Context) error {
	_, since := c.parseRange(ctx.QueryParam("range"), "")
	stats, err := c.records.Stats(ctx.Request().Context(), repository.AlertStatsFilter{
		OwnerID: currentUser(ctx),
		Since:   since,
	})
	if err != nil {
		return c.HandleError(ctx, err, "Failed to compute alert stats")
	}
	return ctx.JSON(http.StatusOK, StatsResponse{
		Summary: StatsSummary{
			Total:        stats.Total,
			Pending:      stats.ByStatus[entities.AlertStatusPending],
			Acknowledged: stats.ByStatus[entities.AlertStatusAcknowledged],
			Resolved:     stats.ByStatus[entities.AlertStatusResolved],
		},
		BySeverity: severityCounts(stats),
	})
}

// GetAlertStatistics returns the dashboard statistics for 24h, 7d or 30d.
func (c *Controller) GetAlertStatistics(ctx echo.Context) error {
	label, since := c.parseRange(ctx.QueryParam("range"), defaultStatsRange)
	filter := repository.AlertStatsFilter{OwnerID: currentUser(ctx), Since: since}
	reqCtx := ctx.Request().Context()

	stats, err := c.records.Stats(reqCtx, filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to compute alert statistics")
	}
	devices, err := c.records.TopDevices(reqCtx, filter, topDeviceLimit)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to compute alert statistics")
	}
	if devices == nil {
		devices = []repository.DeviceAlertCount{}
	}

	return ctx.JSON(http.StatusOK, StatisticsResponse{
		TimeRange: label,
		TotalStats: TotalStats{
			Total:    stats.Total,
			Pending:  stats.ByStatus[entities.AlertStatusPending],
			Resolved: stats.ByStatus[entities.AlertStatusResolved],
		},
		DeviceStats:   devices,
		SeverityStats: severityCounts(stats),
	})
}

// GetAlertRecord returns one record of the caller.
func (c *Controller) GetAlertRecord(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid record ID")
	}
	rec, err := c.records.GetOwnedRecord(ctx.Request().Context(), id, currentUser(ctx))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get alert record")
	}
	return ctx.JSON(http.StatusOK, rec)
}

// ListAlertRecordNotifications returns the delivery log of a record.
func (c *Controller) ListAlertRecordNotifications(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid record ID")
	}
	reqCtx := ctx.Request().Context()
	if _, err := c.records.GetOwnedRecord(reqCtx, id, currentUser(ctx)); err != nil {
		return c.HandleError(ctx, err, "Failed to get alert record")
	}
	logs, err := c.notifications.ListLogs(reqCtx, id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list notifications")
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"notifications": logs,
		"count":         len(logs),
	})
}

// transition applies fn to the caller's record and answers with the
// updated record. A record that is missing, owned by someone else or not
// in a source state of the transition is not found.
func (c *Controller) transition(ctx echo.Context, to entities.AlertStatus, message string, fn func(id, userID uint) error) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid record ID")
	}
	userID := currentUser(ctx)
	reqCtx := ctx.Request().Context()

	if err := fn(id, userID); err != nil {
		return c.HandleError(ctx, err, "Failed to update alert record")
	}
	if to.Terminal() {
		c.metrics.IncClosed(string(to))
	}

	rec, err := c.records.GetOwnedRecord(reqCtx, id, userID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get alert record")
	}
	c.log.Info("alert record updated",
		logger.Uint64("record_id", uint64(id)),
		logger.Uint64("user_id", uint64(userID)),
		logger.String("status", string(to)))
	return ctx.JSON(http.StatusOK, RecordResponse{Message: message, Record: rec})
}

// AcknowledgeAlertRecord moves a pending record to acknowledged.
func (c *Controller) AcknowledgeAlertRecord(ctx echo.Context) error {
	var req TransitionRequest
	if err := bindJSON(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body")
	}
	return c.transition(ctx, entities.AlertStatusAcknowledged, "alert acknowledged", func(id, userID uint) error {
		return c.records.Acknowledge(ctx.Request().Context(), id, userID, req.Notes, c.now())
	})
}

// ResolveAlertRecord closes a pending or acknowledged record.
func (c *Controller) ResolveAlertRecord(ctx echo.Context) error {
	var req ResolveRequest
	if err := bindJSON(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body")
	}
	params := repository.ResolveParams{Notes: req.Notes, RecoveryValue: req.RecoveryValue}
	return c.transition(ctx, entities.AlertStatusResolved, "alert resolved", func(id, userID uint) error {
		return c.records.Resolve(ctx.Request().Context(), id, userID, params, c.now())
	})
}

// MarkAlertRecordFalseAlarm closes a pending record as a false alarm.
func (c *Controller) MarkAlertRecordFalseAlarm(ctx echo.Context) error {
	var req TransitionRequest
	if err := bindJSON(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body")
	}
	return c.transition(ctx, entities.AlertStatusFalseAlarm, "alert marked as false alarm", func(id, userID uint) error {
		return c.records.MarkFalseAlarm(ctx.Request().Context(), id, userID, req.Notes, c.now())
	})
}
