// Package api implements the envsense JSON API on echo.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/envsense/envsense/internal/auth"
	"github.com/envsense/envsense/internal/datastore/v2/repository"
	"github.com/envsense/envsense/internal/errors"
	"github.com/envsense/envsense/internal/ingest"
	"github.com/envsense/envsense/internal/logger"
	"github.com/envsense/envsense/internal/observability/metrics"
)

const contextKeyUserID = "user_id"

// Ingester stores readings uploaded by the owner of the device.
type Ingester interface {
	Ingest(ctx context.Context, ownerID uint, p *ingest.Payload, source string) (uint, error)
}

// RuleCache is told about rule changes so stale rules are not evaluated.
type RuleCache interface {
	InvalidateDevice(deviceID uint)
}

// Options carries the controller dependencies.
type Options struct {
	Users         repository.UserRepository
	Devices       repository.DeviceRepository
	Readings      repository.ReadingRepository
	Rules         repository.AlertRuleRepository
	Records       repository.AlertRecordRepository
	Notifications repository.NotificationRepository
	Ingest        Ingester
	RuleCache     RuleCache
	Auth          *auth.Manager
	Log           logger.Logger
	Metrics       *metrics.Metrics

	// UploadRateLimit is requests per second per client on the upload
	// endpoint. Zero disables limiting.
	UploadRateLimit float64
	UploadBurst     int
}

// Controller holds the handlers of the /api group.
type Controller struct {
	Group *echo.Group

	// alerts is the authenticated /api/alerts group.
	alerts *echo.Group

	users         repository.UserRepository
	devices       repository.DeviceRepository
	readings      repository.ReadingRepository
	rules         repository.AlertRuleRepository
	records       repository.AlertRecordRepository
	notifications repository.NotificationRepository
	ingest        Ingester
	ruleCache     RuleCache
	auth          *auth.Manager
	log           logger.Logger
	metrics       *metrics.Metrics
	opts          Options
	now           func() time.Time
}

// New creates the controller and registers its routes under /api on e.
func New(e *echo.Echo, opts Options) *Controller {
	c := &Controller{
		Group:         e.Group("/api"),
		users:         opts.Users,
		devices:       opts.Devices,
		readings:      opts.Readings,
		rules:         opts.Rules,
		records:       opts.Records,
		notifications: opts.Notifications,
		ingest:        opts.Ingest,
		ruleCache:     opts.RuleCache,
		auth:          opts.Auth,
		log:           opts.Log.Module("api"),
		metrics:       opts.Metrics,
		opts:          opts,
		now:           func() time.Time { return time.Now().UTC() },
	}
	c.alerts = c.Group.Group("/alerts", c.authMiddleware)

	c.initAuthRoutes()
	c.initUploadRoutes()
	c.initReadingRoutes()
	c.initRecordRoutes()
	c.initAlertRoutes()
	c.initNotificationRoutes()
	return c
}

// authMiddleware requires a valid bearer token and stores the caller's
// user id in the echo context.
func (c *Controller) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		raw := auth.BearerToken(ctx.Request().Header.Get(echo.HeaderAuthorization))
		if raw == "" {
			return c.HandleError(ctx, errUnauthorized("missing bearer token"), "Authentication required")
		}
		claims, err := c.auth.Verify(raw)
		if err != nil {
			return c.HandleError(ctx, err, "Invalid or expired token")
		}
		ctx.Set(contextKeyUserID, claims.UserID)
		return next(ctx)
	}
}

// currentUser returns the authenticated user id set by authMiddleware.
func currentUser(ctx echo.Context) uint {
	id, _ := ctx.Get(contextKeyUserID).(uint)
	return id
}

// parseUintParam parses a uint route parameter.
func parseUintParam(ctx echo.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, errors.Validation(componentAPI, name, "invalid %s", name)
	}
	return uint(v), nil
}

// parseUintQuery parses an optional uint query parameter. Missing means 0.
func parseUintQuery(ctx echo.Context, name string) (uint, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.Validation(componentAPI, name, "invalid %s", name)
	}
	return uint(v), nil
}

// bindJSON decodes the request body, mapping decode failures to a
// validation error.
func bindJSON(ctx echo.Context, dst any) error {
	if err := ctx.Bind(dst); err != nil {
		return errors.Validation(componentAPI, "body", "invalid request body")
	}
	return nil
}

func noContent(ctx echo.Context) error {
	return ctx.NoContent(http.StatusNoContent)
}
