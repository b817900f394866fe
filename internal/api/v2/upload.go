package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/envsense/envsense/internal/ingest"
)

const uploadLimiterExpiry = 3 * time.Minute

// UploadResponse is returned for an accepted reading.
type UploadResponse struct {
	Message string `json:"message"`
	DataID  uint   `json:"data_id"`
}

func (c *Controller) initUploadRoutes() {
	mw := []echo.MiddlewareFunc{c.authMiddleware}
	if c.opts.UploadRateLimit > 0 {
		mw = append(mw, c.uploadRateLimiter())
	}
	c.Group.POST("/monitoring/upload", c.UploadReading, mw...)
}

// uploadRateLimiter limits uploads per client IP.
func (c *Controller) uploadRateLimiter() echo.MiddlewareFunc {
	burst := c.opts.UploadBurst
	if burst <= 0 {
		burst = int(c.opts.UploadRateLimit) + 1
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(c.opts.UploadRateLimit),
				Burst:     burst,
				ExpiresIn: uploadLimiterExpiry,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return ctx.JSON(http.StatusForbidden, ErrorResponse{Error: "Unable to identify client"})
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			return ctx.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "Too many uploads, slow down"})
		},
	})
}

// UploadReading stores one reading for a device of the caller and queues
// its evaluation.
func (c *Controller) UploadReading(ctx echo.Context) error {
	var p ingest.Payload
	if err := bindJSON(ctx, &p); err != nil {
		return c.HandleError(ctx, err, "Invalid request body")
	}
	id, err := c.ingest.Ingest(ctx.Request().Context(), currentUser(ctx), &p, ingest.SourceHTTP)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to store reading")
	}
	return ctx.JSON(http.StatusCreated, UploadResponse{Message: "data uploaded", DataID: id})
}
