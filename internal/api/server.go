// Package api assembles the HTTP server: echo, shared middleware, health
// and metrics endpoints, and the JSON API controller.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	apiv2 "github.com/envsense/envsense/internal/api/v2"
	"github.com/envsense/envsense/internal/conf"
	"github.com/envsense/envsense/internal/errors"
	"github.com/envsense/envsense/internal/logger"
	"github.com/envsense/envsense/internal/observability/metrics"
)

const (
	shutdownTimeout = 10 * time.Second
	healthTimeout   = 2 * time.Second
)

// Pinger reports store reachability for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the envsense HTTP server.
type Server struct {
	echo       *echo.Echo
	settings   conf.WebServerSettings
	metricsCfg conf.MetricsSettings
	store      Pinger
	metrics    *metrics.Metrics
	log        logger.Logger
	controller *apiv2.Controller
}

// NewServer builds the echo instance and registers every route. The
// controller options are completed with the logger and metrics.
func NewServer(settings conf.WebServerSettings, metricsCfg conf.MetricsSettings, store Pinger, opts apiv2.Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = settings.ReadTimeout.Std()
	e.Server.WriteTimeout = settings.WriteTimeout.Std()

	s := &Server{
		echo:       e,
		settings:   settings,
		metricsCfg: metricsCfg,
		store:      store,
		metrics:    opts.Metrics,
		log:        opts.Log.Module("http"),
	}
	e.HTTPErrorHandler = apiv2.ErrorHandler(s.log)

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			s.log.Error("handler panic",
				logger.String("path", c.Path()),
				logger.Error(err),
				logger.String("stack", string(stack)))
			return err
		},
	}))
	e.Use(s.requestLogger())

	e.GET("/healthz", s.health)
	if metricsCfg.Enabled && s.metrics != nil {
		path := metricsCfg.Path
		if path == "" {
			path = "/metrics"
		}
		e.GET(path, echo.WrapHandler(s.metrics.Handler()))
	}

	s.controller = apiv2.New(e, opts)
	return s
}

// Echo exposes the underlying instance, mainly for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			s.metrics.IncHTTP(v.Method, route, strconv.Itoa(v.Status))

			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency),
				logger.String("request_id", v.RequestID),
				logger.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
			}
			if v.Status >= http.StatusInternalServerError {
				s.log.Warn("request failed", fields...)
			} else {
				s.log.Debug("request", fields...)
			}
			return nil
		},
	})
}

func (s *Server) health(c echo.Context) error {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			s.log.Warn("health check failed", logger.Error(err))
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", logger.String("addr", s.settings.Listen))
		errCh <- s.echo.Start(s.settings.Listen)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.New(err).Component("http").Category(errors.CategoryConfiguration).Build()
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return errors.New(err).Component("http").Build()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("http server stopped")
	return nil
}
