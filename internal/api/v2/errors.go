package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/envsense/envsense/internal/datastore/v2/repository"
	"github.com/envsense/envsense/internal/errors"
	"github.com/envsense/envsense/internal/logger"
)

const componentAPI = "api"

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func errUnauthorized(msg string) error {
	return errors.Newf("%s", msg).Component(componentAPI).Category(errors.CategoryUnauthorized).Build()
}

// StatusFor maps an error to its HTTP status by category.
func StatusFor(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	if repository.IsNotFound(err) {
		return http.StatusNotFound
	}
	switch {
	case errors.IsCategory(err, errors.CategoryValidation):
		return http.StatusBadRequest
	case errors.IsCategory(err, errors.CategoryNotFound):
		return http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryConflict):
		return http.StatusConflict
	case errors.IsCategory(err, errors.CategoryUnauthorized):
		return http.StatusUnauthorized
	case errors.IsCategory(err, errors.CategoryDelivery):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HandleError writes err as an ErrorResponse. Client errors carry the
// error text; server errors are logged and answered with fallback.
func (c *Controller) HandleError(ctx echo.Context, err error, fallback string) error {
	status := StatusFor(err)
	resp := ErrorResponse{Error: fallback}
	switch {
	case status >= http.StatusInternalServerError:
		c.log.Error(fallback,
			logger.String("path", ctx.Path()),
			logger.String("method", ctx.Request().Method),
			logger.Error(err))
	case repository.IsNotFound(err):
		resp.Error = err.Error()
	default:
		resp.Error = clientMessage(err)
		resp.Field = errors.FieldOf(err)
	}
	return ctx.JSON(status, resp)
}

func clientMessage(err error) string {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok {
			return msg
		}
		return http.StatusText(he.Code)
	}
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return ee.Err.Error()
	}
	return err.Error()
}

// ErrorHandler renders errors escaping handlers, such as unknown routes,
// in the same shape as HandleError.
func ErrorHandler(log logger.Logger) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		if ctx.Response().Committed {
			return
		}
		status := StatusFor(err)
		resp := ErrorResponse{Error: http.StatusText(status)}
		if status < http.StatusInternalServerError {
			resp.Error = clientMessage(err)
			resp.Field = errors.FieldOf(err)
		} else {
			log.Error("unhandled request error",
				logger.String("path", ctx.Path()),
				logger.Error(err))
		}
		var werr error
		if ctx.Request().Method == http.MethodHead {
			werr = ctx.NoContent(status)
		} else {
			werr = ctx.JSON(status, resp)
		}
		if werr != nil {
			log.Warn("failed to write error response", logger.Error(werr))
		}
	}
}
