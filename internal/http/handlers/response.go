// Package handlers provides HTTP handler implementations for the collaborator
// API.
//
// This file holds the response helpers shared by every endpoint. Errors are
// written as an ErrorResponse with a stable code; service errors are mapped
// onto statuses by failErr so handlers never switch on error values
// themselves.
//
// Example error response:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "case not found"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-modcases/internal/http/middleware"
	"github.com/tbourn/go-modcases/internal/observability"
	"github.com/tbourn/go-modcases/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code"`
	// Human-readable message
	Message string `json:"message"`
	// Retryable is set when nothing was committed and the intent may be resent.
	Retryable bool `json:"retryable,omitempty"`
}

func respond(c *gin.Context, status int, code, msg string, retryable bool) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
		Retryable: retryable,
	}

	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// fail aborts the request with a structured error. 5xx responses are logged
// with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) { respond(c, status, code, msg, false) }

// Fail is the exported variant of fail, used by the router fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr maps a service error onto the HTTP taxonomy:
//
//	ErrValidation       -> 400 bad_request
//	ErrNotFound         -> 404 not_found
//	ErrInvalidState     -> 409 conflict
//	ErrStoreUnavailable -> 503 store_unavailable, retryable
//	anything else       -> 500 internal_error
//
// Unexpected errors and store failures are reported to Sentry.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrInvalidState):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, services.ErrStoreUnavailable):
		capture(c, err)
		var se *services.StoreError
		retryable := !errors.As(err, &se) || se.Retryable()
		respond(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "store unavailable, retry the request", retryable)
	default:
		capture(c, err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}

func capture(c *gin.Context, err error) {
	observability.CaptureError(c.Request.Context(), err, map[string]string{
		"route": c.FullPath(),
	})
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
