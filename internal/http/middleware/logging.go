// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides request correlation, structured access logs with
// redaction of sensitive header values, and panic recovery. Recommended
// order: RequestID, Logger, Recovery, so that panics and errors carry the
// correlation id.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	loggerKey       = "logger"
	requestIDHeader = "X-Request-ID"
	// maxQueryLogLength caps the bytes of raw query logged per request.
	maxQueryLogLength = 2048
)

// RequestID reuses the caller's X-Request-ID or generates a UUIDv4, stores it
// in the Gin context and echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if rid == "" || len(rid) > 128 {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// RedactOptions configures which request headers are logged and masked.
// Only headers listed in LogHeaders are logged at all; of those, values of
// built-in sensitive headers and MaskHeaders become "[REDACTED]".
type RedactOptions struct {
	LogHeaders  []string
	MaskHeaders []string
}

var emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)

// Logger writes one structured access log line per request and stores a
// request-scoped zerolog.Logger for handlers (see LoggerFrom). Level follows
// the outcome: error for 5xx or gin errors, warn for 4xx, info otherwise.
func Logger(opts RedactOptions) gin.HandlerFunc {
	masked := map[string]struct{}{"authorization": {}, "cookie": {}, "set-cookie": {}}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		rid, _ := c.Get(requestIDKey)

		lc := log.With().
			Str("request_id", asString(rid)).
			Str("method", c.Request.Method).
			Str("route", routeOf(c)).
			Str("remote_ip", c.ClientIP()).
			Str("query", truncate(emailRE.ReplaceAllString(c.Request.URL.RawQuery, "[REDACTED:email]"), maxQueryLogLength))
		if actor := c.GetHeader(HeaderActorID); actor != "" {
			lc = lc.Str("actor_id", actor)
		}
		if len(opts.LogHeaders) > 0 {
			hdrs := zerolog.Dict()
			for _, name := range opts.LogHeaders {
				v := c.GetHeader(name)
				if v == "" {
					continue
				}
				if _, ok := masked[strings.ToLower(name)]; ok {
					v = "[REDACTED]"
				}
				hdrs = hdrs.Str(name, v)
			}
			lc = lc.Dict("headers", hdrs)
		}
		l := lc.Logger()
		c.Set(loggerKey, &l)

		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case len(c.Errors) > 0:
			ev = l.Error().Str("errors", c.Errors.String())
		case status >= 500:
			ev = l.Error()
		case status >= 400:
			ev = l.Warn()
		default:
			ev = l.Info()
		}
		ev.Int("status", status).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size()).
			Msg("request")
	}
}

// Recovery turns panics into a JSON 500 and logs the stack. Sentry reporting
// happens in the sentrygin middleware, which re-panics into this one.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := c.GetString(requestIDKey)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when
// Logger() is not installed.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// routeOf returns the matched route template. Unmatched requests share one
// label to keep log and metric cardinality bounded.
func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// truncate caps s at max bytes, appending an ellipsis. max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
