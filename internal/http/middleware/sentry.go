package middleware

import (
	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
)

// SentryScope runs after sentrygin.New. It tags the request hub with the
// matched route and request id and binds it to the request context, where
// observability.CaptureError looks it up. Without sentrygin in the chain a
// fresh clone of the global hub is used.
func SentryScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		hub := sentrygin.GetHubFromContext(c)
		if hub == nil {
			hub = sentry.CurrentHub().Clone()
			hub.Scope().SetRequest(c.Request)
		}
		hub.Scope().SetTag("route", routeOf(c))
		if rid := c.GetString(requestIDKey); rid != "" {
			hub.Scope().SetTag("request_id", rid)
		}
		c.Request = c.Request.WithContext(sentry.SetHubOnContext(c.Request.Context(), hub))
		c.Next()
	}
}
