// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file validates the Idempotency-Key header on intent endpoints and
// marks requests that would replay a remembered intent, so that the rate
// limiter lets them through and handlers can serve the recorded case.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the client's key.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotencyReplayed is set to "true" on replayed responses.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the key validated by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s := c.GetString(ctxKeyIdemKey)
	return s, s != ""
}

// IsReplay reports whether IdempotencyValidator found a remembered intent
// for this request.
func IsReplay(c *gin.Context) bool {
	return c.GetBool(ctxKeyIdemReplay)
}

// IdempotencyOptions configures key validation.
type IdempotencyOptions struct {
	// MaxLen caps the key length; <= 0 means 200, the column width.
	MaxLen int
	// Pattern restricts key characters; nil means token characters only.
	Pattern *regexp.Regexp
	// CommunityParam names the route parameter holding the community id.
	CommunityParam string
}

// IdempotencyLookup reports whether an unexpired intent exists for
// (community, actor, key). Errors are treated as "not found".
type IdempotencyLookup func(ctx context.Context, communityID, actorID int64, key string) (bool, error)

// IdempotencyValidator rejects malformed keys with 400 and, when lookup finds
// a remembered intent, marks the request as a replay and exempts it from
// rate limiting. Requests without the header pass through untouched.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}
	param := opts.CommunityParam
	if param == "" {
		param = "cid"
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.GetString(requestIDKey),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			community, err := strconv.ParseInt(c.Param(param), 10, 64)
			actor, ok := ActorID(c)
			if err == nil && ok {
				if found, err := lookup(c.Request.Context(), community, actor, key); err == nil && found {
					c.Set(ctxKeyIdemReplay, true)
					c.Set(ctxKeyRateBypass, true)
				}
			}
		}
		c.Next()
	}
}
