package middleware

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderActorID carries the platform id of the moderator (or system) on
// whose behalf a collaborator calls the API.
const HeaderActorID = "X-Actor-ID"

const ctxKeyActorID = "actor.id"

// ActorID returns the positive actor id from X-Actor-ID. The parsed value is
// cached on the context.
func ActorID(c *gin.Context) (int64, bool) {
	if v, ok := c.Get(ctxKeyActorID); ok {
		id, _ := v.(int64)
		return id, id > 0
	}
	id, err := strconv.ParseInt(strings.TrimSpace(c.GetHeader(HeaderActorID)), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	c.Set(ctxKeyActorID, id)
	return id, true
}
