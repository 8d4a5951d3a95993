package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health reports liveness. The service stays up while the cache is
// degraded, so cache_degraded is informational.
func (h *Handlers) Health(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{
		"status":         "ok",
		"cache_degraded": h.cache.CacheDegraded(),
	})
}

// CacheStatus returns the Coordinator's cache counters.
func (h *Handlers) CacheStatus(c *gin.Context) {
	ok(c, http.StatusOK, h.cache.CacheStats())
}
