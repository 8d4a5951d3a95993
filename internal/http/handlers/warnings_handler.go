package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-modcases/internal/domain"
	"github.com/tbourn/go-modcases/internal/utils"
)

// WarningCountResponse is the result of CountWarnings.
type WarningCountResponse struct {
	UserID int64  `json:"user_id"`
	Window string `json:"window"`
	Count  int64  `json:"count"`
}

// ListWarnings returns a user's warnings, newest first, optionally limited
// to those at or after ?since= (RFC 3339 or unix seconds).
func (h *Handlers) ListWarnings(c *gin.Context) {
	cid, okID := community(c)
	if !okID {
		return
	}
	uid, okUser := pathID(c, "uid")
	if !okUser {
		return
	}
	since, err := utils.ParseTime(c.Query("since"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "since: "+err.Error())
		return
	}
	ws, err := h.cases.ListWarnings(c.Request.Context(), cid, uid, since)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"warnings": ws})
}

// CountWarnings counts a user's non-reversed warnings inside ?window=.
// Without a window the community's escalation window is used.
func (h *Handlers) CountWarnings(c *gin.Context) {
	cid, okID := community(c)
	if !okID {
		return
	}
	uid, okUser := pathID(c, "uid")
	if !okUser {
		return
	}
	ctx := c.Request.Context()

	var window time.Duration
	if raw := c.Query("window"); raw != "" {
		d, err := domain.ParseDuration(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "window: "+err.Error())
			return
		}
		window = d
	} else {
		cfg, err := h.config.GetEscalationConfig(ctx, cid)
		if err != nil {
			failErr(c, err)
			return
		}
		window = cfg.WarnWindow()
	}

	n, err := h.cases.CountRecentWarnings(ctx, cid, uid, window)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, WarningCountResponse{UserID: uid, Window: domain.FormatDuration(window), Count: n})
}
