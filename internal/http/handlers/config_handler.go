// Configuration HTTP handlers.
//
//   - GET|PUT|DELETE /communities/{cid}/escalation
//   - GET|PUT|DELETE /communities/{cid}/modlog
//
// DELETE on escalation restores the disabled defaults; DELETE on modlog
// removes the channel.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-modcases/internal/domain"
)

// EscalationRequest updates an escalation policy. Absent fields keep their
// current value. Windows accept Go syntax or the compact form ("7d") and are
// truncated to whole seconds.
type EscalationRequest struct {
	Enabled       *bool   `json:"enabled"`
	WarnThreshold *int    `json:"warn_threshold"`
	WarnWindow    *string `json:"warn_window"`
	TimeoutWindow *string `json:"timeout_window"`
}

// ModlogRequest points the modlog at a channel.
type ModlogRequest struct {
	ChannelID int64 `json:"channel_id"`
}

// GetEscalation returns the community's escalation policy, creating the
// default on first access.
func (h *Handlers) GetEscalation(c *gin.Context) {
	cid, okID := community(c)
	if !okID {
		return
	}
	cfg, err := h.config.GetEscalationConfig(c.Request.Context(), cid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, cfg)
}

// UpdateEscalation merges the request onto the current policy and stores it.
func (h *Handlers) UpdateEscalation(c *gin.Context) {
	cid, okID := community(c)
	if !okID {
		return
	}
	var req EscalationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	ctx := c.Request.Context()
	cur, err := h.config.GetEscalationConfig(ctx, cid)
	if err != nil {
		failErr(c, err)
		return
	}
	next := *cur
	if req.Enabled != nil {
		next.Enabled = *req.Enabled
	}
	if req.WarnThreshold != nil {
		next.WarnThreshold = *req.WarnThreshold
	}
	if req.WarnWindow != nil {
		d, err := domain.ParseDuration(*req.WarnWindow)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "warn_window: "+err.Error())
			return
		}
		next.WarnWindowSeconds = int64(d.Seconds())
	}
	if req.TimeoutWindow != nil {
		d, err := domain.ParseDuration(*req.TimeoutWindow)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "timeout_window: "+err.Error())
			return
		}
		next.TimeoutWindowSeconds = int64(d.Seconds())
	}

	saved, err := h.config.SetEscalationConfig(ctx, next)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, saved)
}

// ResetEscalation restores the default policy.
func (h *Handlers) ResetEscalation(c *gin.Context) {
	cid, okID := community(c)
	if !okID {
		return
	}
	cfg, err := h.config.ResetEscalationConfig(c.Request.Context(), cid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, cfg)
}

// GetModlog returns the modlog channel, or 404 when none is configured.
func (h *Handlers) GetModlog(c *gin.Context) {
	cid, okID := community(c)
	if !okID {
		return
	}
	cfg, err := h.config.GetModlogConfig(c.Request.Context(), cid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, cfg)
}

// SetModlog points the modlog at channel_id.
func (h *Handlers) SetModlog(c *gin.Context) {
	cid, okID := community(c)
	if !okID {
		return
	}
	var req ModlogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	cfg, err := h.config.SetModlogConfig(c.Request.Context(), cid, req.ChannelID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, cfg)
}

// ClearModlog removes the modlog channel.
func (h *Handlers) ClearModlog(c *gin.Context) {
	cid, okID := community(c)
	if !okID {
		return
	}
	if err := h.config.ClearModlogConfig(c.Request.Context(), cid); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
