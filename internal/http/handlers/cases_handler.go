// Case HTTP handlers.
//
// This file exposes the case ledger:
//   - POST /communities/{cid}/warnings             (warn + escalation)
//   - POST /communities/{cid}/actions              (ban, kick, timeout)
//   - GET  /communities/{cid}/cases                (cursor paginated, ETag)
//   - GET  /communities/{cid}/cases/{ref}          (id or label)
//   - GET  /communities/{cid}/cases/{ref}/events   (audit trail)
//   - POST /communities/{cid}/cases/{ref}/reverse
//   - PUT  /communities/{cid}/cases/{ref}/note
//   - PUT  /communities/{cid}/cases/{ref}/reason
//   - POST /communities/{cid}/cases/{ref}/expire
//   - GET  /communities/{cid}/summary
//   - GET  /expiry/due
//
// Warnings and actions honor Idempotency-Key: a retry with the same key from
// the same actor replays the case recorded the first time.
package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-modcases/internal/domain"
	"github.com/tbourn/go-modcases/internal/http/middleware"
	"github.com/tbourn/go-modcases/internal/utils"
)

//
// DTOs
//

// WarnRequest is the JSON payload for warning a user.
type WarnRequest struct {
	UserID int64  `json:"user_id" binding:"required,gt=0"`
	Reason string `json:"reason"`
}

// ActionRequest is the JSON payload for recording a manual action.
// Duration uses Go syntax or the compact form ("1d12h") and only applies to
// timeouts.
type ActionRequest struct {
	UserID   int64  `json:"user_id"  binding:"required,gt=0"`
	Kind     string `json:"kind"     binding:"required"`
	Reason   string `json:"reason"`
	Duration string `json:"duration"`
}

// NoteRequest is the JSON payload for annotating a case.
type NoteRequest struct {
	Note string `json:"note"`
}

// ReasonRequest is the JSON payload for replacing a case reason.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// CaseResponse wraps a single case.
type CaseResponse struct {
	Case *domain.Case `json:"case"`
}

// ExpireResponse reports whether ExpireCase moved the case to expired.
type ExpireResponse struct {
	Case    *domain.Case `json:"case"`
	Expired bool         `json:"expired"`
}

//
// Idempotency
//

// replay serves a previously recorded intent. It reports true when the
// response was written, either the replay itself or an error.
func (h *Handlers) replay(c *gin.Context, communityID, actorID int64) bool {
	key, has := middleware.GetIdempotencyKey(c)
	if !has {
		return false
	}
	prior, err := h.cases.LookupIntent(c.Request.Context(), communityID, actorID, key)
	if err != nil {
		failErr(c, err)
		return true
	}
	if prior == nil {
		return false
	}
	c.Header(middleware.HeaderIdempotencyReplayed, "true")
	ok(c, http.StatusCreated, CaseResponse{Case: prior})
	return true
}

// remember records the intent after a successful write. Failures are logged
// only: the case is committed and the client already has it.
func (h *Handlers) remember(c *gin.Context, communityID, actorID, caseID int64) {
	key, has := middleware.GetIdempotencyKey(c)
	if !has {
		return
	}
	if err := h.cases.RememberIntent(c.Request.Context(), communityID, actorID, key, caseID, http.StatusCreated); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).
			Int64("case_id", caseID).
			Msg("remember intent failed")
	}
}

//
// Handlers
//

// Warn records a warning against a user and evaluates the community's
// escalation policy. The response carries the warning, its case, the
// user's warn number and the escalation result.
func (h *Handlers) Warn(c *gin.Context) {
	cid, okID := community(c)
	if !okID {
		return
	}
	mod, okActor := actor(c)
	if !okActor {
		return
	}
	var req WarnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id must be a positive integer")
		return
	}
	if h.replay(c, cid, mod) {
		return
	}

	out, err := h.cases.Warn(c.Request.Context(), cid, req.UserID, mod, req.Reason)
	if err != nil {
		failErr(c, err)
		return
	}
	h.remember(c, cid, mod, out.Case.ID)
	ok(c, http.StatusCreated, out)
}

// RecordAction records a manual ban, kick or timeout.
func (h *Handlers) RecordAction(c *gin.Context) {
	cid, okID := community(c)
	if !okID {
		return
	}
	act, okActor := actor(c)
	if !okActor {
		return
	}
	var req ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id and kind are required")
		return
	}
	kind, known := domain.ParseCaseKind(req.Kind)
	if !known {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("unknown kind %q", req.Kind))
		return
	}
	var dur time.Duration
	if strings.TrimSpace(req.Duration) != "" {
		d, err := domain.ParseDuration(req.Duration)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		dur = d
	}
	if h.replay(c, cid, act) {
		return
	}

	cs, err := h.cases.RecordAction(c.Request.Context(), cid, req.UserID, act, kind, req.Reason, dur)
	if err != nil {
		failErr(c, err)
		return
	}
	h.remember(c, cid, act, cs.ID)
	ok(c, http.StatusCreated, CaseResponse{Case: cs})
}

// ListCases returns a page of cases, newest first, optionally filtered by
// user_id. A weak ETag derived from the community's case count and latest
// update lets clients poll with If-None-Match.
func (h *Handlers) ListCases(c *gin.Context) {
	cid, okID := community(c)
	if !okID {
		return
	}
	userID, err := utils.ParseOptionalID(c.Query("user_id"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id: "+err.Error())
		return
	}
	before, err := utils.ParseCursor(c.Query("before"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "before: "+err.Error())
		return
	}
	limit := utils.AtoiDefault(c.Query("limit"), 0)
	ctx := c.Request.Context()

	// ETag pre-check (best effort).
	if count, latest, err := h.cases.CasesVersion(ctx, cid); err == nil {
		var ts int64
		if latest != nil {
			ts = latest.UnixNano()
		}
		etag := fmt.Sprintf(`W/"cases:%d:%d:%d:%s:%d:%d"`, cid, count, ts, c.Query("user_id"), before, limit)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	page, err := h.cases.ListCases(ctx, cid, userID, limit, before)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, page)
}

// GetCase returns one case by id or label.
func (h *Handlers) GetCase(c *gin.Context) {
	cid, okID := community(c)
	if !okID {
		return
	}
	cs, found := h.findCase(c, cid)
	if !found {
		return
	}
	ok(c, http.StatusOK, CaseResponse{Case: cs})
}

// CaseEvents returns the audit trail of a case, oldest first.
func (h *Handlers) CaseEvents(c *gin.Context) {
	cid, okID := community(c)
	if !okID {
		return
	}
	cs, found := h.findCase(c, cid)
	if !found {
		return
	}
	events, err := h.cases.CaseHistory(c.Request.Context(), cid, cs.ID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"events": events})
}

// ReverseCase moves an active case to reversed. Reversing a terminal case
// answers 409.
func (h *Handlers) ReverseCase(c *gin.Context) {
	cid, okID := community(c)
	if !okID {
		return
	}
	act, okActor := actor(c)
	if !okActor {
		return
	}
	cs, found := h.findCase(c, cid)
	if !found {
		return
	}
	out, err := h.cases.ReverseCase(c.Request.Context(), cid, cs.ID, act)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, CaseResponse{Case: out})
}

// AnnotateCase replaces the moderator note of a case.
func (h *Handlers) AnnotateCase(c *gin.Context) {
	cid, okID := community(c)
	if !okID {
		return
	}
	act, okActor := actor(c)
	if !okActor {
		return
	}
	var req NoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	cs, found := h.findCase(c, cid)
	if !found {
		return
	}
	out, err := h.cases.Annotate(c.Request.Context(), cid, cs.ID, act, req.Note)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, CaseResponse{Case: out})
}

// UpdateCaseReason replaces the reason of a case.
func (h *Handlers) UpdateCaseReason(c *gin.Context) {
	cid, okID := community(c)
	if !okID {
		return
	}
	act, okActor := actor(c)
	if !okActor {
		return
	}
	var req ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	cs, found := h.findCase(c, cid)
	if !found {
		return
	}
	out, err := h.cases.UpdateReason(c.Request.Context(), cid, cs.ID, act, req.Reason)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, CaseResponse{Case: out})
}

// ExpireCase expires a bounded case whose duration has lapsed. It is safe
// to call repeatedly; expired reports whether this call made the change.
func (h *Handlers) ExpireCase(c *gin.Context) {
	cid, okID := community(c)
	if !okID {
		return
	}
	cs, found := h.findCase(c, cid)
	if !found {
		return
	}
	out, expired, err := h.cases.ExpireIfDue(c.Request.Context(), cid, cs.ID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ExpireResponse{Case: out, Expired: expired})
}

// CaseSummary counts a community's cases per kind and status.
func (h *Handlers) CaseSummary(c *gin.Context) {
	cid, okID := community(c)
	if !okID {
		return
	}
	counts, err := h.cases.CaseSummary(c.Request.Context(), cid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"community_id": cid, "counts": counts})
}

// DueForExpiry lists active bounded cases past their expiry across all
// communities, for the collaborator's expiry sweeper.
func (h *Handlers) DueForExpiry(c *gin.Context) {
	limit := utils.AtoiDefault(c.Query("limit"), 0)
	due, err := h.cases.ListDueForExpiry(c.Request.Context(), h.now(), limit)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"cases": due})
}
