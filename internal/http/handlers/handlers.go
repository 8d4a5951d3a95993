package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-modcases/internal/domain"
	"github.com/tbourn/go-modcases/internal/http/middleware"
	"github.com/tbourn/go-modcases/internal/repo"
	"github.com/tbourn/go-modcases/internal/services"
	"github.com/tbourn/go-modcases/internal/utils"
)

//
// Service contracts (context-aware)
//

// CaseService records and transitions moderation cases. *services.Moderation
// implements it.
type CaseService interface {
	// Warn records a warning and evaluates escalation.
	Warn(ctx context.Context, communityID, userID, moderatorID int64, reason string) (*services.WarnOutcome, error)
	// RecordAction records a manual ban, kick or timeout.
	RecordAction(ctx context.Context, communityID, userID, actorID int64, kind domain.CaseKind, reason string, duration time.Duration) (*domain.Case, error)
	// FindCase resolves a numeric id or a label like "W3".
	FindCase(ctx context.Context, communityID int64, ref string) (*domain.Case, error)
	ReverseCase(ctx context.Context, communityID, id, actorID int64) (*domain.Case, error)
	Annotate(ctx context.Context, communityID, id, actorID int64, note string) (*domain.Case, error)
	UpdateReason(ctx context.Context, communityID, id, actorID int64, reason string) (*domain.Case, error)
	ExpireIfDue(ctx context.Context, communityID, id int64) (*domain.Case, bool, error)
	ListCases(ctx context.Context, communityID int64, userID *int64, limit int, before int64) (*services.CasePage, error)
	CaseHistory(ctx context.Context, communityID, id int64) ([]domain.CaseEvent, error)
	CasesVersion(ctx context.Context, communityID int64) (int64, *time.Time, error)
	CaseSummary(ctx context.Context, communityID int64) ([]repo.KindCount, error)
	ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]domain.Case, error)
	ListWarnings(ctx context.Context, communityID, userID int64, since time.Time) ([]domain.Warning, error)
	CountRecentWarnings(ctx context.Context, communityID, userID int64, window time.Duration) (int64, error)

	// LookupIntent and RememberIntent back Idempotency-Key replays.
	LookupIntent(ctx context.Context, communityID, actorID int64, key string) (*domain.Case, error)
	RememberIntent(ctx context.Context, communityID, actorID int64, key string, caseID int64, status int) error
}

// NoteService manages moderator notes about users.
type NoteService interface {
	AddUserNote(ctx context.Context, communityID, userID, authorID int64, content string) (*domain.UserNote, error)
	ListUserNotes(ctx context.Context, communityID, userID int64) ([]domain.UserNote, error)
	EditUserNote(ctx context.Context, communityID, noteID int64, content string) (*domain.UserNote, error)
	DeleteUserNote(ctx context.Context, communityID, noteID int64) error
	ClearUserNotes(ctx context.Context, communityID, userID int64) (int64, error)
}

// ConfigService reads and writes per-community configuration.
// *services.Coordinator implements it.
type ConfigService interface {
	GetEscalationConfig(ctx context.Context, communityID int64) (*domain.EscalationConfig, error)
	SetEscalationConfig(ctx context.Context, cfg domain.EscalationConfig) (*domain.EscalationConfig, error)
	ResetEscalationConfig(ctx context.Context, communityID int64) (*domain.EscalationConfig, error)
	GetModlogConfig(ctx context.Context, communityID int64) (*domain.ModlogConfig, error)
	SetModlogConfig(ctx context.Context, communityID, channelID int64) (*domain.ModlogConfig, error)
	ClearModlogConfig(ctx context.Context, communityID int64) error
}

// CacheStatus exposes the cache health of the Coordinator.
type CacheStatus interface {
	CacheStats() services.CacheStats
	CacheDegraded() bool
}

//
// Handler wiring
//

// Handlers groups the collaborator API endpoints.
type Handlers struct {
	cases  CaseService
	notes  NoteService
	config ConfigService
	cache  CacheStatus
	now    func() time.Time
}

// New constructs Handlers bound to the given services.
func New(cases CaseService, notes NoteService, config ConfigService, cache CacheStatus) *Handlers {
	return &Handlers{cases: cases, notes: notes, config: config, cache: cache, now: time.Now}
}

//
// Helpers
//

// pathID parses a positive id route parameter, writing 400 on failure.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := utils.ParseID(c.Param(name))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, name+": "+err.Error())
		return 0, false
	}
	return id, true
}

// community parses the :cid parameter.
func community(c *gin.Context) (int64, bool) { return pathID(c, "cid") }

// actor returns the X-Actor-ID of a mutating request, writing 400 when it
// is missing.
func actor(c *gin.Context) (int64, bool) {
	id, ok := middleware.ActorID(c)
	if !ok {
		fail(c, http.StatusBadRequest, ErrCodeMissingActor, middleware.HeaderActorID+" header must be a positive integer")
		return 0, false
	}
	return id, true
}

// findCase resolves the :ref parameter within the community.
func (h *Handlers) findCase(c *gin.Context, communityID int64) (*domain.Case, bool) {
	cs, err := h.cases.FindCase(c.Request.Context(), communityID, c.Param("ref"))
	if err != nil {
		failErr(c, err)
		return nil, false
	}
	return cs, true
}
