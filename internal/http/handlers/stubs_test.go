package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-modcases/internal/domain"
	"github.com/tbourn/go-modcases/internal/http/middleware"
	"github.com/tbourn/go-modcases/internal/repo"
	"github.com/tbourn/go-modcases/internal/services"
)

// ---- stubs to satisfy handlers.New() dependencies ----

type stubCases struct {
	warn      func(ctx context.Context, cid, uid, mod int64, reason string) (*services.WarnOutcome, error)
	action    func(ctx context.Context, cid, uid, actor int64, kind domain.CaseKind, reason string, d time.Duration) (*domain.Case, error)
	find      func(ctx context.Context, cid int64, ref string) (*domain.Case, error)
	reverse   func(ctx context.Context, cid, id, actor int64) (*domain.Case, error)
	annotate  func(ctx context.Context, cid, id, actor int64, note string) (*domain.Case, error)
	reason    func(ctx context.Context, cid, id, actor int64, reason string) (*domain.Case, error)
	expire    func(ctx context.Context, cid, id int64) (*domain.Case, bool, error)
	list      func(ctx context.Context, cid int64, uid *int64, limit int, before int64) (*services.CasePage, error)
	history   func(ctx context.Context, cid, id int64) ([]domain.CaseEvent, error)
	version   func(ctx context.Context, cid int64) (int64, *time.Time, error)
	summary   func(ctx context.Context, cid int64) ([]repo.KindCount, error)
	due       func(ctx context.Context, now time.Time, limit int) ([]domain.Case, error)
	warnings  func(ctx context.Context, cid, uid int64, since time.Time) ([]domain.Warning, error)
	count     func(ctx context.Context, cid, uid int64, window time.Duration) (int64, error)
	lookup    func(ctx context.Context, cid, actor int64, key string) (*domain.Case, error)
	remembers []rememberCall
}

type rememberCall struct {
	cid, actor int64
	key        string
	caseID     int64
}

func (s *stubCases) Warn(ctx context.Context, cid, uid, mod int64, reason string) (*services.WarnOutcome, error) {
	return s.warn(ctx, cid, uid, mod, reason)
}

func (s *stubCases) RecordAction(ctx context.Context, cid, uid, actor int64, kind domain.CaseKind, reason string, d time.Duration) (*domain.Case, error) {
	return s.action(ctx, cid, uid, actor, kind, reason, d)
}

func (s *stubCases) FindCase(ctx context.Context, cid int64, ref string) (*domain.Case, error) {
	if s.find != nil {
		return s.find(ctx, cid, ref)
	}
	return &domain.Case{ID: 5, CommunityID: cid, Kind: domain.KindTimeout}, nil
}

func (s *stubCases) ReverseCase(ctx context.Context, cid, id, actor int64) (*domain.Case, error) {
	return s.reverse(ctx, cid, id, actor)
}

func (s *stubCases) Annotate(ctx context.Context, cid, id, actor int64, note string) (*domain.Case, error) {
	return s.annotate(ctx, cid, id, actor, note)
}

func (s *stubCases) UpdateReason(ctx context.Context, cid, id, actor int64, reason string) (*domain.Case, error) {
	return s.reason(ctx, cid, id, actor, reason)
}

func (s *stubCases) ExpireIfDue(ctx context.Context, cid, id int64) (*domain.Case, bool, error) {
	return s.expire(ctx, cid, id)
}

func (s *stubCases) ListCases(ctx context.Context, cid int64, uid *int64, limit int, before int64) (*services.CasePage, error) {
	return s.list(ctx, cid, uid, limit, before)
}

func (s *stubCases) CaseHistory(ctx context.Context, cid, id int64) ([]domain.CaseEvent, error) {
	return s.history(ctx, cid, id)
}

func (s *stubCases) CasesVersion(ctx context.Context, cid int64) (int64, *time.Time, error) {
	if s.version != nil {
		return s.version(ctx, cid)
	}
	return 0, nil, nil
}

func (s *stubCases) CaseSummary(ctx context.Context, cid int64) ([]repo.KindCount, error) {
	return s.summary(ctx, cid)
}

func (s *stubCases) ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]domain.Case, error) {
	return s.due(ctx, now, limit)
}

func (s *stubCases) ListWarnings(ctx context.Context, cid, uid int64, since time.Time) ([]domain.Warning, error) {
	return s.warnings(ctx, cid, uid, since)
}

func (s *stubCases) CountRecentWarnings(ctx context.Context, cid, uid int64, window time.Duration) (int64, error) {
	return s.count(ctx, cid, uid, window)
}

func (s *stubCases) LookupIntent(ctx context.Context, cid, actor int64, key string) (*domain.Case, error) {
	if s.lookup != nil {
		return s.lookup(ctx, cid, actor, key)
	}
	return nil, nil
}

func (s *stubCases) RememberIntent(_ context.Context, cid, actor int64, key string, caseID int64, _ int) error {
	s.remembers = append(s.remembers, rememberCall{cid, actor, key, caseID})
	return nil
}

type stubNotes struct {
	add   func(ctx context.Context, cid, uid, author int64, content string) (*domain.UserNote, error)
	list  func(ctx context.Context, cid, uid int64) ([]domain.UserNote, error)
	edit  func(ctx context.Context, cid, nid int64, content string) (*domain.UserNote, error)
	del   func(ctx context.Context, cid, nid int64) error
	clear func(ctx context.Context, cid, uid int64) (int64, error)
}

func (s *stubNotes) AddUserNote(ctx context.Context, cid, uid, author int64, content string) (*domain.UserNote, error) {
	return s.add(ctx, cid, uid, author, content)
}

func (s *stubNotes) ListUserNotes(ctx context.Context, cid, uid int64) ([]domain.UserNote, error) {
	return s.list(ctx, cid, uid)
}

func (s *stubNotes) EditUserNote(ctx context.Context, cid, nid int64, content string) (*domain.UserNote, error) {
	return s.edit(ctx, cid, nid, content)
}

func (s *stubNotes) DeleteUserNote(ctx context.Context, cid, nid int64) error {
	return s.del(ctx, cid, nid)
}

func (s *stubNotes) ClearUserNotes(ctx context.Context, cid, uid int64) (int64, error) {
	return s.clear(ctx, cid, uid)
}

type stubConfig struct {
	esc    domain.EscalationConfig
	saved  *domain.EscalationConfig
	setErr error
	modlog *domain.ModlogConfig
}

func (s *stubConfig) GetEscalationConfig(_ context.Context, cid int64) (*domain.EscalationConfig, error) {
	cfg := s.esc
	cfg.CommunityID = cid
	return &cfg, nil
}

func (s *stubConfig) SetEscalationConfig(_ context.Context, cfg domain.EscalationConfig) (*domain.EscalationConfig, error) {
	if s.setErr != nil {
		return nil, s.setErr
	}
	s.saved = &cfg
	return &cfg, nil
}

func (s *stubConfig) ResetEscalationConfig(_ context.Context, cid int64) (*domain.EscalationConfig, error) {
	cfg := domain.DefaultEscalationConfig(cid)
	s.saved = &cfg
	return &cfg, nil
}

func (s *stubConfig) GetModlogConfig(_ context.Context, cid int64) (*domain.ModlogConfig, error) {
	if s.modlog == nil {
		return nil, services.ErrModlogNotConfigured
	}
	return s.modlog, nil
}

func (s *stubConfig) SetModlogConfig(_ context.Context, cid, channelID int64) (*domain.ModlogConfig, error) {
	if channelID <= 0 {
		return nil, services.ErrInvalidConfig
	}
	s.modlog = &domain.ModlogConfig{CommunityID: cid, ChannelID: channelID}
	return s.modlog, nil
}

func (s *stubConfig) ClearModlogConfig(context.Context, int64) error {
	s.modlog = nil
	return nil
}

type stubCache struct {
	degraded bool
	stats    services.CacheStats
}

func (s stubCache) CacheStats() services.CacheStats { return s.stats }
func (s stubCache) CacheDegraded() bool             { return s.degraded }

// ---- helpers ----

// newTestRouter mounts every endpoint the way the router does, minus the
// global middleware.
func newTestRouter(h *Handlers, idem bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if idem {
		r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	}
	r.GET("/health", h.Health)
	r.GET("/status/cache", h.CacheStatus)
	r.GET("/expiry/due", h.DueForExpiry)
	g := r.Group("/communities/:cid")
	g.POST("/warnings", h.Warn)
	g.POST("/actions", h.RecordAction)
	g.GET("/cases", h.ListCases)
	g.GET("/cases/:ref", h.GetCase)
	g.GET("/cases/:ref/events", h.CaseEvents)
	g.POST("/cases/:ref/reverse", h.ReverseCase)
	g.PUT("/cases/:ref/note", h.AnnotateCase)
	g.PUT("/cases/:ref/reason", h.UpdateCaseReason)
	g.POST("/cases/:ref/expire", h.ExpireCase)
	g.GET("/summary", h.CaseSummary)
	g.GET("/users/:uid/warnings", h.ListWarnings)
	g.GET("/users/:uid/warnings/count", h.CountWarnings)
	g.GET("/users/:uid/notes", h.ListUserNotes)
	g.POST("/users/:uid/notes", h.AddUserNote)
	g.DELETE("/users/:uid/notes", h.ClearUserNotes)
	g.PUT("/notes/:nid", h.EditUserNote)
	g.DELETE("/notes/:nid", h.DeleteUserNote)
	g.GET("/escalation", h.GetEscalation)
	g.PUT("/escalation", h.UpdateEscalation)
	g.DELETE("/escalation", h.ResetEscalation)
	g.GET("/modlog", h.GetModlog)
	g.PUT("/modlog", h.SetModlog)
	g.DELETE("/modlog", h.ClearModlog)
	return r
}

func do(r *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var rd *bytes.Buffer
	if body != "" {
		rd = bytes.NewBufferString(body)
	} else {
		rd = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("json: %v (body %s)", err, w.Body.String())
	}
	return v
}

var asActor = map[string]string{middleware.HeaderActorID: "42"}
