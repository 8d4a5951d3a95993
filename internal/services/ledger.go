// Package services – Ledger
//
// This file implements the Case Ledger, the only writer of case and warning
// rows. It validates moderation intents, allocates per-community case
// numbers, and applies lifecycle transitions:
//
//	active -> reversed   (ReverseCase)
//	active -> expired    (ExpireIfDue, driven by an external sweeper)
//
// Both targets are terminal. Every transition and edit writes a CaseEvent in
// the same transaction, so the audit trail never disagrees with the case.
//
// Observability: public methods are OpenTelemetry-instrumented with the
// community and case identifiers as span attributes.
package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-modcases/internal/domain"
	"github.com/tbourn/go-modcases/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Page size bounds for ListCases and ListDueForExpiry.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Ledger records and transitions moderation cases.
type Ledger struct {
	Coord *Coordinator
	// SystemActorID is the actor stamped on cases the system records itself.
	SystemActorID int64
	// IntentTTL is how long Idempotency-Key replays stay valid.
	IntentTTL time.Duration
}

// NewLedger constructs a Ledger writing through coord.
func NewLedger(coord *Coordinator, systemActorID int64) *Ledger {
	return &Ledger{Coord: coord, SystemActorID: systemActorID}
}

// WarnResult is the outcome of RecordWarning.
type WarnResult struct {
	Warning *domain.Warning `json:"warning"`
	Case    *domain.Case    `json:"case"`
	// WarnNumber is the user's all-time warning count including this one.
	WarnNumber int64 `json:"warn_number"`
}

// CasePage is one page of ListCases. NextBefore is the cursor for the next
// page, or zero when this is the last one.
type CasePage struct {
	Cases      []domain.Case `json:"cases"`
	NextBefore int64         `json:"next_before,omitempty"`
}

// allocateCase takes the community's case numbers for c and stamps its
// timestamps. Stamping happens after the counter lock so that ids and
// created_at agree within a community.
func allocateCase(ctx context.Context, tx *gorm.DB, c *domain.Case, clock func() time.Time) error {
	caseNo, kindNo, err := repo.NextCaseNumbers(ctx, tx, c.CommunityID, c.Kind)
	if err != nil {
		return err
	}
	c.CaseNumber, c.KindNumber = caseNo, kindNo
	c.CreatedAt = clock()
	c.UpdatedAt = c.CreatedAt
	if c.DurationSeconds != nil {
		exp := c.CreatedAt.Add(c.Duration())
		c.ExpiresAt = &exp
	}
	if c.Status == "" {
		c.Status = domain.StatusActive
	}
	return nil
}

// insertCase writes an allocated case and its "created" event.
// checkTimeout validates the duration of a bounded case.
func checkTimeout(d time.Duration) error {
	switch {
	case d <= 0:
		return ErrNonPositiveDuration
	case d < time.Second:
		return ErrDurationTooShort
	case d > maxTimeout:
		return ErrDurationTooLong
	}
	return nil
}

func insertCase(ctx context.Context, tx *gorm.DB, c *domain.Case) error {
	if err := repo.CreateCase(ctx, tx, c); err != nil {
		return err
	}
	return repo.CreateCaseEvent(ctx, tx, &domain.CaseEvent{
		CaseID:      c.ID,
		CommunityID: c.CommunityID,
		ActorID:     c.ActorID,
		Type:        domain.EventCreated,
		NewValue:    c.Reason,
		CreatedAt:   c.CreatedAt,
	})
}

func caseLookup(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return ErrCaseNotFound
	}
	return err
}

func (l *Ledger) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer("services/Ledger").Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordWarning stores a warning and its Warn case atomically.
func (l *Ledger) RecordWarning(ctx context.Context, communityID, userID, moderatorID int64, reason string) (*WarnResult, error) {
	ctx, span := l.span(ctx, "RecordWarning",
		attribute.Int64("community.id", communityID),
		attribute.Int64("user.id", userID),
	)
	defer span.End()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrEmptyReason
	}

	var res WarnResult
	err := l.Coord.write(ctx, "record_warning", func(ctx context.Context, tx *gorm.DB) error {
		c := &domain.Case{
			CommunityID:  communityID,
			Kind:         domain.KindWarn,
			TargetUserID: userID,
			ActorID:      moderatorID,
			Reason:       reason,
		}
		if err := allocateCase(ctx, tx, c, l.Coord.now); err != nil {
			return err
		}
		w := &domain.Warning{
			CommunityID: communityID,
			UserID:      userID,
			ModeratorID: moderatorID,
			Reason:      reason,
			WarnedAt:    c.CreatedAt,
		}
		if err := repo.CreateWarning(ctx, tx, w); err != nil {
			return err
		}
		c.SourceWarningID = &w.ID
		if err := insertCase(ctx, tx, c); err != nil {
			return err
		}
		n, err := repo.CountWarnings(ctx, tx, communityID, userID)
		if err != nil {
			return err
		}
		res = WarnResult{Warning: w, Case: c, WarnNumber: n}
		return nil
	})
	if err != nil {
		return nil, err
	}
	casesCreated.WithLabelValues(string(domain.KindWarn)).Inc()
	l.Coord.invalidateWarnings(ctx, communityID, userID)
	return &res, nil
}

// RecordAction stores a ban, kick or timeout case. Timeouts need a positive
// duration no longer than the platform maximum; the other kinds take none.
func (l *Ledger) RecordAction(ctx context.Context, communityID, userID, actorID int64, kind domain.CaseKind, reason string, duration time.Duration) (*domain.Case, error) {
	ctx, span := l.span(ctx, "RecordAction",
		attribute.Int64("community.id", communityID),
		attribute.Int64("user.id", userID),
		attribute.String("case.kind", string(kind)),
	)
	defer span.End()

	if !kind.Manual() {
		return nil, ErrInvalidKind
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrEmptyReason
	}

	c := &domain.Case{
		CommunityID:  communityID,
		Kind:         kind,
		TargetUserID: userID,
		ActorID:      actorID,
		Reason:       reason,
	}
	switch {
	case kind.Bounded():
		if err := checkTimeout(duration); err != nil {
			return nil, err
		}
		secs := int64(duration / time.Second)
		c.DurationSeconds = &secs
	case duration != 0:
		return nil, ErrUnexpectedDuration
	}

	err := l.Coord.write(ctx, "record_action", func(ctx context.Context, tx *gorm.DB) error {
		if err := allocateCase(ctx, tx, c, l.Coord.now); err != nil {
			return err
		}
		return insertCase(ctx, tx, c)
	})
	if err != nil {
		return nil, err
	}
	casesCreated.WithLabelValues(string(kind)).Inc()
	return c, nil
}

// RecordEscalation records an AutoTimeout triggered by sourceWarningID unless
// an AutoTimeout already covers a warning at or after since. created is false
// when the burst had already been escalated.
func (l *Ledger) RecordEscalation(ctx context.Context, communityID, userID, sourceWarningID int64, reason string, duration time.Duration, since time.Time) (c *domain.Case, created bool, err error) {
	if sourceWarningID <= 0 {
		return nil, false, ErrValidation
	}
	if err := checkTimeout(duration); err != nil {
		return nil, false, err
	}
	secs := int64(duration / time.Second)
	src := sourceWarningID
	c = &domain.Case{
		CommunityID:     communityID,
		Kind:            domain.KindAutoTimeout,
		TargetUserID:    userID,
		ActorID:         l.SystemActorID,
		Reason:          reason,
		DurationSeconds: &secs,
		SourceWarningID: &src,
	}
	created, err = l.Coord.InsertEscalation(ctx, c, since)
	if err != nil || !created {
		return nil, created, err
	}
	return c, true, nil
}

// GetCase returns a case of the community by id.
func (l *Ledger) GetCase(ctx context.Context, communityID, id int64) (*domain.Case, error) {
	var out *domain.Case
	err := l.Coord.read(ctx, "get_case", func(ctx context.Context, db *gorm.DB) error {
		c, err := repo.GetCommunityCase(ctx, db, communityID, id)
		out = c
		return caseLookup(err)
	})
	return out, err
}

// GetCaseByLabel returns a case of the community by label, e.g. "W3".
func (l *Ledger) GetCaseByLabel(ctx context.Context, communityID int64, label string) (*domain.Case, error) {
	kind, n, ok := domain.ParseLabel(label)
	if !ok {
		return nil, ErrInvalidCaseRef
	}
	var out *domain.Case
	err := l.Coord.read(ctx, "get_case_by_label", func(ctx context.Context, db *gorm.DB) error {
		c, err := repo.GetCaseByLabel(ctx, db, communityID, kind, n)
		out = c
		return caseLookup(err)
	})
	return out, err
}

// FindCase resolves ref, either a numeric case id or a label, to a case.
func (l *Ledger) FindCase(ctx context.Context, communityID int64, ref string) (*domain.Case, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if id <= 0 {
			return nil, ErrInvalidCaseRef
		}
		return l.GetCase(ctx, communityID, id)
	}
	return l.GetCaseByLabel(ctx, communityID, ref)
}

// ReverseCase moves an active case to reversed. A terminal case yields
// ErrAlreadyTerminal, including on a retry after a successful reversal.
func (l *Ledger) ReverseCase(ctx context.Context, communityID, id, actorID int64) (*domain.Case, error) {
	ctx, span := l.span(ctx, "ReverseCase",
		attribute.Int64("community.id", communityID),
		attribute.Int64("case.id", id),
	)
	defer span.End()

	var out *domain.Case
	err := l.Coord.write(ctx, "reverse_case", func(ctx context.Context, tx *gorm.DB) error {
		c, err := repo.GetCommunityCase(ctx, tx, communityID, id)
		if err != nil {
			return caseLookup(err)
		}
		if c.Status.Terminal() {
			return ErrAlreadyTerminal
		}
		now := l.Coord.now()
		n, err := repo.TransitionCase(ctx, tx, id, domain.StatusReversed, map[string]any{
			"reversed_by": actorID,
			"reversed_at": now,
		}, now)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrAlreadyTerminal
		}
		if err := repo.CreateCaseEvent(ctx, tx, &domain.CaseEvent{
			CaseID:      id,
			CommunityID: communityID,
			ActorID:     actorID,
			Type:        domain.EventReversed,
			OldValue:    string(c.Status),
			NewValue:    string(domain.StatusReversed),
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		out, err = repo.GetCase(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out.Kind == domain.KindWarn && l.Coord.Opts.ExcludeReversedWarnings {
		l.Coord.invalidateWarnings(ctx, communityID, out.TargetUserID)
	}
	return out, nil
}

// Annotate overwrites the note of a case in any status.
func (l *Ledger) Annotate(ctx context.Context, communityID, id, actorID int64, note string) (*domain.Case, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, ErrEmptyNote
	}
	return l.editCase(ctx, "annotate", communityID, id, actorID, domain.EventNoteUpdated,
		func(c *domain.Case) string { return c.Note },
		func(ctx context.Context, tx *gorm.DB, now time.Time) error {
			return repo.UpdateCaseNote(ctx, tx, id, note, now)
		}, note)
}

// UpdateReason replaces the reason of a case in any status.
func (l *Ledger) UpdateReason(ctx context.Context, communityID, id, actorID int64, reason string) (*domain.Case, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrEmptyReason
	}
	return l.editCase(ctx, "update_reason", communityID, id, actorID, domain.EventReasonUpdated,
		func(c *domain.Case) string { return c.Reason },
		func(ctx context.Context, tx *gorm.DB, now time.Time) error {
			return repo.UpdateCaseReason(ctx, tx, id, reason, now)
		}, reason)
}

// editCase applies a status-independent edit and audits old and new values.
func (l *Ledger) editCase(ctx context.Context, op string, communityID, id, actorID int64, typ domain.EventType,
	old func(*domain.Case) string, apply func(ctx context.Context, tx *gorm.DB, now time.Time) error, newValue string,
) (*domain.Case, error) {
	ctx, span := l.span(ctx, op,
		attribute.Int64("community.id", communityID),
		attribute.Int64("case.id", id),
	)
	defer span.End()

	var out *domain.Case
	err := l.Coord.write(ctx, op, func(ctx context.Context, tx *gorm.DB) error {
		c, err := repo.GetCommunityCase(ctx, tx, communityID, id)
		if err != nil {
			return caseLookup(err)
		}
		now := l.Coord.now()
		if err := apply(ctx, tx, now); err != nil {
			return caseLookup(err)
		}
		if err := repo.CreateCaseEvent(ctx, tx, &domain.CaseEvent{
			CaseID:      id,
			CommunityID: communityID,
			ActorID:     actorID,
			Type:        typ,
			OldValue:    old(c),
			NewValue:    newValue,
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		out, err = repo.GetCase(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListCases returns a page of a community's cases, newest first, optionally
// restricted to one target user. before is the NextBefore of the previous
// page, or zero for the first page. limit is clamped to [1, MaxListLimit].
func (l *Ledger) ListCases(ctx context.Context, communityID int64, userID *int64, limit int, before int64) (*CasePage, error) {
	ctx, span := l.span(ctx, "ListCases",
		attribute.Int64("community.id", communityID),
		attribute.Int("limit", limit),
		attribute.Int64("before", before),
	)
	defer span.End()

	limit = clampLimit(limit)
	var rows []domain.Case
	err := l.Coord.read(ctx, "list_cases", func(ctx context.Context, db *gorm.DB) error {
		var err error
		rows, err = repo.ListCases(ctx, db, communityID, userID, before, limit+1)
		return err
	})
	if err != nil {
		return nil, err
	}

	page := &CasePage{Cases: rows}
	if len(rows) > limit {
		page.Cases = rows[:limit]
		page.NextBefore = page.Cases[limit-1].ID
	}
	if page.Cases == nil {
		page.Cases = []domain.Case{}
	}
	return page, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}

// CaseHistory returns the audit trail of a case, oldest first.
func (l *Ledger) CaseHistory(ctx context.Context, communityID, id int64) ([]domain.CaseEvent, error) {
	var out []domain.CaseEvent
	err := l.Coord.read(ctx, "case_history", func(ctx context.Context, db *gorm.DB) error {
		if _, err := repo.GetCommunityCase(ctx, db, communityID, id); err != nil {
			return caseLookup(err)
		}
		var err error
		out, err = repo.ListCaseEvents(ctx, db, id)
		return err
	})
	return out, err
}

// ListWarnings returns a user's warnings at or after since, oldest first.
// A zero since lists every warning.
func (l *Ledger) ListWarnings(ctx context.Context, communityID, userID int64, since time.Time) ([]domain.Warning, error) {
	var out []domain.Warning
	err := l.Coord.read(ctx, "list_warnings", func(ctx context.Context, db *gorm.DB) error {
		var err error
		out, err = repo.ListWarnings(ctx, db, communityID, userID, since.UTC())
		return err
	})
	if out == nil {
		out = []domain.Warning{}
	}
	return out, err
}

// CountRecentWarnings counts a user's warnings inside the sliding window
// ending now. It reads through the cache.
func (l *Ledger) CountRecentWarnings(ctx context.Context, communityID, userID int64, window time.Duration) (int64, error) {
	return l.Coord.CountRecentWarnings(ctx, communityID, userID, window)
}

// ExpireIfDue moves a bounded case whose duration has lapsed to expired.
// Calling it on a terminal, unbounded or not-yet-due case is a no-op that
// returns the case unchanged with expired == false, so the sweeper may call
// it redundantly.
func (l *Ledger) ExpireIfDue(ctx context.Context, communityID, id int64) (c *domain.Case, expired bool, err error) {
	ctx, span := l.span(ctx, "ExpireIfDue",
		attribute.Int64("community.id", communityID),
		attribute.Int64("case.id", id),
	)
	defer span.End()

	err = l.Coord.write(ctx, "expire_case", func(ctx context.Context, tx *gorm.DB) error {
		cur, err := repo.GetCommunityCase(ctx, tx, communityID, id)
		if err != nil {
			return caseLookup(err)
		}
		c = cur
		now := l.Coord.now()
		if cur.Status.Terminal() || !cur.Kind.Bounded() || cur.ExpiresAt == nil || cur.ExpiresAt.After(now) {
			return nil
		}
		n, err := repo.TransitionCase(ctx, tx, id, domain.StatusExpired, map[string]any{"expired_at": now}, now)
		if err != nil || n == 0 {
			return err
		}
		if err := repo.CreateCaseEvent(ctx, tx, &domain.CaseEvent{
			CaseID:      id,
			CommunityID: communityID,
			ActorID:     l.SystemActorID,
			Type:        domain.EventExpired,
			OldValue:    string(cur.Status),
			NewValue:    string(domain.StatusExpired),
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		c, err = repo.GetCase(ctx, tx, id)
		expired = err == nil
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return c, expired, nil
}

// ListDueForExpiry returns active bounded cases whose expiry is at or before
// now across all communities, oldest expiry first.
func (l *Ledger) ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]domain.Case, error) {
	return l.ListDueForExpiryAfter(ctx, now, nil, limit)
}

// ListDueForExpiryAfter is ListDueForExpiry resumed past the case at after, so
// a sweeper can page over rows it failed to expire.
func (l *Ledger) ListDueForExpiryAfter(ctx context.Context, now time.Time, after *repo.DueCursor, limit int) ([]domain.Case, error) {
	limit = clampLimit(limit)
	var out []domain.Case
	err := l.Coord.read(ctx, "list_due", func(ctx context.Context, db *gorm.DB) error {
		var err error
		out, err = repo.ListDueCases(ctx, db, now.UTC(), after, limit)
		return err
	})
	if out == nil {
		out = []domain.Case{}
	}
	return out, err
}

// CaseSummary counts a community's cases per kind and status.
func (l *Ledger) CaseSummary(ctx context.Context, communityID int64) ([]repo.KindCount, error) {
	var out []repo.KindCount
	err := l.Coord.read(ctx, "case_summary", func(ctx context.Context, db *gorm.DB) error {
		var err error
		out, err = repo.CountCasesByKind(ctx, db, communityID)
		return err
	})
	if out == nil {
		out = []repo.KindCount{}
	}
	return out, err
}

// CasesVersion returns the number of cases in a community and their latest
// update time. Handlers derive list ETags from it.
func (l *Ledger) CasesVersion(ctx context.Context, communityID int64) (count int64, latest *time.Time, err error) {
	err = l.Coord.read(ctx, "cases_version", func(ctx context.Context, db *gorm.DB) error {
		var err error
		count, latest, err = repo.CasesStats(ctx, db, communityID)
		return err
	})
	return count, latest, err
}
