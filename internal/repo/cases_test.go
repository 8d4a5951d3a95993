package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-modcases/internal/domain"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// seedCase allocates numbers and inserts a case in its own transaction.
func seedCase(t *testing.T, db *gorm.DB, c *domain.Case) *domain.Case {
	t.Helper()
	ctx := context.Background()
	if c.Status == "" {
		c.Status = domain.StatusActive
	}
	if c.Reason == "" {
		c.Reason = "reason"
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = t0
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		n, k, err := NextCaseNumbers(ctx, tx, c.CommunityID, c.Kind)
		if err != nil {
			return err
		}
		c.CaseNumber, c.KindNumber = n, k
		return CreateCase(ctx, tx, c)
	})
	if err != nil {
		t.Fatalf("seed case: %v", err)
	}
	return c
}

func TestNextCaseNumbers_PerCommunityAndKind(t *testing.T) {
	db := newRepoDB(t)

	a := seedCase(t, db, &domain.Case{CommunityID: 1, Kind: domain.KindWarn, TargetUserID: 5})
	b := seedCase(t, db, &domain.Case{CommunityID: 1, Kind: domain.KindBan, TargetUserID: 5})
	c := seedCase(t, db, &domain.Case{CommunityID: 1, Kind: domain.KindWarn, TargetUserID: 6})
	other := seedCase(t, db, &domain.Case{CommunityID: 2, Kind: domain.KindWarn, TargetUserID: 5})

	if a.CaseNumber != 1 || b.CaseNumber != 2 || c.CaseNumber != 3 {
		t.Fatalf("case numbers = %d,%d,%d; want 1,2,3", a.CaseNumber, b.CaseNumber, c.CaseNumber)
	}
	if a.Label() != "W1" || b.Label() != "B1" || c.Label() != "W2" {
		t.Fatalf("labels = %s,%s,%s", a.Label(), b.Label(), c.Label())
	}
	if other.CaseNumber != 1 || other.Label() != "W1" {
		t.Fatalf("other community should start at 1, got %d/%s", other.CaseNumber, other.Label())
	}
	if !(a.ID < b.ID && b.ID < c.ID) {
		t.Fatalf("ids must increase: %d %d %d", a.ID, b.ID, c.ID)
	}
}

func TestNextCaseNumbers_RolledBackWithTransaction(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	sentinel := errors.New("abort")
	err := db.Transaction(func(tx *gorm.DB) error {
		if _, _, err := NextCaseNumbers(ctx, tx, 9, domain.KindKick); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}

	c := seedCase(t, db, &domain.Case{CommunityID: 9, Kind: domain.KindKick, TargetUserID: 1})
	if c.CaseNumber != 1 || c.KindNumber != 1 {
		t.Fatalf("rolled back allocation must not leave a gap, got %d/%d", c.CaseNumber, c.KindNumber)
	}
}

func TestGetCase_Variants(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	c := seedCase(t, db, &domain.Case{CommunityID: 1, Kind: domain.KindTimeout, TargetUserID: 5})

	if got, err := GetCase(ctx, db, c.ID); err != nil || got.ID != c.ID {
		t.Fatalf("GetCase: %v %+v", err, got)
	}
	if _, err := GetCase(ctx, db, c.ID+100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := GetCommunityCase(ctx, db, 2, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("case must not be visible from another community, got %v", err)
	}
	got, err := GetCaseByLabel(ctx, db, 1, domain.KindTimeout, 1)
	if err != nil || got.ID != c.ID {
		t.Fatalf("GetCaseByLabel: %v %+v", err, got)
	}
}

func TestListCases_CursorPagination(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 7; i++ {
		user := int64(5)
		if i%2 == 1 {
			user = 6
		}
		c := seedCase(t, db, &domain.Case{CommunityID: 1, Kind: domain.KindKick, TargetUserID: user})
		ids = append(ids, c.ID)
	}
	seedCase(t, db, &domain.Case{CommunityID: 2, Kind: domain.KindKick, TargetUserID: 5})

	seen := map[int64]bool{}
	var before int64
	pages := 0
	for {
		page, err := ListCases(ctx, db, 1, nil, before, 3)
		if err != nil {
			t.Fatalf("ListCases: %v", err)
		}
		if len(page) == 0 {
			break
		}
		pages++
		for i, c := range page {
			if seen[c.ID] {
				t.Fatalf("case %d returned twice", c.ID)
			}
			seen[c.ID] = true
			if i > 0 && page[i-1].ID <= c.ID {
				t.Fatalf("page not in descending id order")
			}
		}
		before = page[len(page)-1].ID
	}
	if len(seen) != len(ids) || pages != 3 {
		t.Fatalf("saw %d cases over %d pages; want %d over 3", len(seen), pages, len(ids))
	}

	user := int64(6)
	only, err := ListCases(ctx, db, 1, &user, 0, 50)
	if err != nil {
		t.Fatalf("ListCases user: %v", err)
	}
	if len(only) != 3 {
		t.Fatalf("expected 3 cases for user 6, got %d", len(only))
	}
}

func TestTransitionCase_OnlyFromActive(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	c := seedCase(t, db, &domain.Case{CommunityID: 1, Kind: domain.KindBan, TargetUserID: 5})

	now := t0.Add(time.Hour)
	n, err := TransitionCase(ctx, db, c.ID, domain.StatusReversed, map[string]any{"reversed_by": int64(77), "reversed_at": now}, now)
	if err != nil || n != 1 {
		t.Fatalf("first transition: n=%d err=%v", n, err)
	}
	n, err = TransitionCase(ctx, db, c.ID, domain.StatusExpired, map[string]any{"expired_at": now}, now)
	if err != nil || n != 0 {
		t.Fatalf("terminal case must not transition: n=%d err=%v", n, err)
	}

	got, _ := GetCase(ctx, db, c.ID)
	if got.Status != domain.StatusReversed || got.ReversedBy == nil || *got.ReversedBy != 77 || got.ExpiredAt != nil {
		t.Fatalf("unexpected case after transitions: %+v", got)
	}
}

func TestUpdateCaseNoteAndReason(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	c := seedCase(t, db, &domain.Case{CommunityID: 1, Kind: domain.KindBan, TargetUserID: 5})

	if err := UpdateCaseNote(ctx, db, c.ID, "appealed", t0); err != nil {
		t.Fatalf("UpdateCaseNote: %v", err)
	}
	if err := UpdateCaseReason(ctx, db, c.ID, "raid", t0); err != nil {
		t.Fatalf("UpdateCaseReason: %v", err)
	}
	if err := UpdateCaseNote(ctx, db, c.ID+1, "x", t0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	got, _ := GetCase(ctx, db, c.ID)
	if got.Note != "appealed" || got.Reason != "raid" {
		t.Fatalf("unexpected case: %+v", got)
	}
}

func TestListDueCases(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	past := t0.Add(-time.Minute)
	future := t0.Add(time.Hour)
	due := seedCase(t, db, &domain.Case{CommunityID: 1, Kind: domain.KindTimeout, TargetUserID: 5, ExpiresAt: &past})
	seedCase(t, db, &domain.Case{CommunityID: 1, Kind: domain.KindTimeout, TargetUserID: 6, ExpiresAt: &future})
	seedCase(t, db, &domain.Case{CommunityID: 1, Kind: domain.KindBan, TargetUserID: 7})
	reversed := seedCase(t, db, &domain.Case{CommunityID: 1, Kind: domain.KindTimeout, TargetUserID: 8, ExpiresAt: &past, Status: domain.StatusReversed})

	out, err := ListDueCases(ctx, db, t0, nil, 10)
	if err != nil {
		t.Fatalf("ListDueCases: %v", err)
	}
	if len(out) != 1 || out[0].ID != due.ID {
		t.Fatalf("expected only case %d to be due, got %+v (reversed=%d)", due.ID, out, reversed.ID)
	}
}

func TestListDueCases_ResumesAfterCursor(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	early := t0.Add(-time.Hour)
	late := t0.Add(-time.Minute)
	a := seedCase(t, db, &domain.Case{CommunityID: 1, Kind: domain.KindTimeout, TargetUserID: 5, ExpiresAt: &early})
	b := seedCase(t, db, &domain.Case{CommunityID: 1, Kind: domain.KindTimeout, TargetUserID: 6, ExpiresAt: &late})
	c := seedCase(t, db, &domain.Case{CommunityID: 2, Kind: domain.KindTimeout, TargetUserID: 7, ExpiresAt: &late})

	var (
		got   []int64
		after *DueCursor
	)
	for i := 0; i < 5; i++ {
		page, err := ListDueCases(ctx, db, t0, after, 1)
		if err != nil {
			t.Fatalf("ListDueCases: %v", err)
		}
		if len(page) == 0 {
			break
		}
		got = append(got, page[0].ID)
		after = &DueCursor{ExpiresAt: *page[0].ExpiresAt, ID: page[0].ID}
	}
	if len(got) != 3 || got[0] != a.ID || got[1] != b.ID || got[2] != c.ID {
		t.Fatalf("pages = %v; want [%d %d %d]", got, a.ID, b.ID, c.ID)
	}
}

func TestEscalationExists_BurstScoped(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	old := &domain.Warning{CommunityID: 1, UserID: 5, ModeratorID: 9, Reason: "r", WarnedAt: t0.Add(-30 * time.Hour)}
	recent := &domain.Warning{CommunityID: 1, UserID: 5, ModeratorID: 9, Reason: "r", WarnedAt: t0.Add(-time.Hour)}
	for _, w := range []*domain.Warning{old, recent} {
		if err := CreateWarning(ctx, db, w); err != nil {
			t.Fatalf("CreateWarning: %v", err)
		}
	}
	since := t0.Add(-24 * time.Hour)

	exists, err := EscalationExists(ctx, db, 1, 5, since)
	if err != nil || exists {
		t.Fatalf("no escalation yet: exists=%v err=%v", exists, err)
	}

	// AutoTimeout created inside the window but triggered by a warning outside it.
	seedCase(t, db, &domain.Case{CommunityID: 1, Kind: domain.KindAutoTimeout, TargetUserID: 5, SourceWarningID: &old.ID, CreatedAt: t0.Add(-2 * time.Hour)})
	if exists, _ = EscalationExists(ctx, db, 1, 5, since); exists {
		t.Fatalf("escalation from a previous burst must not count")
	}

	seedCase(t, db, &domain.Case{CommunityID: 1, Kind: domain.KindAutoTimeout, TargetUserID: 5, SourceWarningID: &recent.ID, CreatedAt: t0.Add(-time.Hour), Status: domain.StatusReversed})
	if exists, _ = EscalationExists(ctx, db, 1, 5, since); !exists {
		t.Fatalf("escalation in the current burst must count even when reversed")
	}
	if exists, _ = EscalationExists(ctx, db, 1, 6, since); exists {
		t.Fatalf("escalation must be scoped to the user")
	}
}
