// Package domain defines the persistence models for moderation cases,
// warnings, per-community configuration and moderator notes. These types are
// mapped with GORM and form the core data layer of the case ledger.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Case is a durable record of a single moderation action and its lifecycle.
//
// Fields:
//   - ID: store-assigned, strictly increasing primary key.
//   - CommunityID: scope of the case; every lookup is community-scoped.
//   - CaseNumber: per-community sequence (1, 2, 3, ...) shown to moderators.
//   - KindNumber: per-community, per-kind sequence used for labels ("W3").
//   - SourceWarningID: the warning a Warn case records, or the warning that
//     triggered an AutoTimeout.
//   - DurationSeconds / ExpiresAt: set only for bounded kinds (Timeout, AutoTimeout).
//   - Status: active until reversed or expired; both are terminal.
//   - Note: free-form moderator annotation, independent of status.
type Case struct {
	ID              int64      `json:"id"                          gorm:"primaryKey;autoIncrement;index:idx_cases_community_id,priority:2,sort:desc"`
	CommunityID     int64      `json:"community_id"                gorm:"not null;index:idx_cases_community_id,priority:1;index:idx_cases_community_user,priority:1;uniqueIndex:ux_cases_number,priority:1;uniqueIndex:ux_cases_label,priority:1"`
	CaseNumber      int64      `json:"case_number"                 gorm:"not null;uniqueIndex:ux_cases_number,priority:2"`
	Kind            CaseKind   `json:"kind"                        gorm:"type:varchar(16);not null;uniqueIndex:ux_cases_label,priority:2;index:idx_cases_community_user,priority:3"`
	KindNumber      int64      `json:"kind_number"                 gorm:"not null;uniqueIndex:ux_cases_label,priority:3"`
	TargetUserID    int64      `json:"target_user_id"              gorm:"not null;index:idx_cases_community_user,priority:2"`
	ActorID         int64      `json:"actor_id"                    gorm:"not null"`
	Reason          string     `json:"reason"                      gorm:"type:text;not null"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"        gorm:"index"`
	SourceWarningID *int64     `json:"source_warning_id,omitempty" gorm:"index"`
	Status          CaseStatus `json:"status"                      gorm:"type:varchar(16);not null;default:'active';index"`
	ReversedBy      *int64     `json:"reversed_by,omitempty"`
	ReversedAt      *time.Time `json:"reversed_at,omitempty"`
	ExpiredAt       *time.Time `json:"expired_at,omitempty"`
	Note            string     `json:"note,omitempty"              gorm:"type:text;not null;default:''"`
	CreatedAt       time.Time  `json:"created_at"                  gorm:"not null;index:idx_cases_community_user,priority:4"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Case.
func (Case) TableName() string { return "cases" }

// Duration returns the action duration, or zero for unbounded kinds.
func (c *Case) Duration() time.Duration {
	if c.DurationSeconds == nil {
		return 0
	}
	return time.Duration(*c.DurationSeconds) * time.Second
}

// Warning is an immutable audit entry for one warn action. Rows are never
// updated or deleted; reversal happens on the linked Warn case.
type Warning struct {
	ID          int64     `json:"id"           gorm:"primaryKey;autoIncrement"`
	CommunityID int64     `json:"community_id" gorm:"not null;index:idx_warnings_user_time,priority:1"`
	UserID      int64     `json:"user_id"      gorm:"not null;index:idx_warnings_user_time,priority:2"`
	ModeratorID int64     `json:"moderator_id" gorm:"not null"`
	Reason      string    `json:"reason"       gorm:"type:text;not null"`
	WarnedAt    time.Time `json:"warned_at"    gorm:"not null;index:idx_warnings_user_time,priority:3,sort:desc"`
}

// TableName returns the database table name for Warning.
func (Warning) TableName() string { return "warnings" }

// CaseEvent is one audit-trail row for a case transition or edit.
type CaseEvent struct {
	ID          int64     `json:"id"           gorm:"primaryKey;autoIncrement"`
	CaseID      int64     `json:"case_id"      gorm:"not null;index:idx_case_events_case,priority:1"`
	CommunityID int64     `json:"community_id" gorm:"not null"`
	ActorID     int64     `json:"actor_id"     gorm:"not null"`
	Type        EventType `json:"type"         gorm:"type:varchar(32);not null"`
	OldValue    string    `json:"old_value,omitempty" gorm:"type:text;not null;default:''"`
	NewValue    string    `json:"new_value,omitempty" gorm:"type:text;not null;default:''"`
	CreatedAt   time.Time `json:"created_at"   gorm:"not null;index:idx_case_events_case,priority:2"`

	// Case is the audited case. Events go away with their case.
	Case Case `json:"-" gorm:"foreignKey:CaseID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for CaseEvent.
func (CaseEvent) TableName() string { return "case_events" }

// CaseCounter holds one per-community sequence. Code "" numbers every case in
// the community; a kind code ("W", "AT", ...) numbers cases of that kind.
// Updating the row is also how concurrent case creation is serialized.
type CaseCounter struct {
	CommunityID int64  `gorm:"primaryKey;autoIncrement:false"`
	Code        string `gorm:"primaryKey;type:varchar(8)"`
	Value       int64  `gorm:"not null;default:0"`
}

// TableName returns the database table name for CaseCounter.
func (CaseCounter) TableName() string { return "case_counters" }

// EscalationConfig is the per-community automatic escalation policy.
// Missing rows are created lazily with DefaultEscalationConfig values.
type EscalationConfig struct {
	CommunityID          int64     `json:"community_id"           gorm:"primaryKey;autoIncrement:false"`
	Enabled              bool      `json:"enabled"                gorm:"not null"`
	WarnThreshold        int       `json:"warn_threshold"         gorm:"not null;check:warn_threshold >= 1"`
	WarnWindowSeconds    int64     `json:"warn_window_seconds"    gorm:"not null"`
	TimeoutWindowSeconds int64     `json:"timeout_window_seconds" gorm:"not null"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// TableName returns the database table name for EscalationConfig.
func (EscalationConfig) TableName() string { return "escalation_configs" }

// Escalation defaults applied on first access and on reset.
const (
	DefaultWarnThreshold = 3
	DefaultWarnWindow    = 24 * time.Hour
	DefaultTimeoutWindow = 7 * 24 * time.Hour
)

// DefaultEscalationConfig returns the disabled default policy for a community.
func DefaultEscalationConfig(communityID int64) EscalationConfig {
	return EscalationConfig{
		CommunityID:          communityID,
		Enabled:              false,
		WarnThreshold:        DefaultWarnThreshold,
		WarnWindowSeconds:    int64(DefaultWarnWindow / time.Second),
		TimeoutWindowSeconds: int64(DefaultTimeoutWindow / time.Second),
	}
}

// WarnWindow returns the sliding window over which warnings are counted.
func (c EscalationConfig) WarnWindow() time.Duration {
	return time.Duration(c.WarnWindowSeconds) * time.Second
}

// TimeoutWindow returns the duration of automatic timeouts.
func (c EscalationConfig) TimeoutWindow() time.Duration {
	return time.Duration(c.TimeoutWindowSeconds) * time.Second
}

// ModlogConfig stores the channel a collaborator dispatches case records to.
type ModlogConfig struct {
	CommunityID int64     `json:"community_id" gorm:"primaryKey;autoIncrement:false"`
	ChannelID   int64     `json:"channel_id"   gorm:"not null"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for ModlogConfig.
func (ModlogConfig) TableName() string { return "modlog_configs" }

// UserNote is a moderator note about a user, independent of any case.
// Deleted notes are soft-deleted and stay in the table for audit.
type UserNote struct {
	ID          int64          `json:"id"           gorm:"primaryKey;autoIncrement"`
	CommunityID int64          `json:"community_id" gorm:"not null;index:idx_user_notes_user,priority:1"`
	UserID      int64          `json:"user_id"      gorm:"not null;index:idx_user_notes_user,priority:2"`
	AuthorID    int64          `json:"author_id"    gorm:"not null"`
	Content     string         `json:"content"      gorm:"type:text;not null"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-"            gorm:"index"`
}

// TableName returns the database table name for UserNote.
func (UserNote) TableName() string { return "user_notes" }
