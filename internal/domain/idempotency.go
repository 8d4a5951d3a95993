package domain

import "time"

// Idempotency records the case produced by a previously processed intent,
// keyed by (community_id, actor_id, key). A retried POST carrying the same
// Idempotency-Key replays the recorded case instead of creating another.
type Idempotency struct {
	ID          string    `gorm:"type:varchar(36);primaryKey"`
	CommunityID int64     `gorm:"not null;uniqueIndex:ux_idem_community_actor_key,priority:1"`
	ActorID     int64     `gorm:"not null;uniqueIndex:ux_idem_community_actor_key,priority:2"`
	Key         string    `gorm:"type:varchar(200);not null;uniqueIndex:ux_idem_community_actor_key,priority:3"`
	CaseID      int64     `gorm:"not null"`
	Status      int       `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt   time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
