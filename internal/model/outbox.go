package model

import "time"

const (
	OutboxPending    = "pending"
	OutboxProcessing = "processing"
	OutboxDone       = "done"
)

// Outbox 领域事件外发盒：关注、点赞与业务写入同事务落地，由通知 worker 异步物化为通知
type Outbox struct {
	ID          string     `gorm:"primaryKey;type:varchar(36)"`
	Kind        string     `gorm:"type:varchar(16);not null"`
	ActorID     string     `gorm:"type:varchar(36);index:idx_outbox_actor;not null"`
	TargetID    string     `gorm:"type:varchar(36);not null"`
	PostID      *string    `gorm:"type:varchar(36)"`
	Status      string     `gorm:"type:varchar(16);index"` // pending, processing, done
	CreatedAt   time.Time  `gorm:"index"`
	ClaimedAt   *time.Time `gorm:"index"` // processing 租约起点，超时后可被重新认领
	ProcessedAt *time.Time
}

func (Outbox) TableName() string { return "outbox" }
