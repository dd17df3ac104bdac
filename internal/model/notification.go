package model

import "time"

const (
	NotificationLike   = "like"
	NotificationFollow = "follow"
)

// Notification 通知，只有 read 标记可变，且只能从未读变为已读
type Notification struct {
	ID         string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Kind       string     `json:"kind" gorm:"type:varchar(16);index:idx_notif_dedupe;not null"`
	FromUserID string     `json:"from_user_id" gorm:"type:varchar(36);index:idx_notif_dedupe;not null"`
	ToUserID   string     `json:"to_user_id" gorm:"type:varchar(36);index:idx_notif_to_created;not null"`
	PostID     *string    `json:"post_id,omitempty" gorm:"type:varchar(36)"`
	Read       bool       `json:"read" gorm:"column:is_read;not null;default:false"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at" gorm:"index:idx_notif_to_created"`
}

func (Notification) TableName() string { return "notifications" }
