package model

import "time"

// Follow 有向关注边 follower -> followee。边表是关系链的唯一权威数据，
// 粉丝/关注列表、关注通知都由它派生；(follower_id, followee_id) 唯一，边本身不可变。
type Follow struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	FollowerID string    `json:"follower_id" gorm:"type:varchar(36);uniqueIndex:idx_follow_pair;index:idx_follow_follower_created,priority:1;not null"`
	FolloweeID string    `json:"followee_id" gorm:"type:varchar(36);uniqueIndex:idx_follow_pair;index:idx_follow_followee_created,priority:1;not null"`
	CreatedAt  time.Time `json:"created_at" gorm:"index:idx_follow_follower_created,priority:2;index:idx_follow_followee_created,priority:2"`
}

func (Follow) TableName() string { return "follows" }
