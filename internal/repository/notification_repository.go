package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/connectnow/internal/model"
)

type NotificationRepository interface {
	Create(ctx context.Context, n *model.Notification) error
	GetByID(ctx context.Context, id string) (*model.Notification, error)
	ExistsUnread(ctx context.Context, kind, fromUserID, toUserID string, postID *string) (bool, error)
	ListForUser(ctx context.Context, toUserID string, offset, limit int) ([]*model.Notification, error)
	MarkRead(ctx context.Context, id string, at time.Time) error
	MarkAllRead(ctx context.Context, toUserID string, at time.Time) (int64, error)
	CountUnread(ctx context.Context, toUserID string) (int64, error)
	DeleteReadBefore(ctx context.Context, before time.Time) (int64, error)
	DeleteByUser(ctx context.Context, userID string) error
	DeleteByPosts(ctx context.Context, postIDs []string) error
}

type notificationRepository struct{ db *gorm.DB }

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *notificationRepository) GetByID(ctx context.Context, id string) (*model.Notification, error) {
	var n model.Notification
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

// ExistsUnread 是否已存在等价的未读通知（同类型、同来源、同目标，点赞还需同一动态）
func (r *notificationRepository) ExistsUnread(ctx context.Context, kind, fromUserID, toUserID string, postID *string) (bool, error) {
	q := r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("kind = ? AND from_user_id = ? AND to_user_id = ? AND is_read = ?", kind, fromUserID, toUserID, false)
	if postID != nil {
		q = q.Where("post_id = ?", *postID)
	}
	var cnt int64
	if err := q.Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (r *notificationRepository) ListForUser(ctx context.Context, toUserID string, offset, limit int) ([]*model.Notification, error) {
	var res []*model.Notification
	err := r.db.WithContext(ctx).
		Where("to_user_id = ?", toUserID).
		Order("created_at DESC, id DESC").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}

// MarkRead 单向迁移：只更新未读记录，重复调用无副作用
func (r *notificationRepository) MarkRead(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ? AND is_read = ?", id, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at}).Error
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, toUserID string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("to_user_id = ? AND is_read = ?", toUserID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at})
	return res.RowsAffected, res.Error
}

func (r *notificationRepository) CountUnread(ctx context.Context, toUserID string) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("to_user_id = ? AND is_read = ?", toUserID, false).
		Count(&cnt).Error
	return cnt, err
}

func (r *notificationRepository) DeleteReadBefore(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("is_read = ? AND read_at < ?", true, before).
		Delete(&model.Notification{})
	return res.RowsAffected, res.Error
}

func (r *notificationRepository) DeleteByUser(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).
		Where("from_user_id = ? OR to_user_id = ?", userID, userID).
		Delete(&model.Notification{}).Error
}

func (r *notificationRepository) DeleteByPosts(ctx context.Context, postIDs []string) error {
	if len(postIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where("post_id IN ?", postIDs).Delete(&model.Notification{}).Error
}
