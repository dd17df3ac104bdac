package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/d60-Lab/connectnow/internal/model"
)

type MessageRepository interface {
	Create(ctx context.Context, msg *model.Message) error
	ListByConversation(ctx context.Context, conversationID string, offset, limit int) ([]*model.Message, error)
	Recent(ctx context.Context, conversationID string, n int) ([]*model.Message, error)
	Count(ctx context.Context, conversationID string) (int64, error)
	DeleteByConversations(ctx context.Context, ids []string) error
}

type messageRepository struct{ db *gorm.DB }

func NewMessageRepository(db *gorm.DB) MessageRepository { return &messageRepository{db: db} }

func (r *messageRepository) Create(ctx context.Context, msg *model.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// ListByConversation 消息按时间正序
func (r *messageRepository) ListByConversation(ctx context.Context, conversationID string, offset, limit int) ([]*model.Message, error) {
	var res []*model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}

// Recent 取最近 n 条，结果仍按时间正序
func (r *messageRepository) Recent(ctx context.Context, conversationID string, n int) ([]*model.Message, error) {
	var res []*model.Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(n).
		Find(&res).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res, nil
}

func (r *messageRepository) Count(ctx context.Context, conversationID string) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.Message{}).Where("conversation_id = ?", conversationID).Count(&cnt).Error
	return cnt, err
}

func (r *messageRepository) DeleteByConversations(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where("conversation_id IN ?", ids).Delete(&model.Message{}).Error
}
