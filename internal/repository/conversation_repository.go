package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/connectnow/internal/model"
)

type ConversationRepository interface {
	CreateIfAbsent(ctx context.Context, conv *model.Conversation) error
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]*model.Conversation, error)
	UpdateLastMessage(ctx context.Context, msg *model.Message) error
	IDsForUser(ctx context.Context, userID string) ([]string, error)
	DeleteByIDs(ctx context.Context, ids []string) error
}

type conversationRepository struct{ db *gorm.DB }

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// CreateIfAbsent 主键由参与者对确定，冲突即说明已存在
func (r *conversationRepository) CreateIfAbsent(ctx context.Context, conv *model.Conversation) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(conv).Error
}

func (r *conversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	var c model.Conversation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListForUser 按最近活跃时间倒序
func (r *conversationRepository) ListForUser(ctx context.Context, userID string, limit int) ([]*model.Conversation, error) {
	var res []*model.Conversation
	err := r.db.WithContext(ctx).
		Where("user_a_id = ? OR user_b_id = ?", userID, userID).
		Order("activity_at DESC, id DESC").
		Limit(limit).
		Find(&res).Error
	return res, err
}

// UpdateLastMessage 更新会话的冗余最新消息指针；指针只前进，
// 比当前指针更早的消息不覆盖
func (r *conversationRepository) UpdateLastMessage(ctx context.Context, msg *model.Message) error {
	db := r.db.WithContext(ctx)
	res := db.Model(&model.Conversation{}).
		Where("id = ? AND (last_message_at IS NULL OR last_message_at <= ?)", msg.ConversationID, msg.CreatedAt).
		Updates(map[string]interface{}{
			"last_message_id":   msg.ID,
			"last_message_text": msg.Text,
			"last_sender_id":    msg.SenderID,
			"last_message_at":   msg.CreatedAt,
			"activity_at":       msg.CreatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var n int64
	if err := db.Model(&model.Conversation{}).Where("id = ?", msg.ConversationID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *conversationRepository) IDsForUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("user_a_id = ? OR user_b_id = ?", userID, userID).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *conversationRepository) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.Conversation{}).Error
}
