package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/d60-Lab/connectnow/internal/model"
)

type CommentRepository interface {
	Create(ctx context.Context, c *model.Comment) error
	ListByPost(ctx context.Context, postID string, offset, limit int) ([]*model.Comment, error)
	CountByAuthorPerPost(ctx context.Context, authorID string) (map[string]int64, error)
	DeleteByAuthor(ctx context.Context, authorID string) error
	DeleteByPosts(ctx context.Context, postIDs []string) error
}

type commentRepository struct{ db *gorm.DB }

func NewCommentRepository(db *gorm.DB) CommentRepository { return &commentRepository{db: db} }

func (r *commentRepository) Create(ctx context.Context, c *model.Comment) error {
	return r.db.WithContext(ctx).Create(c).Error
}

// ListByPost 评论按时间正序
func (r *commentRepository) ListByPost(ctx context.Context, postID string, offset, limit int) ([]*model.Comment, error) {
	var res []*model.Comment
	err := r.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at ASC, id ASC").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}

// CountByAuthorPerPost 统计某用户在每条动态下的评论数，用于级联删除时回退计数
func (r *commentRepository) CountByAuthorPerPost(ctx context.Context, authorID string) (map[string]int64, error) {
	type row struct {
		PostID string
		Cnt    int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).Model(&model.Comment{}).
		Select("post_id, COUNT(*) AS cnt").
		Where("author_id = ?", authorID).
		Group("post_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.PostID] = r.Cnt
	}
	return out, nil
}

func (r *commentRepository) DeleteByAuthor(ctx context.Context, authorID string) error {
	return r.db.WithContext(ctx).Where("author_id = ?", authorID).Delete(&model.Comment{}).Error
}

func (r *commentRepository) DeleteByPosts(ctx context.Context, postIDs []string) error {
	if len(postIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where("post_id IN ?", postIDs).Delete(&model.Comment{}).Error
}
