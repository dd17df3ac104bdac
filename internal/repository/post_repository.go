package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/connectnow/internal/model"
)

type PostRepository interface {
	Create(ctx context.Context, post *model.Post) error
	GetByID(ctx context.Context, id string) (*model.Post, error)
	List(ctx context.Context, before *time.Time, limit int) ([]*model.Post, error)
	ListByAuthor(ctx context.Context, authorID string, before *time.Time, limit int) ([]*model.Post, error)
	IDsByAuthor(ctx context.Context, authorID string) ([]string, error)
	IncrLikes(ctx context.Context, id string, delta int) error
	IncrComments(ctx context.Context, id string, delta int) error
	DeleteByIDs(ctx context.Context, ids []string) error
}

type postRepository struct{ db *gorm.DB }

func NewPostRepository(db *gorm.DB) PostRepository { return &postRepository{db: db} }

func (r *postRepository) Create(ctx context.Context, post *model.Post) error {
	return r.db.WithContext(ctx).Create(post).Error
}

func (r *postRepository) GetByID(ctx context.Context, id string) (*model.Post, error) {
	var p model.Post
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// List 按创建时间倒序，before 为游标（不含）
func (r *postRepository) List(ctx context.Context, before *time.Time, limit int) ([]*model.Post, error) {
	q := r.db.WithContext(ctx)
	if before != nil {
		q = q.Where("created_at < ?", *before)
	}
	var res []*model.Post
	err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&res).Error
	return res, err
}

func (r *postRepository) ListByAuthor(ctx context.Context, authorID string, before *time.Time, limit int) ([]*model.Post, error) {
	q := r.db.WithContext(ctx).Where("author_id = ?", authorID)
	if before != nil {
		q = q.Where("created_at < ?", *before)
	}
	var res []*model.Post
	err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&res).Error
	return res, err
}

func (r *postRepository) IDsByAuthor(ctx context.Context, authorID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.Post{}).Where("author_id = ?", authorID).Pluck("id", &ids).Error
	return ids, err
}

// IncrLikes 计数在存储层原子增减
func (r *postRepository) IncrLikes(ctx context.Context, id string, delta int) error {
	return r.db.WithContext(ctx).Model(&model.Post{}).
		Where("id = ?", id).
		UpdateColumn("like_count", gorm.Expr("like_count + ?", delta)).Error
}

func (r *postRepository) IncrComments(ctx context.Context, id string, delta int) error {
	return r.db.WithContext(ctx).Model(&model.Post{}).
		Where("id = ?", id).
		UpdateColumn("comment_count", gorm.Expr("comment_count + ?", delta)).Error
}

func (r *postRepository) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.Post{}).Error
}
