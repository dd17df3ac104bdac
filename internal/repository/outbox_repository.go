package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/connectnow/internal/model"
)

type OutboxRepository interface {
	Enqueue(ctx context.Context, kind, actorID, targetID string, postID *string) error
	Claim(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]*model.Outbox, error)
	MarkDone(ctx context.Context, id string, at time.Time) error
	Release(ctx context.Context, id string) error
	DeleteDoneBefore(ctx context.Context, before time.Time) (int64, error)
	DeleteByUser(ctx context.Context, userID string) error
}

type outboxRepository struct{ db *gorm.DB }

func NewOutboxRepository(db *gorm.DB) OutboxRepository { return &outboxRepository{db: db} }

func (r *outboxRepository) Enqueue(ctx context.Context, kind, actorID, targetID string, postID *string) error {
	ev := &model.Outbox{
		ID:       uuid.New().String(),
		Kind:     kind,
		ActorID:  actorID,
		TargetID: targetID,
		PostID:   postID,
		Status:   model.OutboxPending,
	}
	return r.db.WithContext(ctx).Create(ev).Error
}

// Claim 事务内认领一批事件并置为 processing，记录认领时间 now。
// pending 行之外，认领超过 lease 仍未完成的 processing 行（worker 崩溃或 MarkDone 失败）也会被重新认领。
// PostgreSQL 下使用 FOR UPDATE SKIP LOCKED 让多个 worker 互不阻塞。
func (r *outboxRepository) Claim(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]*model.Outbox, error) {
	var batch []*model.Outbox
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ?", model.OutboxPending).
			Or("status = ? AND claimed_at < ?", model.OutboxProcessing, now.Add(-lease)).
			Order("created_at, id").Limit(limit)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		ids := make([]string, len(batch))
		for i, b := range batch {
			ids[i] = b.ID
		}
		return tx.Model(&model.Outbox{}).Where("id IN ?", ids).
			Updates(map[string]interface{}{"status": model.OutboxProcessing, "claimed_at": now}).Error
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (r *outboxRepository) MarkDone(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Outbox{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": model.OutboxDone, "processed_at": at}).Error
}

// Release 处理失败时放回 pending，等待下一轮
func (r *outboxRepository) Release(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&model.Outbox{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": model.OutboxPending, "claimed_at": nil}).Error
}

func (r *outboxRepository) DeleteDoneBefore(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND processed_at < ?", model.OutboxDone, before).
		Delete(&model.Outbox{})
	return res.RowsAffected, res.Error
}

func (r *outboxRepository) DeleteByUser(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).
		Where("actor_id = ? OR target_id = ?", userID, userID).
		Delete(&model.Outbox{}).Error
}
