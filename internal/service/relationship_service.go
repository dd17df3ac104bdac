package service

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/d60-Lab/connectnow/internal/model"
	"github.com/d60-Lab/connectnow/internal/relcache"
	"github.com/d60-Lab/connectnow/internal/repository"
	"github.com/d60-Lab/connectnow/pkg/metrics"
)

// FollowCounts 主页展示的关注/粉丝数
type FollowCounts struct {
	Followers int64 `json:"followers"`
	Following int64 `json:"following"`
}

// RelationshipService 关系链服务
type RelationshipService interface {
	Follow(ctx context.Context, fromUserID, toUserID string) error
	Unfollow(ctx context.Context, fromUserID, toUserID string) error
	ListFollowing(ctx context.Context, userID string, page, pageSize int) ([]model.UserSnapshot, error)
	ListFollowers(ctx context.Context, userID string, page, pageSize int) ([]model.UserSnapshot, error)
	IsFollowing(ctx context.Context, fromUserID, toUserID string) (bool, error)
	Counts(ctx context.Context, userID string) (FollowCounts, error)
}

type relationshipService struct {
	db         *gorm.DB
	followRepo repository.FollowRepository
	userRepo   repository.UserRepository
	cache      *relcache.Cache
}

// NewRelationshipService cache 可为 nil，此时直接查库
func NewRelationshipService(db *gorm.DB, followRepo repository.FollowRepository, userRepo repository.UserRepository, cache *relcache.Cache) RelationshipService {
	return &relationshipService{db: db, followRepo: followRepo, userRepo: userRepo, cache: cache}
}

// Follow 关注边与 follow 事件在同一事务内写入，重复关注不产生新事件
func (s *relationshipService) Follow(ctx context.Context, fromUserID, toUserID string) (err error) {
	defer func() { metrics.Observe("follow", err) }()
	if fromUserID == toUserID {
		return ErrFollowSelf
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := repository.NewUserRepository(tx).GetByIDs(ctx, []string{fromUserID, toUserID})
		if err != nil {
			return err
		}
		if len(found) < 2 {
			return ErrUserNotFound
		}
		created, err := repository.NewFollowRepository(tx).Create(ctx, fromUserID, toUserID)
		if err != nil {
			return err
		}
		if !created {
			return nil
		}
		return repository.NewOutboxRepository(tx).Enqueue(ctx, model.NotificationFollow, fromUserID, toUserID, nil)
	})
	if err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, fromUserID, toUserID)
	}
	return nil
}

// Unfollow 删除 from→to 的全部边；已生成的通知保留
func (s *relationshipService) Unfollow(ctx context.Context, fromUserID, toUserID string) (err error) {
	defer func() { metrics.Observe("unfollow", err) }()
	if _, err = s.followRepo.Delete(ctx, fromUserID, toUserID); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, fromUserID, toUserID)
	}
	return nil
}

func (s *relationshipService) ListFollowing(ctx context.Context, userID string, page, pageSize int) ([]model.UserSnapshot, error) {
	page, pageSize = normalizePage(page, pageSize)
	offset := (page - 1) * pageSize
	items, err := s.followRepo.ListFollowings(ctx, userID, offset, pageSize)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.FolloweeID
	}
	return s.snapshots(ctx, ids)
}

func (s *relationshipService) ListFollowers(ctx context.Context, userID string, page, pageSize int) ([]model.UserSnapshot, error) {
	page, pageSize = normalizePage(page, pageSize)
	var ids []string
	if s.cache != nil {
		cached, err := s.cache.FollowerIDs(ctx, userID, page, pageSize)
		if err != nil {
			return nil, err
		}
		ids = cached
	} else {
		items, err := s.followRepo.ListFollowers(ctx, userID, (page-1)*pageSize, pageSize)
		if err != nil {
			return nil, err
		}
		ids = make([]string, len(items))
		for i, it := range items {
			ids[i] = it.FollowerID
		}
	}
	return s.snapshots(ctx, ids)
}

func (s *relationshipService) IsFollowing(ctx context.Context, fromUserID, toUserID string) (bool, error) {
	if s.cache != nil {
		return s.cache.IsFollowing(ctx, fromUserID, toUserID)
	}
	return s.followRepo.Exists(ctx, fromUserID, toUserID)
}

func (s *relationshipService) Counts(ctx context.Context, userID string) (FollowCounts, error) {
	var c FollowCounts
	var err error
	if c.Followers, err = s.followRepo.CountFollowers(ctx, userID); err != nil {
		return c, err
	}
	if c.Following, err = s.followRepo.CountFollowings(ctx, userID); err != nil {
		return c, err
	}
	return c, nil
}

// snapshots 按 ids 顺序返回用户快照，已删除的用户被跳过
func (s *relationshipService) snapshots(ctx context.Context, ids []string) ([]model.UserSnapshot, error) {
	if s.cache != nil {
		return s.cache.Users(ctx, ids)
	}
	found, err := s.userRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	res := make([]model.UserSnapshot, 0, len(ids))
	for _, id := range ids {
		if u, ok := found[id]; ok {
			res = append(res, u.Snapshot())
		}
	}
	return res, nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

func isNotFound(err error) bool { return errors.Is(err, gorm.ErrRecordNotFound) }
