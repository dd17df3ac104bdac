package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/connectnow/internal/realtime"
	"github.com/d60-Lab/connectnow/internal/relcache"
	"github.com/d60-Lab/connectnow/internal/repository"
	"github.com/d60-Lab/connectnow/pkg/logger"
)

// Cascader 删除用户及其产生的全部数据（关系、帖子、点赞、评论、会话、通知）
type Cascader struct {
	db    *gorm.DB
	cache *relcache.Cache
	live  *realtime.Broadcaster
}

func NewCascader(db *gorm.DB, cache *relcache.Cache, live *realtime.Broadcaster) *Cascader {
	return &Cascader{db: db, cache: cache, live: live}
}

type cascadeResult struct {
	neighbours []string
	partners   []string
	posts      []string
}

// DeleteUser 在一个事务内完成级联删除。他人帖子上的点赞与评论计数同步回退
func (c *Cascader) DeleteUser(ctx context.Context, userID string) error {
	var res cascadeResult
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = deleteUserTx(ctx, tx, userID)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete user %s: %w", userID, err)
	}

	if c.cache != nil {
		c.cache.Invalidate(ctx, append(res.neighbours, userID)...)
		c.cache.InvalidateUser(ctx, userID)
	}
	topics := []string{realtime.TopicFeed}
	for _, p := range res.posts {
		topics = append(topics, realtime.PostTopic(p))
	}
	for _, p := range res.partners {
		topics = append(topics, realtime.ConversationsTopic(p), realtime.NotificationsTopic(p))
	}
	c.live.Signal(topics...)
	logger.Info("user deleted",
		zap.String("user", userID),
		zap.Int("posts", len(res.posts)),
		zap.Int("edges", len(res.neighbours)))
	return nil
}

func deleteUserTx(ctx context.Context, tx *gorm.DB, userID string) (cascadeResult, error) {
	var res cascadeResult
	users := repository.NewUserRepository(tx)
	follows := repository.NewFollowRepository(tx)
	posts := repository.NewPostRepository(tx)
	likes := repository.NewLikeRepository(tx)
	comments := repository.NewCommentRepository(tx)
	convs := repository.NewConversationRepository(tx)
	messages := repository.NewMessageRepository(tx)
	notifs := repository.NewNotificationRepository(tx)
	outbox := repository.NewOutboxRepository(tx)

	following, err := follows.FollowingIDs(ctx, userID)
	if err != nil {
		return res, err
	}
	followers, err := follows.ListFollowers(ctx, userID, 0, -1)
	if err != nil {
		return res, err
	}
	res.neighbours = append(res.neighbours, following...)
	for _, f := range followers {
		res.neighbours = append(res.neighbours, f.FollowerID)
	}

	own, err := posts.IDsByAuthor(ctx, userID)
	if err != nil {
		return res, err
	}
	res.posts = own
	owned := make(map[string]bool, len(own))
	for _, id := range own {
		owned[id] = true
	}

	// 回退他人帖子上的计数
	liked, err := likes.PostIDsByUser(ctx, userID)
	if err != nil {
		return res, err
	}
	for _, postID := range liked {
		if owned[postID] {
			continue
		}
		if err := posts.IncrLikes(ctx, postID, -1); err != nil {
			return res, err
		}
		res.posts = append(res.posts, postID)
	}
	perPost, err := comments.CountByAuthorPerPost(ctx, userID)
	if err != nil {
		return res, err
	}
	for postID, n := range perPost {
		if owned[postID] {
			continue
		}
		if err := posts.IncrComments(ctx, postID, -int(n)); err != nil {
			return res, err
		}
		res.posts = append(res.posts, postID)
	}

	if err := likes.DeleteByUser(ctx, userID); err != nil {
		return res, err
	}
	if err := comments.DeleteByAuthor(ctx, userID); err != nil {
		return res, err
	}
	if len(own) > 0 {
		if err := likes.DeleteByPosts(ctx, own); err != nil {
			return res, err
		}
		if err := comments.DeleteByPosts(ctx, own); err != nil {
			return res, err
		}
		if err := notifs.DeleteByPosts(ctx, own); err != nil {
			return res, err
		}
		if err := posts.DeleteByIDs(ctx, own); err != nil {
			return res, err
		}
	}
	if err := follows.DeleteByUser(ctx, userID); err != nil {
		return res, err
	}

	conversations, err := convs.ListForUser(ctx, userID, -1)
	if err != nil {
		return res, err
	}
	if len(conversations) > 0 {
		ids := make([]string, len(conversations))
		for i, conv := range conversations {
			ids[i] = conv.ID
			res.partners = append(res.partners, conv.Other(userID))
		}
		if err := messages.DeleteByConversations(ctx, ids); err != nil {
			return res, err
		}
		if err := convs.DeleteByIDs(ctx, ids); err != nil {
			return res, err
		}
	}

	if err := notifs.DeleteByUser(ctx, userID); err != nil {
		return res, err
	}
	if err := outbox.DeleteByUser(ctx, userID); err != nil {
		return res, err
	}
	return res, users.Delete(ctx, userID)
}
