package service

import (
	"context"
	"time"

	"github.com/d60-Lab/connectnow/internal/model"
	"github.com/d60-Lab/connectnow/internal/realtime"
	"github.com/d60-Lab/connectnow/internal/repository"
	"github.com/d60-Lab/connectnow/pkg/metrics"
)

const (
	excerptRunes    = 30
	fallbackExcerpt = "your post"
)

// NotificationView 读取时关联来源用户与帖子摘要
type NotificationView struct {
	*model.Notification
	From        model.UserSnapshot `json:"from"`
	PostExcerpt string             `json:"post_excerpt,omitempty"`
}

// NotificationService 通知列表与已读
type NotificationService interface {
	List(ctx context.Context, userID string, page, pageSize int) ([]NotificationView, error)
	MarkRead(ctx context.Context, notificationID, userID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

type notificationService struct {
	notifs repository.NotificationRepository
	users  repository.UserRepository
	posts  repository.PostRepository
	live   *realtime.Broadcaster
}

func NewNotificationService(notifs repository.NotificationRepository, users repository.UserRepository, posts repository.PostRepository, live *realtime.Broadcaster) NotificationService {
	return &notificationService{notifs: notifs, users: users, posts: posts, live: live}
}

func (s *notificationService) List(ctx context.Context, userID string, page, pageSize int) ([]NotificationView, error) {
	page, pageSize = normalizePage(page, pageSize)
	items, err := s.notifs.ListForUser(ctx, userID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, err
	}
	fromIDs := make([]string, len(items))
	for i, n := range items {
		fromIDs[i] = n.FromUserID
	}
	senders, err := s.users.GetByIDs(ctx, fromIDs)
	if err != nil {
		return nil, err
	}

	excerpts := map[string]string{}
	views := make([]NotificationView, 0, len(items))
	for _, n := range items {
		from, ok := senders[n.FromUserID]
		if !ok {
			continue
		}
		v := NotificationView{Notification: n, From: from.Snapshot()}
		if n.Kind == model.NotificationLike {
			v.PostExcerpt = fallbackExcerpt
			if n.PostID != nil {
				ex, seen := excerpts[*n.PostID]
				if !seen {
					ex = s.excerpt(ctx, *n.PostID)
					excerpts[*n.PostID] = ex
				}
				v.PostExcerpt = ex
			}
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *notificationService) excerpt(ctx context.Context, postID string) string {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil || post.Content == "" {
		return fallbackExcerpt
	}
	return Excerpt(post.Content, excerptRunes)
}

// Excerpt 截取前 n 个字符，超长时追加 "..."
func Excerpt(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}

// MarkRead 只有接收者可以标记；已读通知再次标记为空操作
func (s *notificationService) MarkRead(ctx context.Context, notificationID, userID string) (err error) {
	defer func() { metrics.Observe("mark_read", err) }()
	n, err := s.notifs.GetByID(ctx, notificationID)
	if err != nil {
		if isNotFound(err) {
			return ErrNotificationNotFound
		}
		return err
	}
	if n.ToUserID != userID {
		return ErrForbidden
	}
	if n.Read {
		return nil
	}
	if err := s.notifs.MarkRead(ctx, notificationID, time.Now().UTC()); err != nil {
		return err
	}
	s.live.Signal(realtime.NotificationsTopic(userID))
	return nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.notifs.MarkAllRead(ctx, userID, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.live.Signal(realtime.NotificationsTopic(userID))
	}
	return n, nil
}

func (s *notificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.notifs.CountUnread(ctx, userID)
}
