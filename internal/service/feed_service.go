package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/connectnow/internal/model"
	"github.com/d60-Lab/connectnow/internal/realtime"
	"github.com/d60-Lab/connectnow/internal/repository"
	"github.com/d60-Lab/connectnow/pkg/metrics"
)

// PostView 动态列表行：帖子 + 作者 + 当前用户是否已点赞
type PostView struct {
	*model.Post
	Author    model.UserSnapshot `json:"author"`
	LikedByMe bool               `json:"liked_by_me"`
}

type CommentView struct {
	*model.Comment
	Author model.UserSnapshot `json:"author"`
}

type CreatePostInput struct {
	Content   string
	MediaURL  string
	MediaType string
	Song      string
}

type LikeResult struct {
	Liked     bool  `json:"liked"`
	LikeCount int64 `json:"like_count"`
}

// FeedService 动态、点赞、评论
type FeedService interface {
	CreatePost(ctx context.Context, authorID string, in CreatePostInput) (*model.Post, error)
	ListFeed(ctx context.Context, viewerID string, before *time.Time, limit int) ([]PostView, error)
	ListByAuthor(ctx context.Context, authorID, viewerID string, before *time.Time, limit int) ([]PostView, error)
	GetPost(ctx context.Context, postID, viewerID string) (*PostView, error)
	ToggleLike(ctx context.Context, postID, userID string) (LikeResult, error)
	AddComment(ctx context.Context, postID, authorID, text string) (*CommentView, error)
	ListComments(ctx context.Context, postID string, page, pageSize int) ([]CommentView, error)
}

type feedService struct {
	db       *gorm.DB
	posts    repository.PostRepository
	likes    repository.LikeRepository
	comments repository.CommentRepository
	users    repository.UserRepository
	live     *realtime.Broadcaster
}

func NewFeedService(db *gorm.DB, posts repository.PostRepository, likes repository.LikeRepository, comments repository.CommentRepository, users repository.UserRepository, live *realtime.Broadcaster) FeedService {
	return &feedService{db: db, posts: posts, likes: likes, comments: comments, users: users, live: live}
}

func (s *feedService) CreatePost(ctx context.Context, authorID string, in CreatePostInput) (post *model.Post, err error) {
	defer func() { metrics.Observe("create_post", err) }()
	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" && in.MediaURL == "" {
		return nil, ErrEmptyContent
	}
	if in.MediaURL == "" {
		in.MediaType = ""
	} else if in.MediaType == "" {
		in.MediaType = model.MediaImage
	}
	if _, err := s.users.GetByID(ctx, authorID); err != nil {
		if isNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	post = &model.Post{
		ID:        uuid.New().String(),
		AuthorID:  authorID,
		Content:   in.Content,
		MediaURL:  in.MediaURL,
		MediaType: in.MediaType,
		Song:      in.Song,
	}
	if err := s.posts.Create(ctx, post); err != nil {
		return nil, err
	}
	s.live.Signal(realtime.TopicFeed)
	return post, nil
}

func (s *feedService) ListFeed(ctx context.Context, viewerID string, before *time.Time, limit int) ([]PostView, error) {
	posts, err := s.posts.List(ctx, before, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return s.render(ctx, viewerID, posts)
}

func (s *feedService) ListByAuthor(ctx context.Context, authorID, viewerID string, before *time.Time, limit int) ([]PostView, error) {
	posts, err := s.posts.ListByAuthor(ctx, authorID, before, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return s.render(ctx, viewerID, posts)
}

func (s *feedService) GetPost(ctx context.Context, postID, viewerID string) (*PostView, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	views, err := s.render(ctx, viewerID, []*model.Post{post})
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, ErrPostNotFound
	}
	return &views[0], nil
}

// render 批量关联作者与点赞状态，作者已不存在的帖子被丢弃
func (s *feedService) render(ctx context.Context, viewerID string, posts []*model.Post) ([]PostView, error) {
	views := make([]PostView, 0, len(posts))
	if len(posts) == 0 {
		return views, nil
	}
	authorIDs := make([]string, 0, len(posts))
	postIDs := make([]string, len(posts))
	for i, p := range posts {
		authorIDs = append(authorIDs, p.AuthorID)
		postIDs[i] = p.ID
	}
	authors, err := s.users.GetByIDs(ctx, authorIDs)
	if err != nil {
		return nil, err
	}
	liked := map[string]bool{}
	if viewerID != "" {
		if liked, err = s.likes.LikedPostIDs(ctx, viewerID, postIDs); err != nil {
			return nil, err
		}
	}
	for _, p := range posts {
		a, ok := authors[p.AuthorID]
		if !ok {
			continue
		}
		views = append(views, PostView{Post: p, Author: a.Snapshot(), LikedByMe: liked[p.ID]})
	}
	return views, nil
}

// ToggleLike 在一个事务内插入或删除点赞记录，只在确实发生变化时移动计数
func (s *feedService) ToggleLike(ctx context.Context, postID, userID string) (res LikeResult, err error) {
	defer func() { metrics.Observe("toggle_like", err) }()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		posts := repository.NewPostRepository(tx)
		likes := repository.NewLikeRepository(tx)

		post, err := posts.GetByID(ctx, postID)
		if err != nil {
			if isNotFound(err) {
				return ErrPostNotFound
			}
			return err
		}

		removed, err := likes.Delete(ctx, postID, userID)
		if err != nil {
			return err
		}
		if removed {
			if err := posts.IncrLikes(ctx, postID, -1); err != nil {
				return err
			}
		} else {
			created, err := likes.Create(ctx, postID, userID)
			if err != nil {
				return err
			}
			if created {
				if err := posts.IncrLikes(ctx, postID, 1); err != nil {
					return err
				}
				if post.AuthorID != userID {
					pid := postID
					if err := repository.NewOutboxRepository(tx).Enqueue(ctx, model.NotificationLike, userID, post.AuthorID, &pid); err != nil {
						return err
					}
				}
			}
			res.Liked = true
		}

		updated, err := posts.GetByID(ctx, postID)
		if err != nil {
			return err
		}
		res.LikeCount = updated.LikeCount
		return nil
	})
	if err != nil {
		return LikeResult{}, err
	}
	s.live.Signal(realtime.TopicFeed, realtime.PostTopic(postID))
	return res, nil
}

func (s *feedService) AddComment(ctx context.Context, postID, authorID, text string) (view *CommentView, err error) {
	defer func() { metrics.Observe("add_comment", err) }()
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyContent
	}
	author, err := s.users.GetByID(ctx, authorID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	c := &model.Comment{ID: uuid.New().String(), PostID: postID, AuthorID: authorID, Text: text}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		posts := repository.NewPostRepository(tx)
		if _, err := posts.GetByID(ctx, postID); err != nil {
			if isNotFound(err) {
				return ErrPostNotFound
			}
			return err
		}
		if err := repository.NewCommentRepository(tx).Create(ctx, c); err != nil {
			return err
		}
		return posts.IncrComments(ctx, postID, 1)
	})
	if err != nil {
		return nil, err
	}
	s.live.Signal(realtime.TopicFeed, realtime.PostTopic(postID))
	return &CommentView{Comment: c, Author: author.Snapshot()}, nil
}

// ListComments 按时间正序，作者已删除的评论被丢弃
func (s *feedService) ListComments(ctx context.Context, postID string, page, pageSize int) ([]CommentView, error) {
	page, pageSize = normalizePage(page, pageSize)
	items, err := s.comments.ListByPost(ctx, postID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(items))
	for i, c := range items {
		ids[i] = c.AuthorID
	}
	authors, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	views := make([]CommentView, 0, len(items))
	for _, c := range items {
		if a, ok := authors[c.AuthorID]; ok {
			views = append(views, CommentView{Comment: c, Author: a.Snapshot()})
		}
	}
	return views, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
