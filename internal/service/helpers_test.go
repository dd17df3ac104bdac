package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/connectnow/config"
	"github.com/d60-Lab/connectnow/internal/model"
	"github.com/d60-Lab/connectnow/internal/realtime"
	"github.com/d60-Lab/connectnow/internal/relcache"
	"github.com/d60-Lab/connectnow/internal/repository"
	"github.com/d60-Lab/connectnow/pkg/database"
)

type testEnv struct {
	db    *gorm.DB
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	cache *relcache.Cache
	live  *realtime.Broadcaster

	users    repository.UserRepository
	follows  repository.FollowRepository
	posts    repository.PostRepository
	likes    repository.LikeRepository
	comments repository.CommentRepository
	convs    repository.ConversationRepository
	messages repository.MessageRepository
	notifs   repository.NotificationRepository
	outbox   repository.OutboxRepository

	session   SessionService
	graph     RelationshipService
	feed      FeedService
	messaging MessagingService
	notify    NotificationService
	worker    *NotificationWorker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = ":memory:"
	cfg.Database.LogLevel = "silent"
	db, err := database.InitDB(cfg)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	live := realtime.NewBroadcaster(rdb, "test:live:", 256)
	stop := live.Start(1)
	t.Cleanup(func() { _ = stop(context.Background()) })

	e := &testEnv{
		db:       db,
		mr:       mr,
		rdb:      rdb,
		live:     live,
		users:    repository.NewUserRepository(db),
		follows:  repository.NewFollowRepository(db),
		posts:    repository.NewPostRepository(db),
		likes:    repository.NewLikeRepository(db),
		comments: repository.NewCommentRepository(db),
		convs:    repository.NewConversationRepository(db),
		messages: repository.NewMessageRepository(db),
		notifs:   repository.NewNotificationRepository(db),
		outbox:   repository.NewOutboxRepository(db),
	}
	e.cache = relcache.New(rdb, e.follows, e.users, time.Minute)

	jwtCfg := config.JWTConfig{Secret: "test-secret", TTL: time.Hour, Issuer: "connectnow-test"}
	e.session = NewSessionService(db, e.users, rdb, e.cache, NewCascader(db, e.cache, live), jwtCfg)
	e.graph = NewRelationshipService(db, e.follows, e.users, e.cache)
	e.feed = NewFeedService(db, e.posts, e.likes, e.comments, e.users, live)
	e.messaging = NewMessagingService(db, e.convs, e.messages, e.users, live)
	e.notify = NewNotificationService(e.notifs, e.users, e.posts, live)
	e.worker = NewNotificationWorker(e.outbox, e.notifs, live, 1, 100, time.Hour)
	return e
}

// user 直接落库一个用户，跳过密码哈希
func (e *testEnv) user(t *testing.T, name string) *model.User {
	t.Helper()
	u := &model.User{
		ID:       fmt.Sprintf("u-%s", name),
		Name:     name,
		Username: name,
		Email:    name + "@example.com",
		Password: "x",
		Bio:      name + " bio",
	}
	require.NoError(t, e.users.Create(context.Background(), u))
	return u
}

func (e *testEnv) post(t *testing.T, author *model.User, content string, at time.Time) *model.Post {
	t.Helper()
	at = at.UTC()
	p := &model.Post{ID: fmt.Sprintf("p-%d", at.UnixNano()), AuthorID: author.ID, Content: content, CreatedAt: at, UpdatedAt: at}
	require.NoError(t, e.posts.Create(context.Background(), p))
	return p
}

// drainOutbox 处理完全部 pending 事件
func (e *testEnv) drainOutbox(t *testing.T) int {
	t.Helper()
	total := 0
	for {
		n, err := e.worker.ProcessOnce(context.Background())
		require.NoError(t, err)
		if n == 0 {
			return total
		}
		total += n
	}
}

func (e *testEnv) count(t *testing.T, m interface{}, where string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := e.db.Model(m)
	if where != "" {
		q = q.Where(where, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}
