package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/d60-Lab/connectnow/internal/ai"
	"github.com/d60-Lab/connectnow/internal/api/handler"
	"github.com/d60-Lab/connectnow/internal/realtime"
	"github.com/d60-Lab/connectnow/internal/relcache"
	"github.com/d60-Lab/connectnow/internal/repository"
	"github.com/d60-Lab/connectnow/internal/service"
	"github.com/d60-Lab/connectnow/pkg/cache"
	"github.com/d60-Lab/connectnow/pkg/database"
)

// app 进程内的全部依赖
type app struct {
	db       *gorm.DB
	rdb      *redis.Client
	live     *realtime.Broadcaster
	services handler.Services
	worker   *service.NotificationWorker
	sweeper  *service.RetentionSweeper
}

func buildApp(ctx context.Context) (*app, error) {
	db, err := database.InitDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	rdb, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	users := repository.NewUserRepository(db)
	follows := repository.NewFollowRepository(db)
	posts := repository.NewPostRepository(db)
	likes := repository.NewLikeRepository(db)
	comments := repository.NewCommentRepository(db)
	convs := repository.NewConversationRepository(db)
	messages := repository.NewMessageRepository(db)
	notifs := repository.NewNotificationRepository(db)
	outbox := repository.NewOutboxRepository(db)

	live := realtime.NewBroadcaster(rdb, cfg.Realtime.ChannelPrefix, cfg.Realtime.QueueSize)
	graphCache := relcache.New(rdb, follows, users, cfg.Redis.CacheTTL)

	messaging := service.NewMessagingService(db, convs, messages, users, live)
	a := &app{
		db:   db,
		rdb:  rdb,
		live: live,
		services: handler.Services{
			Session:      service.NewSessionService(db, users, rdb, graphCache, service.NewCascader(db, graphCache, live), cfg.JWT),
			Relationship: service.NewRelationshipService(db, follows, users, graphCache),
			Feed:         service.NewFeedService(db, posts, likes, comments, users, live),
			Messaging:    messaging,
			Notification: service.NewNotificationService(notifs, users, posts, live),
			Assistant:    service.NewAssistantService(ai.NewClient(cfg.AI), messaging, users, cfg.AI.HistoryLimit),
			Live:         live,
			DB:           db,
			Redis:        rdb,
		},
		worker: service.NewNotificationWorker(outbox, notifs, live, cfg.Notify.Workers, cfg.Notify.ClaimLimit, cfg.Notify.PollInterval).WithLease(cfg.Notify.ClaimLease),
	}
	if cfg.Retention.Enabled {
		a.sweeper, err = service.NewRetentionSweeper(notifs, outbox, cfg.Retention.Cron, cfg.Retention.ReadTTL)
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *app) close() {
	_ = a.rdb.Close()
	_ = database.Close(a.db)
}
