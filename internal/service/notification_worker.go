package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/d60-Lab/connectnow/internal/model"
	"github.com/d60-Lab/connectnow/internal/realtime"
	"github.com/d60-Lab/connectnow/internal/repository"
	"github.com/d60-Lab/connectnow/pkg/logger"
	"github.com/d60-Lab/connectnow/pkg/metrics"
)

// NotificationWorker 从 outbox 认领 follow/like 事件并落地为通知
type NotificationWorker struct {
	outbox       repository.OutboxRepository
	notifs       repository.NotificationRepository
	live         *realtime.Broadcaster
	claimLimit   int
	pollInterval time.Duration
	workers      int
	lease        time.Duration
	now          func() time.Time
	metricsCh    chan time.Duration // outbox->processed latency
}

// DefaultClaimLease processing 行超过该时长未完成即视为认领者已失联
const DefaultClaimLease = time.Minute

func NewNotificationWorker(outbox repository.OutboxRepository, notifs repository.NotificationRepository, live *realtime.Broadcaster, workers, claimLimit int, pollInterval time.Duration) *NotificationWorker {
	if workers <= 0 {
		workers = 2
	}
	if claimLimit <= 0 {
		claimLimit = 128
	}
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	return &NotificationWorker{
		outbox:       outbox,
		notifs:       notifs,
		live:         live,
		workers:      workers,
		claimLimit:   claimLimit,
		pollInterval: pollInterval,
		lease:        DefaultClaimLease,
		now:          func() time.Time { return time.Now().UTC() },
		metricsCh:    make(chan time.Duration, 4096),
	}
}

// WithLease 设置认领租约，<= 0 时保持默认值
func (w *NotificationWorker) WithLease(lease time.Duration) *NotificationWorker {
	if lease > 0 {
		w.lease = lease
	}
	return w
}

func (w *NotificationWorker) Metrics() <-chan time.Duration { return w.metricsCh }

// Start 启动若干 worker 轮询 outbox；返回停止函数，等待进行中的批次结束
func (w *NotificationWorker) Start() func(context.Context) error {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(stop)
		}()
	}
	return func(ctx context.Context) error {
		close(stop)
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *NotificationWorker) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := w.ProcessOnce(context.Background()); err != nil {
				logger.Warn("notification worker: batch failed", zap.Error(err))
			}
		}
	}
}

// ProcessOnce 认领一批 pending 事件并逐条处理，返回处理条数
func (w *NotificationWorker) ProcessOnce(ctx context.Context) (int, error) {
	batch, err := w.outbox.Claim(ctx, w.claimLimit, w.now(), w.lease)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, ev := range batch {
		if err := w.materialize(ctx, ev); err != nil {
			metrics.NotificationsMaterialized.WithLabelValues(ev.Kind, "error").Inc()
			logger.Error("notification worker: materialize failed",
				zap.String("outbox", ev.ID), zap.String("kind", ev.Kind), zap.Error(err))
			if rErr := w.outbox.Release(ctx, ev.ID); rErr != nil {
				logger.Error("notification worker: release failed", zap.String("outbox", ev.ID), zap.Error(rErr))
			}
			continue
		}
		if err := w.outbox.MarkDone(ctx, ev.ID, w.now()); err != nil {
			// 租约到期后会被重新认领，未读去重保证不会重复落地
			logger.Error("notification worker: mark done failed", zap.String("outbox", ev.ID), zap.Error(err))
			continue
		}
		processed++
		if !ev.CreatedAt.IsZero() {
			select {
			case w.metricsCh <- time.Since(ev.CreatedAt):
			default:
			}
		}
	}
	return processed, nil
}

// materialize 若已存在等价的未读通知则跳过
func (w *NotificationWorker) materialize(ctx context.Context, ev *model.Outbox) error {
	exists, err := w.notifs.ExistsUnread(ctx, ev.Kind, ev.ActorID, ev.TargetID, ev.PostID)
	if err != nil {
		return err
	}
	if exists {
		metrics.NotificationsMaterialized.WithLabelValues(ev.Kind, "duplicate").Inc()
		return nil
	}
	n := &model.Notification{
		ID:         uuid.New().String(),
		Kind:       ev.Kind,
		FromUserID: ev.ActorID,
		ToUserID:   ev.TargetID,
		PostID:     ev.PostID,
	}
	if err := w.notifs.Create(ctx, n); err != nil {
		return err
	}
	metrics.NotificationsMaterialized.WithLabelValues(ev.Kind, "created").Inc()
	w.live.Signal(realtime.NotificationsTopic(ev.TargetID))
	return nil
}
