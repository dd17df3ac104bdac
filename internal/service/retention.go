package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"github.com/d60-Lab/connectnow/internal/repository"
	"github.com/d60-Lab/connectnow/pkg/logger"
)

// RetentionSweeper 按 cron 表达式定期清理已读通知和已处理的 outbox 事件
type RetentionSweeper struct {
	notifs repository.NotificationRepository
	outbox repository.OutboxRepository
	expr   string
	ttl    time.Duration
	now    func() time.Time
}

func NewRetentionSweeper(notifs repository.NotificationRepository, outbox repository.OutboxRepository, expr string, ttl time.Duration) (*RetentionSweeper, error) {
	if !gronx.IsValid(expr) {
		return nil, fmt.Errorf("invalid retention cron %q", expr)
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RetentionSweeper{notifs: notifs, outbox: outbox, expr: expr, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Sweep 删除早于 now-ttl 的已读通知与已完成事件
func (s *RetentionSweeper) Sweep(ctx context.Context) (notifications, events int64, err error) {
	cutoff := s.now().Add(-s.ttl)
	if notifications, err = s.notifs.DeleteReadBefore(ctx, cutoff); err != nil {
		return 0, 0, err
	}
	if events, err = s.outbox.DeleteDoneBefore(ctx, cutoff); err != nil {
		return notifications, 0, err
	}
	return notifications, events, nil
}

// Next 返回 after 之后的下一次执行时间
func (s *RetentionSweeper) Next(after time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.expr, after, false)
}

func (s *RetentionSweeper) Start() func(context.Context) error {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			next, err := s.Next(s.now())
			if err != nil {
				logger.Error("retention: cannot schedule", zap.String("cron", s.expr), zap.Error(err))
				return
			}
			timer := time.NewTimer(time.Until(next))
			select {
			case <-stop:
				timer.Stop()
				return
			case <-timer.C:
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			n, e, err := s.Sweep(ctx)
			cancel()
			if err != nil {
				logger.Error("retention: sweep failed", zap.Error(err))
				continue
			}
			logger.Info("retention: sweep done", zap.Int64("notifications", n), zap.Int64("outbox", e))
		}
	}()
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
