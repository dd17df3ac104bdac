package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/connectnow/pkg/logger"
	"github.com/d60-Lab/connectnow/pkg/metrics"
)

type signal struct {
	topic string
	enqAt time.Time
}

// Broadcaster 本地异步队列 + Redis Pub/Sub，把写路径上的变更信号广播给所有订阅者。
// 写请求只做非阻塞入队，队列满时丢弃并告警（订阅者下一次信号会拿到最新快照）。
type Broadcaster struct {
	client    *redis.Client
	prefix    string
	ch        chan signal
	metricsCh chan time.Duration
	wg        sync.WaitGroup
}

func NewBroadcaster(client *redis.Client, prefix string, queueSize int) *Broadcaster {
	if queueSize <= 0 {
		queueSize = 10000
	}
	return &Broadcaster{
		client:    client,
		prefix:    prefix,
		ch:        make(chan signal, queueSize),
		metricsCh: make(chan time.Duration, 4096),
	}
}

// Start 启动若干 worker 发布信号；返回的停止函数会尽量排空队列
func (b *Broadcaster) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 4
	}
	stopCh := make(chan struct{})
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for {
				select {
				case s := <-b.ch:
					b.publish(s)
				case <-stopCh:
					for {
						select {
						case s := <-b.ch:
							b.publish(s)
						default:
							return
						}
					}
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		close(stopCh)
		done := make(chan struct{})
		go func() {
			b.wg.Wait()
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

func (b *Broadcaster) publish(s signal) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.client.Publish(ctx, b.prefix+s.topic, s.topic).Err(); err != nil {
		logger.Warn("live signal publish failed", zap.String("topic", s.topic), zap.Error(err))
		return
	}
	select {
	case b.metricsCh <- time.Since(s.enqAt):
	default:
	}
}

// Signal 非阻塞入队；nil Broadcaster 为空操作
func (b *Broadcaster) Signal(topics ...string) {
	if b == nil {
		return
	}
	now := time.Now()
	for _, t := range topics {
		select {
		case b.ch <- signal{topic: t, enqAt: now}:
		default:
			metrics.LiveDropped.Inc()
			logger.Warn("live queue full, drop signal", zap.String("topic", t))
		}
	}
}

// Metrics 返回信号入队到发布完成耗时的只读通道
func (b *Broadcaster) Metrics() <-chan time.Duration { return b.metricsCh }

// QueueLen 返回当前队列长度（采样值）
func (b *Broadcaster) QueueLen() int { return len(b.ch) }

// Subscribe 订阅若干 topic，返回前确认订阅已生效
func (b *Broadcaster) Subscribe(ctx context.Context, topics ...string) (*Subscription, error) {
	channels := make([]string, len(topics))
	for i, t := range topics {
		channels[i] = b.prefix + t
	}
	ps := b.client.Subscribe(ctx, channels...)
	for range channels {
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return nil, err
		}
	}
	sub := &Subscription{ps: ps, out: make(chan string, 64)}
	go sub.pump()
	return sub, nil
}

// Subscription 单个订阅，C 上投递发生变化的 topic
type Subscription struct {
	ps  *redis.PubSub
	out chan string
}

func (s *Subscription) pump() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		select {
		case s.out <- msg.Payload:
		default:
			// 已有待处理信号，合并即可
		}
	}
}

func (s *Subscription) C() <-chan string { return s.out }

func (s *Subscription) Close() error { return s.ps.Close() }
