// relbench: 名人关注压测。N 个用户并发关注 u0，测量关注延迟、通知落地延迟、
// 以及关注者列表 / IsFollowing 在缓存开启与关闭下的查询耗时。
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/connectnow/config"
	"github.com/d60-Lab/connectnow/internal/model"
	"github.com/d60-Lab/connectnow/internal/realtime"
	"github.com/d60-Lab/connectnow/internal/relcache"
	"github.com/d60-Lab/connectnow/internal/repository"
	"github.com/d60-Lab/connectnow/internal/service"
	"github.com/d60-Lab/connectnow/pkg/cache"
	"github.com/d60-Lab/connectnow/pkg/database"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	if err := database.Migrate(db); err != nil {
		panic(err)
	}
	rdb := must(cache.NewRedis(ctx, cfg.Redis))

	N := envInt("N", 10000)
	CONC := envInt("CONC", 8)
	PAGE := envInt("PAGE", 50)

	users := repository.NewUserRepository(db)
	follows := repository.NewFollowRepository(db)
	notifs := repository.NewNotificationRepository(db)
	outbox := repository.NewOutboxRepository(db)

	live := realtime.NewBroadcaster(rdb, cfg.Realtime.ChannelPrefix, cfg.Realtime.QueueSize)
	stopLive := live.Start(cfg.Realtime.Workers)
	graphCache := relcache.New(rdb, follows, users, cfg.Redis.CacheTTL)
	cached := service.NewRelationshipService(db, follows, users, graphCache)
	uncached := service.NewRelationshipService(db, follows, users, nil)

	worker := service.NewNotificationWorker(outbox, notifs, live, cfg.Notify.Workers, cfg.Notify.ClaimLimit, 20*time.Millisecond).WithLease(cfg.Notify.ClaimLease)

	// u0 是名人，其余用户都关注 u0
	celeb := model.User{ID: "u0", Name: "celebrity", Username: "u0", Email: "u0@example.com", Password: "p"}
	_ = db.Where("id = ?", celeb.ID).FirstOrCreate(&celeb).Error
	fans := make([]model.User, N)
	batch := 1000
	for i := 0; i < N; i++ {
		id := uuid.New().String()
		fans[i] = model.User{ID: id, Name: "fan " + id[:8], Username: "u" + id[:8], Email: id[:8] + "@example.com", Password: "p"}
	}
	for i := 0; i < N; i += batch {
		end := i + batch
		if end > N {
			end = N
		}
		sub := fans[i:end]
		_ = db.Create(&sub).Error
	}

	landing := worker.Metrics()
	landRecs := make([]time.Duration, 0, N)
	doneLand := make(chan struct{})
	landed := make(chan struct{})
	go func() {
		defer close(landed)
		for {
			select {
			case d := <-landing:
				landRecs = append(landRecs, d)
			case <-doneLand:
				return
			}
		}
	}()
	stopWorker := worker.Start()

	// 实时信号：发布延迟与队列峰值
	signalRecs := make([]time.Duration, 0, N)
	maxQ := 0
	quitSample := make(chan struct{})
	sampled := make(chan struct{})
	go func() {
		defer close(sampled)
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case d := <-live.Metrics():
				signalRecs = append(signalRecs, d)
			case <-ticker.C:
				if q := live.QueueLen(); q > maxQ {
					maxQ = q
				}
			case <-quitSample:
				return
			}
		}
	}()

	feed := make(chan int, N)
	for i := 0; i < N; i++ {
		feed <- i
	}
	close(feed)
	latCh := make(chan time.Duration, N)
	workers := CONC
	if workers > N {
		workers = N
	}
	errCh := make(chan int, workers)
	t0 := time.Now()
	for w := 0; w < workers; w++ {
		go func() {
			failed := 0
			for i := range feed {
				st := time.Now()
				if err := cached.Follow(ctx, fans[i].ID, celeb.ID); err != nil {
					failed++
				}
				latCh <- time.Since(st)
			}
			errCh <- failed
		}()
	}
	failed := 0
	for w := 0; w < workers; w++ {
		failed += <-errCh
	}
	close(latCh)
	followDur := time.Since(t0)
	followRecs := make([]time.Duration, 0, N)
	for d := range latCh {
		followRecs = append(followRecs, d)
	}

	// 等待 outbox 排空
	drainStart := time.Now()
	for {
		var pending int64
		db.Model(&model.Outbox{}).Where("status = ?", model.OutboxPending).Count(&pending)
		if pending == 0 || time.Since(drainStart) > 2*time.Minute {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	drainDur := time.Since(drainStart)
	_ = stopWorker(ctx)
	close(doneLand)
	<-landed

	timeIt := func(fn func()) time.Duration {
		st := time.Now()
		fn()
		return time.Since(st)
	}

	graphCache.Invalidate(ctx, celeb.ID)
	graphCache.ResetCounters()
	coldList := timeIt(func() { _, _ = cached.ListFollowers(ctx, celeb.ID, 1, PAGE) })
	warmList := timeIt(func() { _, _ = cached.ListFollowers(ctx, celeb.ID, 1, PAGE) })
	dbList := timeIt(func() { _, _ = uncached.ListFollowers(ctx, celeb.ID, 1, PAGE) })

	sample := fans[N/2].ID
	coldIs := timeIt(func() { _, _ = cached.IsFollowing(ctx, sample, celeb.ID) })
	warmIs := timeIt(func() { _, _ = cached.IsFollowing(ctx, sample, celeb.ID) })
	dbIs := timeIt(func() { _, _ = uncached.IsFollowing(ctx, sample, celeb.ID) })
	counters := graphCache.Counters()

	_ = stopLive(ctx)
	close(quitSample)
	<-sampled

	pct := func(vs []time.Duration, p float64) time.Duration {
		if len(vs) == 0 {
			return 0
		}
		xs := append([]time.Duration(nil), vs...)
		sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
		k := int(math.Ceil(p*float64(len(xs)))) - 1
		if k < 0 {
			k = 0
		}
		if k >= len(xs) {
			k = len(xs) - 1
		}
		return xs[k]
	}

	fmt.Printf("N=%d, CONC=%d, PAGE=%d, failed=%d\n", N, CONC, PAGE, failed)
	fmt.Printf("Follow (edge+outbox tx) total: %v, per op: %v, p50: %v, p95: %v, p99: %v\n",
		followDur, followDur/time.Duration(N), pct(followRecs, 0.50), pct(followRecs, 0.95), pct(followRecs, 0.99))
	fmt.Printf("Notification landing: samples=%d, p50=%v, p95=%v, p99=%v, drain=%v\n",
		len(landRecs), pct(landRecs, 0.50), pct(landRecs, 0.95), pct(landRecs, 0.99), drainDur)
	fmt.Printf("Live signals: samples=%d, p50=%v, p99=%v, maxQueue=%d\n",
		len(signalRecs), pct(signalRecs, 0.50), pct(signalRecs, 0.99), maxQ)
	fmt.Printf("Followers(%d): cold=%v warm=%v db=%v\n", PAGE, coldList, warmList, dbList)
	fmt.Printf("IsFollowing: cold=%v warm=%v db=%v\n", coldIs, warmIs, dbIs)
	fmt.Printf("Cache loads: set=%d index=%d users=%d\n", counters.SetLoads, counters.IndexLoads, counters.UserBulkLoad)
}
