package relcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/connectnow/internal/model"
	"github.com/d60-Lab/connectnow/internal/repository"
	"github.com/d60-Lab/connectnow/pkg/logger"
)

// loadedMarker keeps an otherwise empty following set alive so that
// "follows nobody" is distinguishable from "not cached".
const loadedMarker = "\x00"

// Cache is a Redis-backed derived view of the follow graph: per-user following
// sets for "is following" checks, follower id lists for paging, and user
// snapshots for rendering rows. The follows table stays authoritative; every
// edge write must call Invalidate for both endpoints.
type Cache struct {
	client  *redis.Client
	follows repository.FollowRepository
	users   repository.UserRepository
	ttl     time.Duration

	setLoads     atomic.Int64
	indexLoads   atomic.Int64
	userBulkLoad atomic.Int64
}

func New(client *redis.Client, follows repository.FollowRepository, users repository.UserRepository, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{client: client, follows: follows, users: users, ttl: ttl}
}

func followingKey(userID string) string { return fmt.Sprintf("following:%s", userID) }

func followersIndexKey(userID string) string { return fmt.Sprintf("followers:index:%s", userID) }

func userKey(userID string) string { return fmt.Sprintf("user:%s", userID) }

// genKey counts invalidations of a user's graph views. A loader only stores
// what it read if the generation did not move while it was reading.
func genKey(userID string) string { return fmt.Sprintf("graph:gen:%s", userID) }

const genTTL = 24 * time.Hour

var errStaleLoad = errors.New("relcache: generation changed during load")

// generation returns the current generation and whether it could be read.
func (c *Cache) generation(ctx context.Context, userID string) (string, bool) {
	gen, err := c.client.Get(ctx, genKey(userID)).Result()
	if err == redis.Nil {
		return "", true
	}
	if err != nil {
		logger.Warn("relcache: generation read failed", zap.String("user", userID), zap.Error(err))
		return "", false
	}
	return gen, true
}

// storeIfCurrent runs write atomically, and only while the generation of
// userID still equals gen.
func (c *Cache) storeIfCurrent(ctx context.Context, userID, gen string, write func(redis.Pipeliner)) error {
	gk := genKey(userID)
	return c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, gk).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if cur != gen {
			return errStaleLoad
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			write(pipe)
			return nil
		})
		return err
	}, gk)
}

func (c *Cache) logStore(what, userID string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, errStaleLoad), errors.Is(err, redis.TxFailedErr):
		logger.Debug("relcache: skip stale "+what, zap.String("user", userID))
	default:
		logger.Warn("relcache: "+what+" store failed", zap.String("user", userID), zap.Error(err))
	}
}

// IsFollowing answers a→b membership from the cached following set of a,
// loading it from the indexed edge table on a miss.
func (c *Cache) IsFollowing(ctx context.Context, a, b string) (bool, error) {
	key := followingKey(a)
	n, err := c.client.Exists(ctx, key).Result()
	if err == nil && n > 0 {
		ok, err := c.client.SIsMember(ctx, key, b).Result()
		if err == nil {
			return ok, nil
		}
	}
	if err != nil {
		logger.Warn("relcache: following set read failed", zap.String("user", a), zap.Error(err))
	}

	ids, err := c.loadFollowingSet(ctx, a)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == b {
			return true, nil
		}
	}
	return false, nil
}

func (c *Cache) loadFollowingSet(ctx context.Context, userID string) ([]string, error) {
	c.setLoads.Add(1)
	gen, genOK := c.generation(ctx, userID)
	ids, err := c.follows.FollowingIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !genOK {
		return ids, nil
	}
	key := followingKey(userID)
	err = c.storeIfCurrent(ctx, userID, gen, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, key)
		pipe.SAdd(ctx, key, interfaceSlice(append([]string{loadedMarker}, ids...))...)
		pipe.Expire(ctx, key, c.ttl)
	})
	c.logStore("following set", userID, err)
	return ids, nil
}

// FollowerIDs pages the follower id list (newest edge first) out of a Redis list,
// rebuilding it from the database on a miss.
func (c *Cache) FollowerIDs(ctx context.Context, userID string, page, size int) ([]string, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	key := followersIndexKey(userID)
	start := (page - 1) * size
	end := start + size - 1

	exists, err := c.client.Exists(ctx, key).Result()
	if err == nil && exists > 0 {
		ids, err := c.client.LRange(ctx, key, int64(start)+1, int64(end)+1).Result()
		if err == nil {
			return ids, nil
		}
	}

	all, err := c.loadFollowerIndex(ctx, userID)
	if err != nil {
		return nil, err
	}
	if start >= len(all) {
		return []string{}, nil
	}
	endIdx := start + size
	if endIdx > len(all) {
		endIdx = len(all)
	}
	return all[start:endIdx], nil
}

func (c *Cache) loadFollowerIndex(ctx context.Context, userID string) ([]string, error) {
	c.indexLoads.Add(1)
	gen, genOK := c.generation(ctx, userID)
	edges, err := c.follows.ListFollowers(ctx, userID, 0, -1)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(edges))
	for i, e := range edges {
		ids[i] = e.FollowerID
	}

	if !genOK {
		return ids, nil
	}
	// the marker occupies index 0 so an empty follower list is still cached
	key := followersIndexKey(userID)
	err = c.storeIfCurrent(ctx, userID, gen, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, key)
		pipe.RPush(ctx, key, interfaceSlice(append([]string{loadedMarker}, ids...))...)
		pipe.Expire(ctx, key, c.ttl)
	})
	c.logStore("follower index", userID, err)
	return ids, nil
}

// Users resolves snapshots for ids, preserving order and skipping ids whose
// user no longer exists.
func (c *Cache) Users(ctx context.Context, ids []string) ([]model.UserSnapshot, error) {
	if len(ids) == 0 {
		return []model.UserSnapshot{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = userKey(id)
	}

	cached := make(map[string]model.UserSnapshot, len(ids))
	if vals, err := c.client.MGet(ctx, keys...).Result(); err == nil {
		for i, v := range vals {
			if v == nil {
				continue
			}
			if str, ok := v.(string); ok {
				var snap model.UserSnapshot
				if uErr := json.Unmarshal([]byte(str), &snap); uErr == nil {
					cached[ids[i]] = snap
				}
			}
		}
	}

	missing := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := cached[id]; !ok {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		c.userBulkLoad.Add(1)
		users, err := c.users.GetByIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			snap := u.Snapshot()
			cached[u.ID] = snap
			if payload, err := json.Marshal(snap); err == nil {
				_ = c.client.Set(ctx, userKey(u.ID), payload, c.ttl).Err()
			}
		}
	}

	result := make([]model.UserSnapshot, 0, len(ids))
	for _, id := range ids {
		if snap, ok := cached[id]; ok {
			result = append(result, snap)
		}
	}
	return result, nil
}

// Invalidate drops the cached graph views of the given users and bumps their
// generation so that loads already in flight do not write back what they read.
func (c *Cache) Invalidate(ctx context.Context, userIDs ...string) {
	if len(userIDs) == 0 {
		return
	}
	pipe := c.client.TxPipeline()
	for _, id := range userIDs {
		pipe.Incr(ctx, genKey(id))
		pipe.Expire(ctx, genKey(id), genTTL)
		pipe.Del(ctx, followingKey(id), followersIndexKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("relcache: invalidate failed", zap.Strings("users", userIDs), zap.Error(err))
	}
}

// InvalidateUser drops a cached user snapshot after a profile change.
func (c *Cache) InvalidateUser(ctx context.Context, userID string) {
	if err := c.client.Del(ctx, userKey(userID)).Err(); err != nil {
		logger.Warn("relcache: user invalidate failed", zap.String("user", userID), zap.Error(err))
	}
}

func interfaceSlice(strs []string) []interface{} {
	result := make([]interface{}, len(strs))
	for i, s := range strs {
		result[i] = s
	}
	return result
}

// ResetCounters clears recorded load counters.
func (c *Cache) ResetCounters() {
	c.setLoads.Store(0)
	c.indexLoads.Store(0)
	c.userBulkLoad.Store(0)
}

// Counters reports how many database loads the cache performed.
func (c *Cache) Counters() Counters {
	return Counters{
		SetLoads:     c.setLoads.Load(),
		IndexLoads:   c.indexLoads.Load(),
		UserBulkLoad: c.userBulkLoad.Load(),
	}
}

// Counters summarises database loads during a run.
type Counters struct {
	SetLoads     int64
	IndexLoads   int64
	UserBulkLoad int64
}
