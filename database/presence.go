package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	onlineKey     = "chat:online"
	seenKeyPrefix = "chat:seen:"
	seenTTL       = 24 * time.Hour
)

// RedisPresence はログイン中のユーザーを Redis のセットに反映します。
type RedisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(rdb *redis.Client) *RedisPresence {
	return &RedisPresence{rdb: rdb}
}

func (p *RedisPresence) Add(ctx context.Context, username string) error {
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, onlineKey, username)
		pipe.Set(ctx, seenKeyPrefix+username, time.Now().UTC().Format(time.RFC3339), seenTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence add %s: %w", username, err)
	}
	return nil
}

func (p *RedisPresence) Remove(ctx context.Context, username string) error {
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, onlineKey, username)
		pipe.Set(ctx, seenKeyPrefix+username, time.Now().UTC().Format(time.RFC3339), seenTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence remove %s: %w", username, err)
	}
	return nil
}

// Members returns the mirrored online users in sorted order.
func (p *RedisPresence) Members(ctx context.Context) ([]string, error) {
	members, err := p.rdb.SMembers(ctx, onlineKey).Result()
	if err != nil {
		return nil, fmt.Errorf("presence members: %w", err)
	}
	sort.Strings(members)
	return members, nil
}

// LastSeen は最後にログインまたはログアウトした時刻です。
func (p *RedisPresence) LastSeen(ctx context.Context, username string) (time.Time, error) {
	value, err := p.rdb.Get(ctx, seenKeyPrefix+username).Result()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, value)
}

// Reset clears the online set, e.g. at startup after an unclean shutdown.
func (p *RedisPresence) Reset(ctx context.Context) error {
	return p.rdb.Del(ctx, onlineKey).Err()
}
