package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix redis 默认键前缀
const DefaultRedisPrefix = "belot"

// Redis 以 hash 保存全部键，变更通过 pub/sub 广播
type Redis struct {
	hub
	client  *redis.Client
	hashKey string
	channel string

	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// OpenRedis 连接 redis 并订阅变更频道
func OpenRedis(ctx context.Context, redisURL, prefix string) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("解析 redis 地址失败: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 redis 失败: %w", err)
	}

	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	r := &Redis{
		client:  client,
		hashKey: prefix + ":kv",
		channel: prefix + ":kv:changed",
		done:    make(chan struct{}),
	}
	r.pubsub = client.Subscribe(ctx, r.channel)
	if _, err := r.pubsub.Receive(pingCtx); err != nil {
		r.pubsub.Close()
		client.Close()
		return nil, fmt.Errorf("订阅变更频道失败: %w", err)
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	r.cancel = loopCancel
	go r.listen(loopCtx)
	return r, nil
}

func (r *Redis) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Redis) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	if r.isClosed() {
		return nil, ErrClosed
	}
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := r.client.HMGet(ctx, r.hashKey, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("读取 redis 失败: %w", err)
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}

func (r *Redis) Set(ctx context.Context, values map[string][]byte) error {
	if err := validate(values); err != nil {
		return err
	}
	if r.isClosed() {
		return ErrClosed
	}
	keys := keysOf(values)
	fields := make([]any, 0, len(values)*2)
	for _, k := range keys {
		fields = append(fields, k, string(values[k]))
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.hashKey, fields...)
		pipe.Publish(ctx, r.channel, strings.Join(keys, ","))
		return nil
	})
	if err != nil {
		return fmt.Errorf("写入 redis 失败: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if r.isClosed() {
		return ErrClosed
	}
	if len(keys) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, r.hashKey, keys...)
		pipe.Publish(ctx, r.channel, strings.Join(keys, ","))
		return nil
	})
	if err != nil {
		return fmt.Errorf("删除 redis 键失败: %w", err)
	}
	return nil
}

func (r *Redis) listen(ctx context.Context) {
	defer close(r.done)
	ch := r.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg.Payload == "" {
				continue
			}
			r.emit(strings.Split(msg.Payload, ","))
		}
	}
}

func (r *Redis) Watch(fn func(Change)) func() {
	return r.watch(fn)
}

// Clear 删除整个 hash，仅用于测试
func (r *Redis) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.hashKey).Err()
}

func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.pubsub.Close()
	<-r.done
	return r.client.Close()
}
