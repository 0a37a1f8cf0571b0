package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "rulesync:"

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Redis stores each key under Prefix and announces writes on the
// Prefix+"changes" channel so every process sharing the database sees them.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	if opts.Prefix == "" {
		opts.Prefix = DefaultRedisPrefix
	}
	slog.Info("Connecting to Redis", slog.String("addr", opts.Addr), slog.Int("db", opts.DB))

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return newRedis(client, opts.Prefix), nil
}

func newRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (s *Redis) channel() string { return s.prefix + "changes" }

func (s *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		slog.Error("redis.Get", slog.String("key", key), slog.Any("error", err))
		return nil, false, err
	}
	return data, true, nil
}

func (s *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		slog.Error("redis.Set", slog.String("key", key), slog.Any("error", err))
		return err
	}
	return s.publish(ctx, key)
}

func (s *Redis) Delete(ctx context.Context, key string) error {
	n, err := s.client.Del(ctx, s.prefix+key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	return s.publish(ctx, key)
}

func (s *Redis) publish(ctx context.Context, key string) error {
	if err := s.client.Publish(ctx, s.channel(), key).Err(); err != nil {
		slog.Error("redis.Publish", slog.String("channel", s.channel()), slog.String("key", key), slog.Any("error", err))
		return err
	}
	return nil
}

func (s *Redis) Watch(ctx context.Context) (<-chan Change, error) {
	pubsub := s.client.Subscribe(ctx, s.channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.channel(), err)
	}
	slog.Info("Subscribed to store changes", slog.String("channel", s.channel()))

	out := make(chan Change, watchBuffer)
	go func() {
		defer close(out)
		defer func() {
			_ = pubsub.Close()
		}()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- Change{Keys: []string{msg.Payload}}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Redis) Close() error {
	return s.client.Close()
}
