package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

// Redis stores keys in a shared Redis server so that several processes see
// one set of highlights and tags. Every write publishes a Change on
// {prefix}changes in the same transaction.
type Redis struct {
	client  *redis.Client
	prefix  string
	channel string
	origin  string
	logger  *slog.Logger
}

// NewRedis connects to url and verifies the connection.
func NewRedis(ctx context.Context, url, prefix string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("redis store connected", "addr", opts.Addr, "prefix", prefix)

	return &Redis{
		client:  client,
		prefix:  prefix,
		channel: prefix + "changes",
		origin:  newOrigin(),
		logger:  logger,
	}, nil
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Set implements Store.
func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	payload, err := r.changePayload(key)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.prefix+key, value, 0)
		p.Publish(ctx, r.channel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (r *Redis) Delete(ctx context.Context, key string) error {
	payload, err := r.changePayload(key)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.prefix+key)
		p.Publish(ctx, r.channel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Keys implements Store.
func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	full := r.prefix + prefix
	var keys []string
	iter := r.client.Scan(ctx, 0, escapeGlob(full)+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if strings.HasPrefix(k, full) {
			keys = append(keys, strings.TrimPrefix(k, r.prefix))
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list keys %q: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch subscribes to the change channel. The subscription is confirmed
// before Watch returns, so no later write is missed.
func (r *Redis) Watch(ctx context.Context) (<-chan Change, error) {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	out := make(chan Change, subscriberBuffer)
	messages := sub.Channel()

	go func() {
		defer close(out)
		defer sub.Close() //nolint:errcheck // Subscription teardown

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var change Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					r.logger.Warn("ignoring malformed change notification", "error", err)
					continue
				}
				select {
				case out <- change:
				default:
				}
			}
		}
	}()

	return out, nil
}

// Origin implements Store.
func (r *Redis) Origin() string {
	return r.origin
}

// Close implements Store.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) changePayload(key string) (string, error) {
	data, err := json.Marshal(Change{Key: key, Origin: r.origin})
	if err != nil {
		return "", fmt.Errorf("encode change: %w", err)
	}
	return string(data), nil
}

// escapeGlob quotes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	var sb strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(c)
	}
	return sb.String()
}
