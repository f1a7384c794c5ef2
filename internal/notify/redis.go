// Package notify delivers user-facing notifications over Redis.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Notification is a message for one user about a document.
type Notification struct {
	Kind       string            `json:"kind"`
	DocumentID string            `json:"document_id,omitempty"`
	Code       string            `json:"code,omitempty"`
	Message    string            `json:"message"`
	Meta       map[string]string `json:"meta,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Kinds.
const (
	KindError      = "error"
	KindValidation = "validation"
)

// Notifier delivers notifications to a user.
type Notifier interface {
	Notify(ctx context.Context, userID string, n Notification) error
}

// Discard drops every notification.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(context.Context, string, Notification) error { return nil }

const (
	defaultKeep = 50
	defaultTTL  = 7 * 24 * time.Hour
)

// RedisNotifier publishes each notification on the user's channel and
// keeps the most recent ones in a capped list.
type RedisNotifier struct {
	client *redis.Client
	prefix string
	keep   int64
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisNotifier connects to redisURL and checks the connection.
func NewRedisNotifier(redisURL string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisNotifierWithClient(client), nil
}

// NewRedisNotifierWithClient wraps an existing client.
func NewRedisNotifierWithClient(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{
		client: client,
		prefix: "notify:",
		keep:   defaultKeep,
		ttl:    defaultTTL,
		now:    time.Now,
	}
}

// Channel returns the pub/sub channel for userID.
func (n *RedisNotifier) Channel(userID string) string {
	return n.prefix + userID
}

func (n *RedisNotifier) recentKey(userID string) string {
	return n.prefix + "recent:" + userID
}

func (n *RedisNotifier) Notify(ctx context.Context, userID string, note Notification) error {
	if userID == "" {
		return fmt.Errorf("notify: empty user id")
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = n.now().UTC()
	}
	payload, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	key := n.recentKey(userID)
	pipe := n.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, n.keep-1)
	pipe.Expire(ctx, key, n.ttl)
	pipe.Publish(ctx, n.Channel(userID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Recent returns up to limit notifications for userID, newest first.
func (n *RedisNotifier) Recent(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 || int64(limit) > n.keep {
		limit = int(n.keep)
	}
	raw, err := n.client.LRange(ctx, n.recentKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	out := make([]Notification, 0, len(raw))
	for _, item := range raw {
		var note Notification
		if err := json.Unmarshal([]byte(item), &note); err != nil {
			return nil, fmt.Errorf("unmarshal notification: %w", err)
		}
		out = append(out, note)
	}
	return out, nil
}

// Subscribe streams notifications for userID until ctx is done.
func (n *RedisNotifier) Subscribe(ctx context.Context, userID string) (<-chan Notification, error) {
	sub := n.client.Subscribe(ctx, n.Channel(userID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe notifications: %w", err)
	}

	out := make(chan Notification)
	go func() {
		defer close(out)
		defer sub.Close()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var note Notification
				if err := json.Unmarshal([]byte(msg.Payload), &note); err != nil {
					continue
				}
				select {
				case out <- note:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the Redis connection.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

// Ping checks if Redis is reachable.
func (n *RedisNotifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}
