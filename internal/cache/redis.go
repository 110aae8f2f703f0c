package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meiatef066/chat-talk/internal/config"
	"github.com/meiatef066/chat-talk/internal/models"
)

const summaryTTL = 10 * time.Minute

type Client struct {
	cli    *redis.Client
	prefix string
}

func NewRedis(cfg *config.Config) (*Client, error) {
	r := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "chat"
	}
	return &Client{cli: r, prefix: prefix}, nil
}

func (c *Client) Close() error { return c.cli.Close() }

func (c *Client) presenceKey(userID string) string {
	return fmt.Sprintf("%s:presence:%s", c.prefix, userID)
}

func (c *Client) summaryKey(conversationID, userID string) string {
	return fmt.Sprintf("%s:summary:%s:%s", c.prefix, conversationID, userID)
}

func (c *Client) SetPresence(ctx context.Context, userID string, online bool) error {
	val := "0"
	if online {
		val = "1"
	}
	return c.cli.Set(ctx, c.presenceKey(userID), val, 0).Err()
}

func (c *Client) GetPresence(ctx context.Context, userID string) (bool, error) {
	s, err := c.cli.Get(ctx, c.presenceKey(userID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s == "1", nil
}

// GetSummary returns the cached inbox summary for the pair, if any. A cache
// miss or decode failure is reported as a plain miss.
func (c *Client) GetSummary(ctx context.Context, conversationID, userID string) (*models.ConversationSummary, bool) {
	b, err := c.cli.Get(ctx, c.summaryKey(conversationID, userID)).Bytes()
	if err != nil {
		return nil, false
	}
	var s models.ConversationSummary
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, false
	}
	return &s, true
}

func (c *Client) SetSummary(ctx context.Context, userID string, s *models.ConversationSummary) {
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	_ = c.cli.Set(ctx, c.summaryKey(s.ConversationID, userID), b, summaryTTL).Err()
}

// InvalidateSummaries drops the cached read-model for each user. Called on
// every send/edit/delete/read-mark so the cache never outlives the stores.
func (c *Client) InvalidateSummaries(ctx context.Context, conversationID string, userIDs ...string) {
	if len(userIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(userIDs))
	for _, uid := range userIDs {
		keys = append(keys, c.summaryKey(conversationID, uid))
	}
	_ = c.cli.Del(ctx, keys...).Err()
}

// Allow implements a fixed-window rate limit check keyed by caller.
func (c *Client) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	redisKey := fmt.Sprintf("%s:rate:%s", c.prefix, key)
	count, err := c.cli.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		c.cli.Expire(ctx, redisKey, window)
	}
	return count <= int64(limit), nil
}
