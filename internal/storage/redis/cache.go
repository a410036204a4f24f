package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"digitalbucket/backend/internal/domain"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache miss")

// Cache Redis 缓存实现
type Cache struct {
	client *redis.Client
	ctx    context.Context
}

// NewCache 创建 Redis 缓存实例
func NewCache(addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 10,
	})

	ctx := context.Background()

	// 测试连接
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{
		client: client,
		ctx:    ctx,
	}, nil
}

// ========== Webhook 缓存 ==========
//
// domain.Webhook 的 JSON 形态面向 API，secret 与累计响应时间被 `json:"-"`
// 隐藏。缓存序列化走内部信封，额外携带这些字段，保证缓存命中后
// 返回的配置和数据库读取的完全一致（签名密钥、派生平均响应时间都依赖它们）。

// cachedWebhook Webhook 的缓存内部表示
type cachedWebhook struct {
	Webhook           domain.Webhook `json:"webhook"`
	Secret            string         `json:"secret"`
	TotalResponseTime int64          `json:"totalResponseTime"`
}

func wrapWebhook(w domain.Webhook) cachedWebhook {
	return cachedWebhook{
		Webhook:           w,
		Secret:            w.Secret,
		TotalResponseTime: w.Statistics.TotalResponseTime,
	}
}

func (cw cachedWebhook) unwrap() domain.Webhook {
	w := cw.Webhook
	w.Secret = cw.Secret
	w.Statistics.TotalResponseTime = cw.TotalResponseTime
	return w
}

// CacheWebhook 缓存 Webhook 配置
func (c *Cache) CacheWebhook(webhook *domain.Webhook, ttl time.Duration) error {
	key := fmt.Sprintf("webhook:%s", webhook.ID)
	data, err := json.Marshal(wrapWebhook(*webhook))
	if err != nil {
		return err
	}
	return c.client.Set(c.ctx, key, data, ttl).Err()
}

// GetCachedWebhook 获取缓存的 Webhook 配置
func (c *Cache) GetCachedWebhook(webhookID string) (*domain.Webhook, error) {
	key := fmt.Sprintf("webhook:%s", webhookID)
	data, err := c.client.Get(c.ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	var cached cachedWebhook
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		return nil, err
	}

	webhook := cached.unwrap()
	return &webhook, nil
}

// DeleteCachedWebhook 删除缓存的 Webhook 配置
func (c *Cache) DeleteCachedWebhook(webhookID string) error {
	key := fmt.Sprintf("webhook:%s", webhookID)
	return c.client.Del(c.ctx, key).Err()
}

// ========== 订阅列表缓存 ==========
//
// 事件分发按 (租户, 事件类型) 查询活跃订阅，这条路径在每次领域事件上
// 都会执行，缓存键在任何 Webhook 变更时整租户失效。

// CacheActiveWebhooks 缓存租户某事件类型的活跃订阅列表
func (c *Cache) CacheActiveWebhooks(appID string, eventType domain.EventType, webhooks []domain.Webhook, ttl time.Duration) error {
	key := subscriptionKey(appID, eventType)
	cached := make([]cachedWebhook, 0, len(webhooks))
	for _, w := range webhooks {
		cached = append(cached, wrapWebhook(w))
	}
	data, err := json.Marshal(cached)
	if err != nil {
		return err
	}
	pipe := c.client.Pipeline()
	pipe.Set(c.ctx, key, data, ttl)
	pipe.SAdd(c.ctx, subscriptionIndexKey(appID), key)
	_, err = pipe.Exec(c.ctx)
	return err
}

// GetCachedActiveWebhooks 获取缓存的活跃订阅列表
func (c *Cache) GetCachedActiveWebhooks(appID string, eventType domain.EventType) ([]domain.Webhook, error) {
	data, err := c.client.Get(c.ctx, subscriptionKey(appID, eventType)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	var cached []cachedWebhook
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		return nil, err
	}
	webhooks := make([]domain.Webhook, 0, len(cached))
	for _, cw := range cached {
		webhooks = append(webhooks, cw.unwrap())
	}
	return webhooks, nil
}

// InvalidateAppSubscriptions 使租户的全部订阅列表缓存失效
func (c *Cache) InvalidateAppSubscriptions(appID string) error {
	indexKey := subscriptionIndexKey(appID)
	keys, err := c.client.SMembers(c.ctx, indexKey).Result()
	if err != nil {
		return err
	}
	keys = append(keys, indexKey)
	return c.client.Del(c.ctx, keys...).Err()
}

func subscriptionKey(appID string, eventType domain.EventType) string {
	return fmt.Sprintf("webhooks:active:%s:%s", appID, eventType)
}

func subscriptionIndexKey(appID string) string {
	return fmt.Sprintf("webhooks:active:%s:index", appID)
}

// ========== 工具方法 ==========

// Exists 检查键是否存在
func (c *Cache) Exists(key string) (bool, error) {
	count, err := c.client.Exists(c.ctx, key).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Close 关闭 Redis 连接
func (c *Cache) Close() error {
	return c.client.Close()
}
