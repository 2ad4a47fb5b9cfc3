// Package cache 提供基于键值存储的泛型缓存实现，上传会话与已授权分片记录都通过它读写.
//
// 基本用法:
//
//	c := cache.NewCache(kvClient, "upload.")
//	err := cache.Set(ctx, c, "session."+id, session, ttl)
//	session, err := cache.Get[UploadSession](ctx, c, "session."+id)
//	if cache.IsMiss(err) {
//		// 会话不存在或已过期
//	}
//
// 值使用 sonic 编码为 JSON，TTL 由底层 KV 实现负责.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/yeisme/dedupvault/pkg/internal/storage/kv"
)

// Cache 基于KV存储的缓存实现，所有键自动加上 prefix.
type Cache struct {
	kvStore kv.KVStore
	prefix  string
}

// NewCache 创建一个新的缓存实例.
func NewCache(kvStore kv.KVStore, prefix string) *Cache {
	return &Cache{
		kvStore: kvStore,
		prefix:  prefix,
	}
}

// IsMiss 判断错误是否表示键不存在.
func IsMiss(err error) bool {
	return errors.Is(err, kv.ErrKeyNotFound)
}

func (c *Cache) key(k string) string {
	return c.prefix + k
}

// Get 泛型获取缓存值.
func Get[T any](ctx context.Context, c *Cache, key string) (T, error) {
	var zero T

	data, err := c.kvStore.Get(ctx, c.key(key))
	if err != nil {
		return zero, err
	}

	var value T
	if err := sonic.Unmarshal(data, &value); err != nil {
		return zero, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}

	return value, nil
}

// Set 泛型设置缓存值.
func Set[T any](ctx context.Context, c *Cache, key string, value T, ttl time.Duration) error {
	data, err := sonic.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	return c.kvStore.Set(ctx, c.key(key), data, ttl)
}

// Delete 删除缓存键.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.kvStore.Delete(ctx, c.key(key))
}

// Exists 检查缓存键是否存在.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	return c.kvStore.Exists(ctx, c.key(key))
}

// Keys 返回匹配模式的键（已去掉 prefix）.
func (c *Cache) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := c.kvStore.Keys(ctx, c.key(pattern))
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, c.prefix))
	}

	return out, nil
}

// GetOrSet 获取缓存值，不存在时调用 getter 并写入；读取出错（非未命中）直接返回.
func GetOrSet[T any](ctx context.Context, c *Cache, key string, getter func() (T, error), ttl time.Duration) (T, error) {
	var zero T

	value, err := Get[T](ctx, c, key)
	if err == nil {
		return value, nil
	}

	if !IsMiss(err) {
		return zero, err
	}

	value, err = getter()
	if err != nil {
		return zero, err
	}

	// 写入失败不影响返回值
	_ = Set(ctx, c, key, value, ttl)

	return value, nil
}

// Clear 删除 prefix 下的所有键.
func (c *Cache) Clear(ctx context.Context) error {
	keys, err := c.kvStore.Keys(ctx, c.prefix+"*")
	if err != nil {
		return err
	}

	for _, key := range keys {
		if delErr := c.kvStore.Delete(ctx, key); delErr != nil {
			return delErr
		}
	}

	return nil
}
