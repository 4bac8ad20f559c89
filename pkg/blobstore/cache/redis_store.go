package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"blobvault/pkg/blobstore"
	"blobvault/pkg/types"

	"github.com/redis/go-redis/v9"
)

// CachedStore 是一个装饰器，它为底层的 blobstore.Store 添加 Redis 缓存层
// 只缓存“存在性”(Existence)，不缓存 Blob 数据本身：
// Blob 可能很大，Redis 内存极其宝贵，只存元数据性价比最高。
type CachedStore struct {
	backend blobstore.Store // 被装饰的底层存储 (如 S3)
	client  *redis.Client   // Redis 客户端
	ttl     time.Duration   // 缓存过期时间 (例如 24h)
}

type Config struct {
	RedisURL string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 过期时间
}

// NewCachedStore 创建缓存装饰器并做 Fail-fast 连接检查
func NewCachedStore(backend blobstore.Store, cfg Config) (*CachedStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &CachedStore{
		backend: backend,
		client:  client,
		ttl:     cfg.TTL,
	}, nil
}

// cacheKey 生成 Redis Key，添加前缀防止冲突
func (s *CachedStore) cacheKey(id types.BlobID) string {
	return "bv:blob:" + string(id)
}

// Has 优先查 Redis，实现毫秒级去重
func (s *CachedStore) Has(ctx context.Context, id types.BlobID) (bool, error) {
	key := s.cacheKey(id)

	// 1. 查 Redis
	val, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		// 架构决策：缓存故障降级 (Cache Failure Fallback)
		// 如果 Redis 挂了，退化为无缓存模式直接查底层，而不是让整个程序崩溃。
		slog.Warn("redis existence check failed, falling back to backend",
			slog.String("err", err.Error()))
	} else if val > 0 {
		// Cache Hit! 无需发起底层网络请求。
		return true, nil
	}

	// 2. 缓存未命中 (Cache Miss)，查底层存储
	found, err := s.backend.Has(ctx, id)
	if err != nil {
		return false, err
	}

	// 3. 缓存回填 (Cache Fill)
	if found {
		// 异步写入 Redis，不要阻塞主流程
		// 使用 context.Background() 确保即使上层 ctx 取消，回填也能完成
		go func() {
			fillCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.client.Set(fillCtx, key, "1", s.ttl)
		}()
	}

	return found, nil
}

// Put 写入 Blob。利用 Has 的缓存能力进行预检。
func (s *CachedStore) Put(ctx context.Context, id types.BlobID, data []byte) error {
	// 1. 如果 Redis 里有，这一步耗时 < 1ms，直接跳过上传
	exists, err := s.Has(ctx, id)
	if err != nil {
		return err
	}
	if exists {
		return nil // 幂等性：已存在
	}

	// 2. 穿透到底层存储
	if err := s.backend.Put(ctx, id, data); err != nil {
		return err
	}

	// 3. 写入缓存
	// 只有底层写成功了，才写 Redis。Set 错误可以忽略，不影响主流程。
	s.client.Set(ctx, s.cacheKey(id), "1", s.ttl)

	return nil
}

// Get 透传 - 我们不缓存 Blob 数据
func (s *CachedStore) Get(ctx context.Context, id types.BlobID) (io.ReadCloser, error) {
	return s.backend.Get(ctx, id)
}
