// Package local 提供 netstore.Client 的本地聚合器实现
// 字节存在 blobstore (磁盘/S3/带 Redis 缓存)，账本记录镜像在 GORM 数据库。
// 它服务于开发环境和单机部署；对真实去中心化网络的接入只需替换 Client 实现，
// 验证引擎一行不用改。
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"blobvault/pkg/blobstore"
	"blobvault/pkg/checksum"
	"blobvault/pkg/meta"
	"blobvault/pkg/netstore"
	"blobvault/pkg/types"
)

// Config 本地聚合器配置
type Config struct {
	// Providers 是模拟的存储节点列表
	Providers []string

	// Genesis 和 EpochDuration 决定 Epoch 的推进
	Genesis       time.Time
	EpochDuration time.Duration

	// AutoCertify: 写入后立即视为认证 (开发便利)
	// 关掉它可以模拟“认证迟迟不来”的网络状态。
	AutoCertify bool

	// QuotaBytes: 总容量上限，0 表示不限制
	// 超限的写入以 netstore.ErrQuotaExceeded 拒绝——
	// 准入检查和写入之间的竞态由上层按可重试错误处理。
	QuotaBytes uint64
}

// Client 实现了 netstore.Client 接口
type Client struct {
	store blobstore.Store
	repo  *meta.Repository
	cfg   Config
	nowFn func() time.Time
}

func NewClient(store blobstore.Store, repo *meta.Repository, cfg Config) *Client {
	if cfg.EpochDuration <= 0 {
		cfg.EpochDuration = 24 * time.Hour
	}
	if cfg.Genesis.IsZero() {
		cfg.Genesis = time.Unix(0, 0)
	}
	return &Client{
		store: store,
		repo:  repo,
		cfg:   cfg,
		nowFn: time.Now,
	}
}

// currentEpoch 从挂钟时间推导当前 Epoch
func (c *Client) currentEpoch() types.Epoch {
	elapsed := c.nowFn().Sub(c.cfg.Genesis)
	if elapsed < 0 {
		return 0
	}
	return types.Epoch(elapsed / c.cfg.EpochDuration)
}

// WriteBlob 写入字节并登记账本记录
func (c *Client) WriteBlob(ctx context.Context, data []byte) (types.BlobID, error) {
	sums := checksum.Compute(data)
	id := sums.BlobID()

	// 1. 配额检查 (写入时的硬检查，区别于上层的咨询式准入)
	if c.cfg.QuotaBytes > 0 {
		used, err := c.repo.TotalBlobBytes(ctx)
		if err != nil {
			return "", fmt.Errorf("quota accounting: %w", err)
		}
		if used+uint64(len(data)) > c.cfg.QuotaBytes {
			return "", fmt.Errorf("%w: used %d + new %d > quota %d",
				netstore.ErrQuotaExceeded, used, len(data), c.cfg.QuotaBytes)
		}
	}

	// 2. 存字节 (幂等)
	if err := c.store.Put(ctx, id, data); err != nil {
		return "", fmt.Errorf("blob store put: %w", err)
	}

	// 3. 登记账本镜像 (幂等，内容寻址保证冲突即同内容)
	epoch := c.currentEpoch()
	if err := c.repo.SaveBlobRecord(ctx, id, uint64(len(data)), epoch, sums); err != nil {
		return "", fmt.Errorf("ledger record: %w", err)
	}
	if err := c.repo.SetProviderCount(ctx, id, uint32(len(c.cfg.Providers))); err != nil {
		return "", fmt.Errorf("provider count: %w", err)
	}

	// 4. 本地模式下可以立即认证 (真实网络里这一步是异步的)
	if c.cfg.AutoCertify {
		if err := c.repo.SetCertified(ctx, id, epoch); err != nil {
			return "", fmt.Errorf("certification record: %w", err)
		}
	}

	return id, nil
}

// ReadBlob 读回完整字节
func (c *Client) ReadBlob(ctx context.Context, id types.BlobID) ([]byte, error) {
	rc, err := c.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, netstore.ErrNotFound
		}
		return nil, fmt.Errorf("blob store get: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("blob read: %w", err)
	}
	return data, nil
}

// GetBlobInfo 查询账本镜像
func (c *Client) GetBlobInfo(ctx context.Context, id types.BlobID) (netstore.BlobInfo, error) {
	rec, err := c.repo.GetBlobRecord(ctx, id)
	if err != nil {
		if errors.Is(err, meta.ErrBlobNotFound) {
			return netstore.BlobInfo{}, netstore.ErrNotFound
		}
		return netstore.BlobInfo{}, err
	}

	info := netstore.BlobInfo{
		BlobID:        id,
		Size:          rec.SizeBytes,
		ProviderCount: rec.ProviderCount,
	}
	if rec.RegisteredEpoch != nil {
		e := types.Epoch(*rec.RegisteredEpoch)
		info.RegisteredEpoch = &e
	}
	if rec.CertifiedEpoch != nil {
		e := types.Epoch(*rec.CertifiedEpoch)
		info.CertifiedEpoch = &e
	}
	return info, nil
}

// GetBlobMetadata 查询属性集合
func (c *Client) GetBlobMetadata(ctx context.Context, id types.BlobID) (map[string]string, error) {
	attrs, err := c.repo.GetAttributes(ctx, id)
	if errors.Is(err, meta.ErrBlobNotFound) {
		return nil, netstore.ErrNotFound
	}
	return attrs, err
}

// GetStorageProviders 返回配置的节点列表 (拷贝，防止调用方修改)
func (c *Client) GetStorageProviders(ctx context.Context, id types.BlobID) ([]string, error) {
	providers := make([]string, len(c.cfg.Providers))
	copy(providers, c.cfg.Providers)
	return providers, nil
}

// VerifyPoA 可用性证明：字节仍然在、大小和账本一致
func (c *Client) VerifyPoA(ctx context.Context, id types.BlobID) (bool, error) {
	found, err := c.store.Has(ctx, id)
	if err != nil {
		return false, fmt.Errorf("availability probe: %w", err)
	}
	if !found {
		return false, nil
	}

	rec, err := c.repo.GetBlobRecord(ctx, id)
	if errors.Is(err, meta.ErrBlobNotFound) {
		// 字节在但账本没有：悬空数据，不算可用
		return false, nil
	}
	if err != nil {
		return false, err
	}

	data, err := c.ReadBlob(ctx, id)
	if err != nil {
		return false, err
	}
	return uint64(len(data)) == rec.SizeBytes, nil
}

// WriteAttributes 合并属性 (链上交易的本地等价物)
func (c *Client) WriteAttributes(ctx context.Context, id types.BlobID, attrs map[string]string) error {
	err := c.repo.MergeAttributes(ctx, id, attrs)
	if errors.Is(err, meta.ErrBlobNotFound) {
		return netstore.ErrNotFound
	}
	return err
}
