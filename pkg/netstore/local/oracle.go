package local

import (
	"context"
	"fmt"

	"blobvault/pkg/meta"
	"blobvault/pkg/netstore"
)

const bytesPerToken = 1024 * 1024 // 1 Token = 1MB 存储

// OracleConfig 本地预言机的静态余额配置
type OracleConfig struct {
	TokenBalance       uint64
	StorageFundBalance uint64
	AllocatedTokens    uint64
}

// Oracle 实现了 netstore.BalanceOracle
// 余额是静态配置的；用量从账本镜像实时换算。
// 它的价值在于让整条准入链路 (余额 -> 用量 -> 准入) 在本地端到端可跑。
type Oracle struct {
	repo *meta.Repository
	cfg  OracleConfig
}

func NewOracle(repo *meta.Repository, cfg OracleConfig) *Oracle {
	return &Oracle{repo: repo, cfg: cfg}
}

func (o *Oracle) TokenBalance(ctx context.Context) (uint64, error) {
	return o.cfg.TokenBalance, nil
}

func (o *Oracle) StorageFundBalance(ctx context.Context) (uint64, error) {
	return o.cfg.StorageFundBalance, nil
}

func (o *Oracle) StorageUsage(ctx context.Context) (*netstore.StorageUsage, error) {
	usedBytes, err := o.repo.TotalBlobBytes(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: usage query failed: %v", netstore.ErrUnavailable, err)
	}

	// 字节换算 Token，向上取整 (半个 Token 也是占用)
	usedTokens := (usedBytes + bytesPerToken - 1) / bytesPerToken

	return &netstore.StorageUsage{
		UsedTokens:  usedTokens,
		TotalTokens: o.cfg.AllocatedTokens,
	}, nil
}
