package netstore

import (
	"context"
	"errors"

	"blobvault/pkg/types"
)

var (
	// ErrNotFound 表示网络上不存在该 Blob
	ErrNotFound = errors.New("blob not found")

	// ErrUnavailable 表示后端 (聚合器/账本) 无法访问
	// 这是传输层错误，调用方可以带退避重试；
	// 与业务拒绝 (余额/配额不足) 严格区分。
	ErrUnavailable = errors.New("storage backend unavailable")

	// ErrQuotaExceeded 表示写入时后端拒绝了配额
	// 准入检查 (check-then-act) 和实际写入之间存在竞态窗口，
	// 这是预期内的可重试错误，不是设计缺陷。
	ErrQuotaExceeded = errors.New("storage quota exceeded at write time")
)

// BlobInfo 是账本上关于一个 Blob 的记录
// CertifiedEpoch 由网络异步推进 (从 nil 变为具体值)；
// 本引擎只读它，从不改它。
type BlobInfo struct {
	BlobID          types.BlobID
	Size            uint64
	RegisteredEpoch *types.Epoch
	CertifiedEpoch  *types.Epoch
	ProviderCount   uint32
}

// Certified 返回该 Blob 是否已被网络认证
func (b BlobInfo) Certified() bool { return b.CertifiedEpoch != nil }

// Client 是去中心化存储网络的客户端边界
// 实现可以是真实的聚合器 RPC 客户端，也可以是本地模拟 (local 子包)。
// 所有字节都是不透明的 Blob；本引擎不拥有任何线格式。
type Client interface {
	// WriteBlob 上传一段字节，返回内容地址
	WriteBlob(ctx context.Context, data []byte) (types.BlobID, error)

	// ReadBlob 读回完整的 Blob 字节
	ReadBlob(ctx context.Context, id types.BlobID) ([]byte, error)

	// GetBlobInfo 查询账本记录 (认证状态随网络推进而变化)
	GetBlobInfo(ctx context.Context, id types.BlobID) (BlobInfo, error)

	// GetBlobMetadata 查询 Blob 的键值元数据
	GetBlobMetadata(ctx context.Context, id types.BlobID) (map[string]string, error)

	// GetStorageProviders 返回当前持有该 Blob 的存储节点列表
	GetStorageProviders(ctx context.Context, id types.BlobID) ([]string, error)

	// VerifyPoA 执行可用性证明检查 (Proof of Availability)
	VerifyPoA(ctx context.Context, id types.BlobID) (bool, error)

	// WriteAttributes 把属性写到 Blob 上 (链上交易，幂等由后端保证)
	WriteAttributes(ctx context.Context, id types.BlobID, attrs map[string]string) error
}

// StorageUsage 是余额预言机返回的用量报告
type StorageUsage struct {
	UsedTokens  uint64
	TotalTokens uint64
}

// BalanceOracle 是余额/用量预言机的边界
// StorageUsage 返回指针：nil 表示后端给了畸形响应 (缺字段)，
// 上层会把它归为 ValidationError，与网络错误区分开。
type BalanceOracle interface {
	TokenBalance(ctx context.Context) (uint64, error)
	StorageFundBalance(ctx context.Context) (uint64, error)
	StorageUsage(ctx context.Context) (*StorageUsage, error)
}
