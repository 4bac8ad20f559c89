package blobstore

import (
	"context"
	"errors"
	"io"

	"blobvault/pkg/types"
)

var (
	ErrNotFound = errors.New("object not found")
)

// Store defines the interface for a raw blob storage backend.
// Implementations can be local disk, S3-compatible object storage,
// or a cache decorator wrapping either.
type Store interface {
	// Put 将一段原始字节按内容地址持久化
	// id 必须是数据的内容地址 (SHA256)，由调用方计算；
	// 实现只负责幂等存储，不重复校验。
	Put(ctx context.Context, id types.BlobID, data []byte) error

	// Get 根据 BlobID 读取原始数据
	// 注意：这里返回的是 io.ReadCloser 而不是 []byte
	// 原因：为了支持大 Blob 的流式读取，避免一次性把 100MB 读进内存
	Get(ctx context.Context, id types.BlobID) (io.ReadCloser, error)

	// Has 检查对象是否存在 (用于去重和可用性证明)
	Has(ctx context.Context, id types.BlobID) (bool, error)

	// CAS 只增不删，所以没有 Delete
}
