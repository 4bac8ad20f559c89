package meta

import (
	"time"

	"gorm.io/datatypes"
)

// BlobModel 是账本上 Blob 记录在关系型数据库中的镜像
// 它由聚合器在上传时创建；CertifiedEpoch 由网络异步填充 (从 NULL 变为具体值)，
// 验证引擎只读这张表，从不直接改它。
type BlobModel struct {
	// BlobID 是主键 (内容地址, SHA256 Hex)
	BlobID string `gorm:"primaryKey;type:char(64)"`

	SizeBytes uint64 `gorm:"not null"`

	// Epoch 生命周期
	// 指针类型：NULL 表示“还没发生”，这和 0 是两回事
	RegisteredEpoch *uint64
	CertifiedEpoch  *uint64 `gorm:"index"`

	// 当前持有该 Blob 的存储节点数量
	ProviderCount uint32

	// Checksums: 完整摘要集合的 hex 投影 {"sha256": "...", "sha512": "...", "wide": "..."}
	// 存 JSON 而不是三列：摘要集合是一个整体，永远一起读写
	Checksums datatypes.JSON

	// Attributes: 调用方通过 WriteAttributes 挂上来的键值元数据
	Attributes datatypes.JSONMap

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 强制指定表名
func (BlobModel) TableName() string {
	return "blobs"
}

// ReceiptModel 是验证回执的审计存档
// Digest 是回执内容的规范化 CBOR 摘要 (见 verify/receipt)，
// 同一次验证重复归档是幂等的。
type ReceiptModel struct {
	// Digest 是主键 (回执的规范化摘要)
	Digest string `gorm:"primaryKey;type:char(64)"`

	BlobID string `gorm:"index;type:char(64);not null"`

	// Payload 是回执的 JSON 投影，方便用 SQL 做事后排查
	Payload datatypes.JSON

	CreatedAt time.Time
}

func (ReceiptModel) TableName() string {
	return "verification_receipts"
}
