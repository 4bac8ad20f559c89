package checksum

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"

	"blobvault/pkg/types"

	"github.com/zeebo/blake3"
)

// Set 是一组对同一段数据计算出的内容摘要
// 它是后续所有校验的“基准真相”(Ground Truth)：
// 上传前算一次，回读后再算一次，两者必须逐字段相等。
//
// 为什么要三种算法？
// 单一算法只能发现“数据变了”，多算法集合能覆盖更广的损坏类别
// (包括某一算法实现本身的缺陷)。对比时必须比较全集，不允许只比一种。
type Set struct {
	SHA256   [sha256.Size]byte
	SHA512   [sha512.Size]byte
	WideHash [32]byte // BLAKE3-256，树状结构的宽哈希
}

// Compute 对原始字节计算完整的摘要集合
// 纯函数：无 I/O、无状态、相同输入必然产生相同输出。
func Compute(data []byte) Set {
	return Set{
		SHA256:   sha256.Sum256(data),
		SHA512:   sha512.Sum512(data),
		WideHash: blake3.Sum256(data),
	}
}

// Equal 比较两个摘要集合是否完全一致
// 数组是可比较类型，直接 == 即可，不需要 bytes.Equal。
func (s Set) Equal(other Set) bool {
	return s == other
}

// BlobID 从 SHA256 摘要派生内容地址
// 网络层用它作为 Blob 的唯一标识 (与存储后端的 key 一致)。
func (s Set) BlobID() types.BlobID {
	return types.BlobID(hex.EncodeToString(s.SHA256[:]))
}

// Hex 辅助方法，用于日志和审计记录 (不在热路径上)
func (s Set) SHA256Hex() string   { return hex.EncodeToString(s.SHA256[:]) }
func (s Set) SHA512Hex() string   { return hex.EncodeToString(s.SHA512[:]) }
func (s Set) WideHashHex() string { return hex.EncodeToString(s.WideHash[:]) }
