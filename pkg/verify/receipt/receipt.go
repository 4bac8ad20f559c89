package receipt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"blobvault/pkg/checksum"
	"blobvault/pkg/types"
	"blobvault/pkg/verify"

	"github.com/fxamacker/cbor/v2"
)

// 定义规范化 CBOR 编码选项
// 回执要做内容寻址归档：相同的回执必须产生唯一的摘要，
// 所以编码必须是确定性的 (Canonical)。
var encOptions = cbor.EncOptions{
	// 1. 强制 Map Key 排序 (Canonical)
	// 保证相同的回执生成唯一的摘要
	Sort: cbor.SortCanonical,

	// 2. 浮点数必须使用确定的表示
	ShortestFloat: cbor.ShortestFloatNone,

	// 3. 时间格式化为 Unix 整数
	// 禁止自动生成 Tag 0/1 (RFC 3339 字符串)
	Time:    cbor.TimeUnix,
	TimeTag: cbor.EncTagNone,

	// 4. 禁止不定长编码 (Indefinite Length)
	IndefLength: cbor.IndefLengthForbidden,

	// 5. 大整数用最短编码
	BigIntConvert: cbor.BigIntConvertShortest,
}

// 全局复用的编码模式
var em, _ = encOptions.EncMode()

// Receipt 是一次验证的可归档回执
// 字段全部是值类型，生成后不可变。
type Receipt struct {
	OperationID   string       `cbor:"op_id" json:"op_id"`
	BlobID        types.BlobID `cbor:"blob_id" json:"blob_id"`
	Success       bool         `cbor:"success" json:"success"`
	ContentMatch  string       `cbor:"content_match" json:"content_match"`
	MetadataMatch string       `cbor:"metadata_match" json:"metadata_match"`
	Certified     bool         `cbor:"certified" json:"certified"`
	ProviderCount uint32       `cbor:"provider_count" json:"provider_count"`
	Attempts      uint32       `cbor:"attempts" json:"attempts"`
	SHA256        string       `cbor:"sha256" json:"sha256"`
	SHA512        string       `cbor:"sha512" json:"sha512"`
	WideHash      string       `cbor:"wide_hash" json:"wide_hash"`
	VerifiedAt    int64        `cbor:"verified_at" json:"verified_at"` // Unix 秒
}

// FromResult 把 verify.Result 投影成回执
func FromResult(opID string, res verify.Result, at time.Time) Receipt {
	r := Receipt{
		OperationID:   opID,
		BlobID:        res.BlobID,
		Success:       res.Success,
		ContentMatch:  res.ContentMatch.String(),
		MetadataMatch: res.MetadataMatch.String(),
		Certified:     res.Certified,
		ProviderCount: res.ProviderCount,
		Attempts:      res.Attempts,
		VerifiedAt:    at.Unix(),
	}

	// 长度不匹配的短路路径不计算摘要，集合是零值；
	// 归档全零的假摘要比留空更糟，这里直接省略。
	if res.Checksums != (checksum.Set{}) {
		r.SHA256 = res.Checksums.SHA256Hex()
		r.SHA512 = res.Checksums.SHA512Hex()
		r.WideHash = res.Checksums.WideHashHex()
	}
	return r
}

// Digest 计算回执的内容摘要和序列化数据
// 摘要作为审计存档的主键：同一回执归档多次天然幂等。
func Digest(r Receipt) (string, []byte, error) {
	data, err := em.Marshal(r)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal receipt: %w", err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), data, nil
}
