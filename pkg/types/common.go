// pkg/types/common.go
package types

// BlobID 是 Blob 在存储网络中的唯一标识符 (SHA256 Hex String)
// 这是一个“值对象”，应当是不可变的。
type BlobID string

func (id BlobID) String() string { return string(id) }

// 验证 BlobID 合法性
func (id BlobID) IsZero() bool  { return id == "" }
func (id BlobID) IsValid() bool { return len(id) == 64 } // 简单的长度检查

// Epoch 是存储网络的周期编号
// 注册 (Registration) 和认证 (Certification) 都以 Epoch 为时间单位
type Epoch uint64

// MatchState 是三态的校验结果
// 注意：不要用 *bool 表达这个概念——nil/false 在调用点太容易混淆。
// 显式的枚举让“没查”和“查了但不匹配”永远不会被弄混。
type MatchState uint8

const (
	// NotChecked 表示该维度根本没有被校验 (例如调用方没有提供期望元数据)
	NotChecked MatchState = iota
	// Matched 表示校验执行了且一致
	Matched
	// Mismatched 表示校验执行了且发现了差异
	Mismatched
)

func (m MatchState) String() string {
	switch m {
	case Matched:
		return "matched"
	case Mismatched:
		return "mismatched"
	default:
		return "not_checked"
	}
}

// OK 返回该维度是否“不构成失败”
// 语义：NotChecked 和 Matched 都算通过，只有 Mismatched 是失败。
func (m MatchState) OK() bool { return m != Mismatched }
