package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"blobvault/pkg/netstore"
)

var (
	// ErrInsufficientBalance 表示代币余额低于最小分配额度
	// 业务规则拒绝：外部充值之前重试没有意义。
	ErrInsufficientBalance = errors.New("insufficient token balance")

	// ErrInsufficientStorage 表示可用存储额度不够本次上传
	ErrInsufficientStorage = errors.New("insufficient storage allocation")

	// ErrInvalidArgument 表示调用方传了非法参数 (程序员错误，永不重试)
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrMalformedResponse 表示预言机返回了缺字段的畸形响应
	// 注意：这和网络不可达 (netstore.ErrUnavailable) 是两类错误——
	// 畸形响应重试也没用，必须区分开。
	ErrMalformedResponse = errors.New("malformed balance oracle response")
)

const (
	// bytesPerMB 是存储计费的单位换算基数
	bytesPerMB = 1024 * 1024

	// defaultWarnUtilization 是默认的用量告警水位
	defaultWarnUtilization = 0.8
)

// Config 准入控制参数
type Config struct {
	// MinAllocationTokens 是允许上传的最低代币余额
	MinAllocationTokens uint64

	// MinStorageFundTokens 是存储基金的建议水位
	// 注意：这不是硬门槛，只影响 BalanceReport.StorageFundSufficient，
	// 由调用方决定是否继续 (两套余额是否该合并，后端语义未确认前保持独立)。
	MinStorageFundTokens uint64

	// WarnUtilization 是触发告警日志的用量比例 (0 表示用默认值 0.8)
	WarnUtilization float64
}

// BalanceReport 是 CheckBalances 的结果
type BalanceReport struct {
	TokenBalance          uint64
	StorageFundBalance    uint64
	StorageFundSufficient bool
}

// Status 是一次准入检查通过后的存储额度快照
// 不变式: AvailableTokens == AllocatedTokens - UsedTokens (下溢时饱和为 0)
type Status struct {
	AllocatedTokens   uint64
	UsedTokens        uint64
	AvailableTokens   uint64
	MinRequiredTokens uint64
}

// Manager 是存储额度的准入控制器
// 设计约束：先查额度、后传字节 (allocate-then-write)。
// 这个顺序是故意的——避免传了一半发现配额耗尽、留下无法认证的半个上传。
type Manager struct {
	oracle netstore.BalanceOracle
	cfg    Config
	logger *slog.Logger
}

func NewManager(oracle netstore.BalanceOracle, cfg Config, logger *slog.Logger) *Manager {
	if cfg.WarnUtilization <= 0 {
		cfg.WarnUtilization = defaultWarnUtilization
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		oracle: oracle,
		cfg:    cfg,
		logger: logger,
	}
}

// CheckBalances 查询两套余额并检查代币最低门槛
// 预言机不可达时直接透传 netstore.ErrUnavailable (让调用方决定退避重试，
// 这里不做内部重试)。
func (m *Manager) CheckBalances(ctx context.Context) (BalanceReport, error) {
	tokens, err := m.oracle.TokenBalance(ctx)
	if err != nil {
		return BalanceReport{}, fmt.Errorf("token balance query: %w", err)
	}

	fund, err := m.oracle.StorageFundBalance(ctx)
	if err != nil {
		return BalanceReport{}, fmt.Errorf("storage fund query: %w", err)
	}

	report := BalanceReport{
		TokenBalance:          tokens,
		StorageFundBalance:    fund,
		StorageFundSufficient: fund >= m.cfg.MinStorageFundTokens,
	}

	if tokens < m.cfg.MinAllocationTokens {
		return report, fmt.Errorf("%w: have %d, minimum %d",
			ErrInsufficientBalance, tokens, m.cfg.MinAllocationTokens)
	}

	return report, nil
}

// CalculateRequiredStorage 计算一次上传所需的存储额度
// 公式: ceil(sizeBytes_in_MB * durationDays) + 1 (一个单位的安全余量)
// 纯函数，非法参数是程序员错误，永不重试。
func (m *Manager) CalculateRequiredStorage(sizeBytes uint64, durationDays uint32) (uint64, error) {
	if sizeBytes == 0 {
		return 0, fmt.Errorf("%w: sizeBytes must be positive", ErrInvalidArgument)
	}
	if durationDays == 0 {
		return 0, fmt.Errorf("%w: durationDays must be positive", ErrInvalidArgument)
	}
	// 乘法溢出检查：uint64 回绕会把天文数字算成白菜价
	if sizeBytes > math.MaxUint64/uint64(durationDays) {
		return 0, fmt.Errorf("%w: sizeBytes %d over %d days overflows", ErrInvalidArgument, sizeBytes, durationDays)
	}

	// 对 (size_MB * days) 整体向上取整，而不是先取整再相乘：
	// 0.5MB * 3days 应该算 2 个单位 (ceil(1.5))，不是 3 个
	product := sizeBytes * uint64(durationDays)
	// (product-1)/m + 1 等价于 ceil(product/m)，且不会在加法上回绕
	required := (product-1)/bytesPerMB + 1

	return required + 1, nil
}

// EnsureStorageAllocated 执行准入检查：可用额度必须覆盖 required
// 准入是 check-then-act 的咨询式检查，和真正的写入之间存在竞态窗口；
// 写入时被后端拒绝配额会以可重试错误浮出 (netstore.ErrQuotaExceeded)，
// 这是预期行为，不在这里加锁。
func (m *Manager) EnsureStorageAllocated(ctx context.Context, requiredTokens uint64) (Status, error) {
	usage, err := m.oracle.StorageUsage(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("storage usage query: %w", err)
	}
	if usage == nil {
		// 后端给了空报告：畸形响应，不是网络问题
		return Status{}, fmt.Errorf("%w: usage report missing", ErrMalformedResponse)
	}

	// 饱和减法：Used > Total 说明账本在追赶，可用额度按 0 算
	var available uint64
	if usage.TotalTokens > usage.UsedTokens {
		available = usage.TotalTokens - usage.UsedTokens
	}

	status := Status{
		AllocatedTokens:   usage.TotalTokens,
		UsedTokens:        usage.UsedTokens,
		AvailableTokens:   available,
		MinRequiredTokens: requiredTokens,
	}

	// 用量告警：非致命，只发结构化日志事件，检查本身照常通过
	if usage.TotalTokens > 0 {
		utilization := float64(usage.UsedTokens) / float64(usage.TotalTokens)
		if utilization >= m.cfg.WarnUtilization {
			m.logger.Warn("storage utilization above warning threshold",
				slog.Uint64("used_tokens", usage.UsedTokens),
				slog.Uint64("total_tokens", usage.TotalTokens),
				slog.Float64("utilization", utilization),
				slog.Float64("threshold", m.cfg.WarnUtilization),
			)
		}
	}

	if available < requiredTokens {
		return status, fmt.Errorf("%w: need %d, available %d",
			ErrInsufficientStorage, requiredTokens, available)
	}

	return status, nil
}
