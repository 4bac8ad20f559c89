package allocation

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"testing"

	"blobvault/pkg/netstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 1. 测试辅助工具 (Fake Oracle)
// -----------------------------------------------------------------------------

// fakeOracle 是可编程的余额预言机
type fakeOracle struct {
	tokens    uint64
	fund      uint64
	usage     *netstore.StorageUsage
	tokensErr error
	usageErr  error
}

func (f *fakeOracle) TokenBalance(ctx context.Context) (uint64, error) {
	return f.tokens, f.tokensErr
}

func (f *fakeOracle) StorageFundBalance(ctx context.Context) (uint64, error) {
	return f.fund, nil
}

func (f *fakeOracle) StorageUsage(ctx context.Context) (*netstore.StorageUsage, error) {
	return f.usage, f.usageErr
}

// warnCounter 统计 Warn 级别日志，用于验证告警副作用
type warnCounter struct {
	slog.Handler
	count int32
}

func (h *warnCounter) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		atomic.AddInt32(&h.count, 1)
	}
	return nil
}

func (h *warnCounter) Enabled(ctx context.Context, level slog.Level) bool { return true }

func newTestManager(oracle netstore.BalanceOracle, cfg Config) (*Manager, *warnCounter) {
	counter := &warnCounter{Handler: slog.Default().Handler()}
	return NewManager(oracle, cfg, slog.New(counter)), counter
}

// -----------------------------------------------------------------------------
// 2. CheckBalances
// -----------------------------------------------------------------------------

func TestCheckBalances_Sufficient(t *testing.T) {
	oracle := &fakeOracle{tokens: 2000, fund: 500}
	mgr, _ := newTestManager(oracle, Config{MinAllocationTokens: 1000, MinStorageFundTokens: 100})

	report, err := mgr.CheckBalances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), report.TokenBalance)
	assert.Equal(t, uint64(500), report.StorageFundBalance)
	assert.True(t, report.StorageFundSufficient)
}

func TestCheckBalances_InsufficientBalance(t *testing.T) {
	oracle := &fakeOracle{tokens: 500}
	mgr, _ := newTestManager(oracle, Config{MinAllocationTokens: 1000})

	report, err := mgr.CheckBalances(context.Background())
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	// 报告照常返回，调用方可以展示余额
	assert.Equal(t, uint64(500), report.TokenBalance)
}

func TestCheckBalances_FundInsufficientIsNotFatal(t *testing.T) {
	// 存储基金不足只是标记位，不是硬门槛 (两套余额独立判断)
	oracle := &fakeOracle{tokens: 2000, fund: 10}
	mgr, _ := newTestManager(oracle, Config{MinAllocationTokens: 1000, MinStorageFundTokens: 100})

	report, err := mgr.CheckBalances(context.Background())
	require.NoError(t, err)
	assert.False(t, report.StorageFundSufficient)
}

func TestCheckBalances_OracleUnavailable(t *testing.T) {
	oracle := &fakeOracle{tokensErr: netstore.ErrUnavailable}
	mgr, _ := newTestManager(oracle, Config{MinAllocationTokens: 1000})

	_, err := mgr.CheckBalances(context.Background())
	// 传输层错误必须原样可识别 (调用方据此决定退避重试)
	assert.ErrorIs(t, err, netstore.ErrUnavailable)
	assert.NotErrorIs(t, err, ErrInsufficientBalance)
}

// -----------------------------------------------------------------------------
// 3. CalculateRequiredStorage
// -----------------------------------------------------------------------------

func TestCalculateRequiredStorage(t *testing.T) {
	mgr, _ := newTestManager(&fakeOracle{}, Config{})

	tests := []struct {
		name     string
		size     uint64
		days     uint32
		expected uint64
	}{
		{"2MB for 30 days", 2 * 1024 * 1024, 30, 61}, // 60 + 1 margin
		{"1MB for 1 day", 1024 * 1024, 1, 2},
		{"fractional rounds up as a whole", 512 * 1024, 3, 3}, // ceil(1.5)=2, +1
		{"tiny blob still costs one unit", 1, 1, 2},           // ceil(~0)=1, +1
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mgr.CalculateRequiredStorage(tt.size, tt.days)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestCalculateRequiredStorage_InvalidArguments(t *testing.T) {
	mgr, _ := newTestManager(&fakeOracle{}, Config{})

	_, err := mgr.CalculateRequiredStorage(0, 30)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = mgr.CalculateRequiredStorage(1024, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCalculateRequiredStorage_OverflowRejected(t *testing.T) {
	// size * days 在 uint64 上回绕会把天文数字算成极小的额度，必须拒绝
	mgr, _ := newTestManager(&fakeOracle{}, Config{})

	_, err := mgr.CalculateRequiredStorage(math.MaxUint64/2, 3)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = mgr.CalculateRequiredStorage(math.MaxUint64, 2)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// 边界本身不溢出，照常计算
	got, err := mgr.CalculateRequiredStorage(math.MaxUint64/3, 3)
	require.NoError(t, err)
	assert.Greater(t, got, uint64(0))
}

// -----------------------------------------------------------------------------
// 4. EnsureStorageAllocated
// -----------------------------------------------------------------------------

func TestEnsureStorageAllocated_Sufficient(t *testing.T) {
	// 场景: usage {used:500, total:2000}, required 1000 -> available 1500
	oracle := &fakeOracle{usage: &netstore.StorageUsage{UsedTokens: 500, TotalTokens: 2000}}
	mgr, _ := newTestManager(oracle, Config{})

	status, err := mgr.EnsureStorageAllocated(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), status.AllocatedTokens)
	assert.Equal(t, uint64(500), status.UsedTokens)
	assert.Equal(t, uint64(1500), status.AvailableTokens)
	assert.Equal(t, uint64(1000), status.MinRequiredTokens)
}

func TestEnsureStorageAllocated_Insufficient(t *testing.T) {
	// 场景: usage {used:1000, total:1500}, required 1000 -> fail
	oracle := &fakeOracle{usage: &netstore.StorageUsage{UsedTokens: 1000, TotalTokens: 1500}}
	mgr, _ := newTestManager(oracle, Config{})

	status, err := mgr.EnsureStorageAllocated(context.Background(), 1000)
	assert.ErrorIs(t, err, ErrInsufficientStorage)
	assert.Equal(t, uint64(500), status.AvailableTokens)
}

func TestEnsureStorageAllocated_MalformedResponse(t *testing.T) {
	// 预言机返回空报告：畸形响应，不是网络错误
	oracle := &fakeOracle{usage: nil}
	mgr, _ := newTestManager(oracle, Config{})

	_, err := mgr.EnsureStorageAllocated(context.Background(), 1)
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.NotErrorIs(t, err, netstore.ErrUnavailable)
}

func TestEnsureStorageAllocated_Unavailable(t *testing.T) {
	oracle := &fakeOracle{usageErr: netstore.ErrUnavailable}
	mgr, _ := newTestManager(oracle, Config{})

	_, err := mgr.EnsureStorageAllocated(context.Background(), 1)
	assert.ErrorIs(t, err, netstore.ErrUnavailable)
}

func TestEnsureStorageAllocated_SaturatingAvailability(t *testing.T) {
	// 账本在追赶时 used 可能短暂大于 total，可用额度饱和为 0 而不是下溢
	oracle := &fakeOracle{usage: &netstore.StorageUsage{UsedTokens: 3000, TotalTokens: 2000}}
	mgr, _ := newTestManager(oracle, Config{})

	status, err := mgr.EnsureStorageAllocated(context.Background(), 1)
	assert.ErrorIs(t, err, ErrInsufficientStorage)
	assert.Equal(t, uint64(0), status.AvailableTokens)
}

func TestEnsureStorageAllocated_WarningThreshold(t *testing.T) {
	// 85% 用量：超过默认 80% 水位 -> 发告警但检查照常通过
	oracle := &fakeOracle{usage: &netstore.StorageUsage{UsedTokens: 850, TotalTokens: 1000}}
	mgr, counter := newTestManager(oracle, Config{})

	_, err := mgr.EnsureStorageAllocated(context.Background(), 100)
	require.NoError(t, err, "warning threshold must not fail the check")
	assert.Equal(t, int32(1), atomic.LoadInt32(&counter.count), "expected exactly one warning event")

	// 50% 用量：不触发告警
	oracle.usage = &netstore.StorageUsage{UsedTokens: 500, TotalTokens: 1000}
	_, err = mgr.EnsureStorageAllocated(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&counter.count))
}
