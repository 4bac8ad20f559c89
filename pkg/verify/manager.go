package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"blobvault/pkg/checksum"
	"blobvault/pkg/netstore"
	"blobvault/pkg/types"
)

var (
	// ErrMonitoringFailed 表示可用性监控在预算内没有等到匹配的数据
	// 具体的尝试次数在 MonitoringError 里。
	ErrMonitoringFailed = errors.New("blob availability monitoring failed")
)

// MonitoringError 携带重试预算耗尽时的尝试次数
// 有界重试耗尽必须浮出水面，绝不静默吞掉。
type MonitoringError struct {
	Attempts uint32
}

func (e *MonitoringError) Error() string {
	return fmt.Sprintf("blob availability monitoring failed after %d attempts", e.Attempts)
}

// Is 让 errors.Is(err, ErrMonitoringFailed) 成立
func (e *MonitoringError) Is(target error) bool {
	return target == ErrMonitoringFailed
}

// UploadOptions 控制 VerifyUpload 的行为
type UploadOptions struct {
	// WaitForCertification: 是否等待网络认证
	WaitForCertification bool

	// WaitTimeout: 认证等待的最长时间
	// 超时不是错误——调用方可以明知未认证而继续。
	WaitTimeout time.Duration

	// PollInterval: 认证轮询间隔 (0 用默认值)
	PollInterval time.Duration

	// MinProviders: 期望的最少存储节点数
	MinProviders uint32
}

const defaultPollInterval = 2 * time.Second

// UploadReceipt 是一次 verifyUpload 的结果
type UploadReceipt struct {
	BlobID          types.BlobID
	Checksums       checksum.Set // 上传前计算的基准摘要
	Certified       bool
	CertifiedEpoch  *types.Epoch
	PoAComplete     bool
	HasMinProviders bool
	ProviderCount   uint32
}

// Result 是一次 verifyBlob 的结果
// 内容/元数据不匹配不是异常——“验证跑了且发现差异”是调用方要分支处理的
// 正常结果，与“验证根本没跑成”(传输错误) 严格区分。
type Result struct {
	Success       bool
	BlobID        types.BlobID
	Checksums     checksum.Set // 回读后重新计算的摘要
	ContentMatch  types.MatchState
	MetadataMatch types.MatchState
	Certified     bool
	ProviderCount uint32
	Attempts      uint32
}

// MonitorOptions 控制可用性监控循环
type MonitorOptions struct {
	Interval    time.Duration
	MaxAttempts uint32
	Timeout     time.Duration // 0 表示不设总超时
}

// MonitoringOutcome 是监控循环的统计结果
type MonitoringOutcome struct {
	Successful   bool
	AttemptsMade uint32
}

// Manager 编排单个 Blob 的验证状态机:
// Uploading -> AwaitingCertification -> Verifying -> Monitoring -> Done | Failed
// 每一步都依赖上一步的结果 (Blob 必须先存在才能被轮询)，所以单个 Blob
// 内部严格串行；跨 Blob 并发由上层随意发起，这里没有共享可变状态。
type Manager struct {
	client netstore.Client
	clock  Clock
	logger *slog.Logger
}

func NewManager(client netstore.Client, clock Clock, logger *slog.Logger) *Manager {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client: client,
		clock:  clock,
		logger: logger,
	}
}

// VerifyUpload 上传并验证一段数据
// 步骤: 本地摘要 -> 写入 -> (可选)等认证 -> 查节点 -> PoA 检查。
// 除了写入本身，所有副作用都是只读的网络查询。
func (m *Manager) VerifyUpload(ctx context.Context, data []byte, opts UploadOptions) (UploadReceipt, error) {
	// 1. 上传前先算基准摘要 (Ground Truth)
	sums := checksum.Compute(data)

	// 2. 写入存储网络
	blobID, err := m.client.WriteBlob(ctx, data)
	if err != nil {
		return UploadReceipt{}, fmt.Errorf("blob write: %w", err)
	}

	receipt := UploadReceipt{
		BlobID:    blobID,
		Checksums: sums,
	}

	// 3. 等待认证 (可选，超时非致命，取消必须浮出)
	if opts.WaitForCertification {
		epoch, certified, err := m.awaitCertification(ctx, blobID, opts)
		if err != nil {
			// 调用方取消和“认证迟迟不来”是两类结果：
			// 超时继续往下走，取消立刻停，绝不伪装成普通的未认证回执
			return receipt, err
		}
		receipt.Certified = certified
		receipt.CertifiedEpoch = epoch
		if !certified {
			// 显式返回 certified=false，绝不静默当成功
			m.logger.Warn("certification did not arrive within timeout",
				slog.String("blob_id", blobID.String()),
				slog.Duration("wait_timeout", opts.WaitTimeout),
			)
		}
	}

	// 4. 存储节点数量
	providers, err := m.client.GetStorageProviders(ctx, blobID)
	if err != nil {
		return receipt, fmt.Errorf("provider query: %w", err)
	}
	receipt.ProviderCount = uint32(len(providers))
	receipt.HasMinProviders = receipt.ProviderCount >= opts.MinProviders

	// 5. 可用性证明
	poa, err := m.client.VerifyPoA(ctx, blobID)
	if err != nil {
		return receipt, fmt.Errorf("poa check: %w", err)
	}
	receipt.PoAComplete = poa

	return receipt, nil
}

// awaitCertification 轮询账本直到认证出现、超时或被取消
// 单次失败的轮询被吸收 (继续下一轮)，只有预算耗尽才放弃；
// 放弃不是错误，调用方拿到 certified=false 自行决定。
// 取消不同：返回 ctx.Err()，与超时严格区分。
func (m *Manager) awaitCertification(ctx context.Context, id types.BlobID, opts UploadOptions) (*types.Epoch, bool, error) {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	deadline := m.clock.Now().Add(opts.WaitTimeout)

	for {
		// 取消检查放在每轮开头
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}

		info, err := m.client.GetBlobInfo(ctx, id)
		if err == nil && info.Certified() {
			return info.CertifiedEpoch, true, nil
		}
		if err != nil && !errors.Is(err, netstore.ErrNotFound) {
			// 瞬时故障：吸收并重试，只记一条 Debug
			m.logger.Debug("certification poll failed, will retry",
				slog.String("blob_id", id.String()),
				slog.String("err", err.Error()))
		}

		if !m.clock.Now().Add(interval).Before(deadline) {
			// 再睡一轮就越过截止时间了，直接放弃
			return nil, false, nil
		}
		if err := m.clock.Sleep(ctx, interval); err != nil {
			return nil, false, err
		}
	}
}

// VerifyBlob 把远端数据与期望值重新比对
// expectedMetadata 为空时元数据维度是 NotChecked (三态，不是 false)。
func (m *Manager) VerifyBlob(ctx context.Context, id types.BlobID, expectedData []byte, expectedMetadata map[string]string) (Result, error) {
	result := Result{
		BlobID:        id,
		ContentMatch:  types.NotChecked,
		MetadataMatch: types.NotChecked,
		Attempts:      1,
	}

	// 1. 回读字节
	// 只有传输/后端错误才作为 error 抛出；不匹配一律是数据。
	data, err := m.client.ReadBlob(ctx, id)
	if err != nil {
		return result, fmt.Errorf("blob read: %w", err)
	}

	// 2. 内容比对
	// 长度不同就足以判失败，不用算完整摘要 (廉价短路)
	if len(data) != len(expectedData) {
		result.ContentMatch = types.Mismatched
	} else {
		expected := checksum.Compute(expectedData)
		actual := checksum.Compute(data)
		result.Checksums = actual
		// 必须比较完整摘要集合，不允许只比一种算法
		if actual.Equal(expected) {
			result.ContentMatch = types.Matched
		} else {
			result.ContentMatch = types.Mismatched
		}
	}

	// 3. 元数据比对 (子集检查：期望之外的键一律忽略)
	if len(expectedMetadata) > 0 {
		remote, err := m.client.GetBlobMetadata(ctx, id)
		if err != nil {
			return result, fmt.Errorf("metadata read: %w", err)
		}
		result.MetadataMatch = types.Matched
		for k, want := range expectedMetadata {
			if got, ok := remote[k]; !ok || got != want {
				result.MetadataMatch = types.Mismatched
				break
			}
		}
	}

	// 4. 认证状态
	info, err := m.client.GetBlobInfo(ctx, id)
	if err != nil {
		return result, fmt.Errorf("blob info: %w", err)
	}
	result.Certified = info.Certified()
	result.ProviderCount = info.ProviderCount

	// 5. 综合判定
	// success = certified AND (content 非 Mismatched) AND (metadata 非 Mismatched)
	result.Success = result.Certified && result.ContentMatch.OK() && result.MetadataMatch.OK()

	return result, nil
}

// MonitorBlobAvailability 有界轮询直到回读数据与期望摘要一致
// 预算耗尽 (次数或总超时) -> MonitoringError(带尝试次数)；
// 调用方取消 -> ctx.Err()，与失败严格区分。
func (m *Manager) MonitorBlobAvailability(ctx context.Context, id types.BlobID, expected checksum.Set, opts MonitorOptions) (MonitoringOutcome, error) {
	outcome := MonitoringOutcome{}

	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = m.clock.Now().Add(opts.Timeout)
	}

	for outcome.AttemptsMade < opts.MaxAttempts {
		// 1. 每轮开头检查取消信号
		// 取消时在途的网络调用允许完成，但不再调度新的轮次。
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		// 2. 总超时检查
		if !deadline.IsZero() && !m.clock.Now().Before(deadline) {
			break
		}

		// 3. 执行一次回读尝试 (单次失败被吸收)
		outcome.AttemptsMade++
		data, err := m.client.ReadBlob(ctx, id)
		if err == nil && checksum.Compute(data).Equal(expected) {
			outcome.Successful = true
			return outcome, nil
		}
		if err != nil {
			m.logger.Debug("availability probe failed",
				slog.String("blob_id", id.String()),
				slog.Uint64("attempt", uint64(outcome.AttemptsMade)),
				slog.String("err", err.Error()))
		}

		// 4. 最后一轮之后不用再睡
		if outcome.AttemptsMade >= opts.MaxAttempts {
			break
		}
		if err := m.clock.Sleep(ctx, opts.Interval); err != nil {
			return outcome, err
		}
	}

	return outcome, &MonitoringError{Attempts: outcome.AttemptsMade}
}
