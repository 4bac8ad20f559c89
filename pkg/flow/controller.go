package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"blobvault/pkg/allocation"
	"blobvault/pkg/meta"
	"blobvault/pkg/netstore"
	"blobvault/pkg/verify"
	"blobvault/pkg/verify/receipt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Stage 标识流程失败发生在哪一步
type Stage string

const (
	StageAllocation   Stage = "allocation"
	StageUpload       Stage = "upload"
	StageAttributes   Stage = "attributes"
	StageVerification Stage = "verification"
	StageMonitoring   Stage = "monitoring"
)

// FlowError 包装底层错误并标注失败的阶段
// 包装是有意为之：调用方借此区分“编排在第 N 步断了”和“某个组件内部出错”。
// Unwrap 保留原始错误链，errors.Is/As 照常工作。
type FlowError struct {
	Stage Stage
	Err   error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("verification flow failed at %s stage: %v", e.Stage, e.Err)
}

func (e *FlowError) Unwrap() error { return e.Err }

// Options 控制一次完整流程
type Options struct {
	// DurationDays: 存储时长，参与额度计算
	DurationDays uint32

	// Upload: 透传给 VerifyUpload
	Upload verify.UploadOptions

	// Attributes: 上传成功后写到 Blob 上的属性 (nil 跳过该阶段)
	Attributes map[string]string

	// VerifyReadback: 是否做回读验证
	VerifyReadback bool

	// ExpectedMetadata: 回读验证时要求匹配的元数据子集
	ExpectedMetadata map[string]string

	// Monitor: 非 nil 时在最后执行可用性监控
	Monitor *verify.MonitorOptions

	// MaxConcurrency: RunBatch 的并发上限 (0 表示不限)
	MaxConcurrency int
}

// Result 是一次流程的综合结果
type Result struct {
	OperationID string
	Allocation  allocation.Status
	Upload      verify.UploadReceipt
	Readback    *verify.Result
	Monitoring  *verify.MonitoringOutcome
}

// Controller 把各组件串成一条流水线:
// 准入 -> 上传验证 -> (可选)属性写入 -> (可选)回读验证 -> (可选)可用性监控
// 任何一步失败就短路余下阶段，以 FlowError 浮出。
type Controller struct {
	alloc    *allocation.Manager
	verifier *verify.Manager
	client   netstore.Client
	clock    verify.Clock

	// repo 非 nil 时，回读验证的回执会归档进审计存档
	repo *meta.Repository

	logger *slog.Logger
}

func NewController(alloc *allocation.Manager, verifier *verify.Manager, client netstore.Client, clock verify.Clock, repo *meta.Repository, logger *slog.Logger) *Controller {
	if clock == nil {
		clock = verify.SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		alloc:    alloc,
		verifier: verifier,
		client:   client,
		clock:    clock,
		repo:     repo,
		logger:   logger,
	}
}

// Run 执行一条完整的上传验证流水线
// 准入永远在传输任何字节之前 (allocate-then-write，见 allocation 包)。
func (c *Controller) Run(ctx context.Context, data []byte, opts Options) (Result, error) {
	result := Result{OperationID: uuid.NewString()}
	log := c.logger.With(slog.String("op_id", result.OperationID))

	// --- Stage 1: 准入控制 ---
	required, err := c.alloc.CalculateRequiredStorage(uint64(len(data)), opts.DurationDays)
	if err != nil {
		return result, &FlowError{Stage: StageAllocation, Err: err}
	}

	status, err := c.alloc.EnsureStorageAllocated(ctx, required)
	if err != nil {
		return result, &FlowError{Stage: StageAllocation, Err: err}
	}
	result.Allocation = status
	log.Info("storage allocation admitted",
		slog.Uint64("required_tokens", required),
		slog.Uint64("available_tokens", status.AvailableTokens))

	// --- Stage 2: 上传 + 验证 ---
	uploadReceipt, err := c.verifier.VerifyUpload(ctx, data, opts.Upload)
	if err != nil {
		return result, &FlowError{Stage: StageUpload, Err: err}
	}
	result.Upload = uploadReceipt
	log.Info("blob uploaded",
		slog.String("blob_id", uploadReceipt.BlobID.String()),
		slog.Bool("certified", uploadReceipt.Certified))

	// --- Stage 3: 属性写入 (可选) ---
	if len(opts.Attributes) > 0 {
		if err := c.client.WriteAttributes(ctx, uploadReceipt.BlobID, opts.Attributes); err != nil {
			return result, &FlowError{Stage: StageAttributes, Err: err}
		}
	}

	// --- Stage 4: 回读验证 (可选) ---
	if opts.VerifyReadback {
		res, err := c.verifier.VerifyBlob(ctx, uploadReceipt.BlobID, data, opts.ExpectedMetadata)
		if err != nil {
			return result, &FlowError{Stage: StageVerification, Err: err}
		}
		result.Readback = &res
		c.archiveReceipt(ctx, result.OperationID, res, log)
	}

	// --- Stage 5: 可用性监控 (可选) ---
	if opts.Monitor != nil {
		outcome, err := c.verifier.MonitorBlobAvailability(ctx, uploadReceipt.BlobID, uploadReceipt.Checksums, *opts.Monitor)
		result.Monitoring = &outcome
		if err != nil {
			return result, &FlowError{Stage: StageMonitoring, Err: err}
		}
	}

	return result, nil
}

// archiveReceipt 把回读验证的回执写入审计存档
// 归档失败不影响流程成功判定 (非关键路径)，但要记日志。
func (c *Controller) archiveReceipt(ctx context.Context, opID string, res verify.Result, log *slog.Logger) {
	if c.repo == nil {
		return
	}

	rcpt := receipt.FromResult(opID, res, c.clock.Now())
	digest, _, err := receipt.Digest(rcpt)
	if err != nil {
		log.Warn("failed to digest verification receipt", slog.String("err", err.Error()))
		return
	}

	payload, err := json.Marshal(rcpt)
	if err != nil {
		log.Warn("failed to marshal verification receipt", slog.String("err", err.Error()))
		return
	}

	if err := c.repo.SaveReceipt(ctx, digest, res.BlobID, payload); err != nil {
		log.Warn("failed to archive verification receipt",
			slog.String("blob_id", res.BlobID.String()),
			slog.String("err", err.Error()))
	}
}

// RunBatch 并发处理一批互不相关的 Blob
// 单个 Blob 内部严格串行，跨 Blob 没有共享可变状态，所以可以放心并发——
// 这是批量负载的预期扩展方式。结果按输入顺序排列。
func (c *Controller) RunBatch(ctx context.Context, blobs [][]byte, opts Options) ([]Result, error) {
	results := make([]Result, len(blobs))

	g, gctx := errgroup.WithContext(ctx)
	if opts.MaxConcurrency > 0 {
		g.SetLimit(opts.MaxConcurrency)
	}

	for i, data := range blobs {
		g.Go(func() error {
			res, err := c.Run(gctx, data, opts)
			results[i] = res
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
