package flow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"blobvault/pkg/allocation"
	"blobvault/pkg/blobstore/disk"
	"blobvault/pkg/checksum"
	"blobvault/pkg/meta"
	"blobvault/pkg/netstore"
	"blobvault/pkg/netstore/local"
	"blobvault/pkg/types"
	"blobvault/pkg/verify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupController 组装一条完整的本地流水线:
// 磁盘存储 + 内存 SQLite 账本 + 本地聚合器 + 本地预言机
func setupController(t *testing.T, oracleCfg local.OracleConfig) (*Controller, *meta.Repository) {
	store, err := disk.NewAdapter(t.TempDir())
	require.NoError(t, err)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	metaDB := meta.NewWithConn(db)
	require.NoError(t, metaDB.AutoMigrate(&meta.BlobModel{}, &meta.ReceiptModel{}))
	repo := meta.NewRepository(metaDB)

	client := local.NewClient(store, repo, local.Config{
		Providers:   []string{"node-a", "node-b", "node-c"},
		AutoCertify: true,
	})
	oracle := local.NewOracle(repo, oracleCfg)

	alloc := allocation.NewManager(oracle, allocation.Config{}, nil)
	verifier := verify.NewManager(client, nil, nil)

	return NewController(alloc, verifier, client, nil, repo, nil), repo
}

func TestRun_FullPipeline(t *testing.T) {
	ctrl, repo := setupController(t, local.OracleConfig{
		TokenBalance:       5000,
		StorageFundBalance: 1000,
		AllocatedTokens:    1000,
	})
	ctx := context.Background()

	data := []byte("full pipeline payload")
	result, err := ctrl.Run(ctx, data, Options{
		DurationDays: 30,
		Upload: verify.UploadOptions{
			WaitForCertification: true,
			WaitTimeout:          time.Second,
			PollInterval:         10 * time.Millisecond,
			MinProviders:         2,
		},
		Attributes:       map[string]string{"kind": "doc"},
		VerifyReadback:   true,
		ExpectedMetadata: map[string]string{"kind": "doc"},
		Monitor: &verify.MonitorOptions{
			Interval:    time.Millisecond,
			MaxAttempts: 3,
		},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.OperationID)
	assert.Equal(t, checksum.Compute(data).BlobID(), result.Upload.BlobID)
	assert.True(t, result.Upload.Certified)
	assert.True(t, result.Upload.HasMinProviders)

	require.NotNil(t, result.Readback)
	assert.True(t, result.Readback.Success)
	assert.Equal(t, types.Matched, result.Readback.ContentMatch)
	assert.Equal(t, types.Matched, result.Readback.MetadataMatch)

	require.NotNil(t, result.Monitoring)
	assert.True(t, result.Monitoring.Successful)
	assert.Equal(t, uint32(1), result.Monitoring.AttemptsMade)

	// 回读验证的回执已归档
	receipts, err := repo.FindReceiptsByBlob(ctx, result.Upload.BlobID, 10)
	require.NoError(t, err)
	assert.Len(t, receipts, 1)
}

func TestRun_AllocationGateBlocksUpload(t *testing.T) {
	// 可用额度 0：准入必须在传输任何字节之前拒绝
	ctrl, repo := setupController(t, local.OracleConfig{
		TokenBalance:    5000,
		AllocatedTokens: 0,
	})
	ctx := context.Background()

	_, err := ctrl.Run(ctx, []byte("should never be written"), Options{DurationDays: 1})

	var flowErr *FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, StageAllocation, flowErr.Stage)
	assert.ErrorIs(t, err, allocation.ErrInsufficientStorage)

	// 账本上没有任何写入痕迹
	total, err := repo.TotalBlobBytes(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestRun_InvalidArgumentIsAllocationStage(t *testing.T) {
	ctrl, _ := setupController(t, local.OracleConfig{AllocatedTokens: 100})

	_, err := ctrl.Run(context.Background(), []byte("x"), Options{DurationDays: 0})

	var flowErr *FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, StageAllocation, flowErr.Stage)
	assert.ErrorIs(t, err, allocation.ErrInvalidArgument)
}

// brokenClient 在写入时固定失败，其余操作不应该被触达
type brokenClient struct {
	writeErr error
}

func (c *brokenClient) WriteBlob(ctx context.Context, data []byte) (types.BlobID, error) {
	return "", c.writeErr
}
func (c *brokenClient) ReadBlob(ctx context.Context, id types.BlobID) ([]byte, error) {
	return nil, netstore.ErrNotFound
}
func (c *brokenClient) GetBlobInfo(ctx context.Context, id types.BlobID) (netstore.BlobInfo, error) {
	return netstore.BlobInfo{}, netstore.ErrNotFound
}
func (c *brokenClient) GetBlobMetadata(ctx context.Context, id types.BlobID) (map[string]string, error) {
	return nil, netstore.ErrNotFound
}
func (c *brokenClient) GetStorageProviders(ctx context.Context, id types.BlobID) ([]string, error) {
	return nil, nil
}
func (c *brokenClient) VerifyPoA(ctx context.Context, id types.BlobID) (bool, error) {
	return false, nil
}
func (c *brokenClient) WriteAttributes(ctx context.Context, id types.BlobID, attrs map[string]string) error {
	return nil
}

// staticOracle 永远放行准入
type staticOracle struct{}

func (staticOracle) TokenBalance(ctx context.Context) (uint64, error)       { return 10000, nil }
func (staticOracle) StorageFundBalance(ctx context.Context) (uint64, error) { return 10000, nil }
func (staticOracle) StorageUsage(ctx context.Context) (*netstore.StorageUsage, error) {
	return &netstore.StorageUsage{UsedTokens: 0, TotalTokens: 10000}, nil
}

func TestRun_UploadStageWrapsCause(t *testing.T) {
	cause := errors.New("backend exploded")
	client := &brokenClient{writeErr: cause}

	ctrl := NewController(
		allocation.NewManager(staticOracle{}, allocation.Config{}, nil),
		verify.NewManager(client, nil, nil),
		client, nil, nil, nil,
	)

	_, err := ctrl.Run(context.Background(), []byte("doomed"), Options{DurationDays: 1})

	var flowErr *FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, StageUpload, flowErr.Stage)
	// FlowError 包装保留原始错误链
	assert.ErrorIs(t, err, cause)
}

func TestRunBatch_Concurrent(t *testing.T) {
	ctrl, _ := setupController(t, local.OracleConfig{
		TokenBalance:    5000,
		AllocatedTokens: 1000,
	})

	blobs := [][]byte{
		[]byte("batch blob one"),
		[]byte("batch blob two"),
		[]byte("batch blob three"),
	}

	results, err := ctrl.RunBatch(context.Background(), blobs, Options{
		DurationDays:   7,
		MaxConcurrency: 2,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// 结果按输入顺序排列，操作 ID 各不相同
	seen := make(map[string]bool)
	for i, res := range results {
		assert.Equal(t, checksum.Compute(blobs[i]).BlobID(), res.Upload.BlobID)
		assert.False(t, seen[res.OperationID], "operation ids must be unique")
		seen[res.OperationID] = true
	}
}
