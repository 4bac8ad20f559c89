package local

import (
	"context"
	"fmt"
	"testing"
	"time"

	"blobvault/pkg/blobstore/disk"
	"blobvault/pkg/checksum"
	"blobvault/pkg/meta"
	"blobvault/pkg/netstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupClient 构建磁盘 + 内存 SQLite 的本地聚合器
func setupClient(t *testing.T, cfg Config) (*Client, *meta.Repository) {
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

	if len(cfg.Providers) == 0 {
		cfg.Providers = []string{"node-a", "node-b"}
	}
	return NewClient(store, repo, cfg), repo
}

func TestClient_WriteRead_RoundTrip(t *testing.T) {
	client, _ := setupClient(t, Config{AutoCertify: true})
	ctx := context.Background()

	data := []byte("local aggregator payload")
	id, err := client.WriteBlob(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, checksum.Compute(data).BlobID(), id, "blob id is the content address")

	got, err := client.ReadBlob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestClient_BlobInfo_Certification(t *testing.T) {
	ctx := context.Background()

	// 1. AutoCertify 关闭：记录存在但未认证
	client, repo := setupClient(t, Config{AutoCertify: false})
	id, err := client.WriteBlob(ctx, []byte("pending"))
	require.NoError(t, err)

	info, err := client.GetBlobInfo(ctx, id)
	require.NoError(t, err)
	assert.False(t, info.Certified())
	require.NotNil(t, info.RegisteredEpoch)
	assert.Equal(t, uint32(2), info.ProviderCount)

	// 2. 网络观察者稍后上报认证
	require.NoError(t, repo.SetCertified(ctx, id, 99))
	info, err = client.GetBlobInfo(ctx, id)
	require.NoError(t, err)
	assert.True(t, info.Certified())
}

func TestClient_BlobInfo_NotFound(t *testing.T) {
	client, _ := setupClient(t, Config{})
	missing := checksum.Compute([]byte("ghost")).BlobID()

	_, err := client.GetBlobInfo(context.Background(), missing)
	assert.ErrorIs(t, err, netstore.ErrNotFound)

	_, err = client.ReadBlob(context.Background(), missing)
	assert.ErrorIs(t, err, netstore.ErrNotFound)
}

func TestClient_QuotaRejection(t *testing.T) {
	// 写入时的配额拒绝必须是可识别的可重试错误类
	client, _ := setupClient(t, Config{QuotaBytes: 10})
	ctx := context.Background()

	_, err := client.WriteBlob(ctx, []byte("this payload exceeds ten bytes"))
	assert.ErrorIs(t, err, netstore.ErrQuotaExceeded)

	// 小的写入仍然放行
	_, err = client.WriteBlob(ctx, []byte("tiny"))
	assert.NoError(t, err)
}

func TestClient_Attributes(t *testing.T) {
	client, _ := setupClient(t, Config{AutoCertify: true})
	ctx := context.Background()

	id, err := client.WriteBlob(ctx, []byte("with attrs"))
	require.NoError(t, err)

	require.NoError(t, client.WriteAttributes(ctx, id, map[string]string{"kind": "todo"}))
	require.NoError(t, client.WriteAttributes(ctx, id, map[string]string{"owner": "alice"}))

	attrs, err := client.GetBlobMetadata(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"kind": "todo", "owner": "alice"}, attrs)

	// 不存在的 Blob
	missing := checksum.Compute([]byte("nope")).BlobID()
	assert.ErrorIs(t, client.WriteAttributes(ctx, missing, map[string]string{"x": "y"}), netstore.ErrNotFound)
}

func TestClient_VerifyPoA(t *testing.T) {
	client, _ := setupClient(t, Config{AutoCertify: true})
	ctx := context.Background()

	id, err := client.WriteBlob(ctx, []byte("available"))
	require.NoError(t, err)

	ok, err := client.VerifyPoA(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	// 没存过的 Blob 不可用，但不是错误
	missing := checksum.Compute([]byte("gone")).BlobID()
	ok, err = client.VerifyPoA(ctx, missing)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_EpochDerivation(t *testing.T) {
	client, _ := setupClient(t, Config{
		Genesis:       time.Unix(0, 0),
		EpochDuration: time.Hour,
	})

	// 固定当前时间：距 Genesis 25 小时 -> Epoch 25
	client.nowFn = func() time.Time { return time.Unix(25*3600+30, 0) }
	assert.Equal(t, uint64(25), uint64(client.currentEpoch()))
}

func TestOracle_UsageFromLedger(t *testing.T) {
	client, repo := setupClient(t, Config{})
	ctx := context.Background()

	oracle := NewOracle(repo, OracleConfig{
		TokenBalance:       2000,
		StorageFundBalance: 300,
		AllocatedTokens:    100,
	})

	// 空账本：用量 0
	usage, err := oracle.StorageUsage(ctx)
	require.NoError(t, err)
	require.NotNil(t, usage)
	assert.Equal(t, uint64(0), usage.UsedTokens)
	assert.Equal(t, uint64(100), usage.TotalTokens)

	// 写入 1 字节也要占 1 Token (向上取整)
	_, err = client.WriteBlob(ctx, []byte("x"))
	require.NoError(t, err)

	usage, err = oracle.StorageUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), usage.UsedTokens)

	tokens, err := oracle.TokenBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), tokens)
}
