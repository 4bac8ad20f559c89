// pkg/app/app.go
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"blobvault/pkg/allocation"
	"blobvault/pkg/blobstore"
	"blobvault/pkg/blobstore/cache"
	"blobvault/pkg/blobstore/disk"
	"blobvault/pkg/blobstore/s3"
	"blobvault/pkg/flow"
	"blobvault/pkg/meta"
	"blobvault/pkg/netstore"
	"blobvault/pkg/netstore/local"
	"blobvault/pkg/verify"

	"github.com/spf13/viper"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有“单例”服务
type App struct {
	Store    blobstore.Store
	Repo     *meta.Repository
	Client   netstore.Client
	Oracle   netstore.BalanceOracle
	Alloc    *allocation.Manager
	Verifier *verify.Manager
	Flow     *flow.Controller

	RepoPath string
}

// NewApp 是工厂函数，负责组装这一台机器
// 它遵循 Viper 的配置，但不知道具体的 CLI 命令
func NewApp(ctx context.Context) (*App, error) {
	// 1. 获取仓库根路径 (Single Source of Truth)
	storePath := viper.GetString("storage.path")
	if storePath == "" {
		return nil, fmt.Errorf("storage path not set")
	}
	repoPath := filepath.Dir(storePath)

	// 2. 初始化存储层 (Dependency Injection)
	store, err := initStore(ctx, repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}

	// 3. 初始化账本镜像数据库
	repo, err := initRepo(ctx, repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to init ledger database: %w", err)
	}

	// 4. 本地聚合器 + 预言机
	client := local.NewClient(store, repo, local.Config{
		Providers:     viper.GetStringSlice("aggregator.providers"),
		AutoCertify:   viper.GetBool("aggregator.auto_certify"),
		EpochDuration: viper.GetDuration("aggregator.epoch_duration"),
		QuotaBytes:    viper.GetUint64("aggregator.quota_bytes"),
	})
	oracle := local.NewOracle(repo, local.OracleConfig{
		TokenBalance:       viper.GetUint64("oracle.token_balance"),
		StorageFundBalance: viper.GetUint64("oracle.fund_balance"),
		AllocatedTokens:    viper.GetUint64("oracle.allocated_tokens"),
	})

	// 5. 引擎层
	alloc := allocation.NewManager(oracle, allocation.Config{
		MinAllocationTokens:  viper.GetUint64("allocation.min_tokens"),
		MinStorageFundTokens: viper.GetUint64("allocation.min_fund_tokens"),
		WarnUtilization:      viper.GetFloat64("allocation.warn_utilization"),
	}, nil)
	verifier := verify.NewManager(client, nil, nil)
	controller := flow.NewController(alloc, verifier, client, nil, repo, nil)

	return &App{
		Store:    store,
		Repo:     repo,
		Client:   client,
		Oracle:   oracle,
		Alloc:    alloc,
		Verifier: verifier,
		Flow:     controller,
		RepoPath: repoPath,
	}, nil
}

// initStore 根据配置选择存储后端，可选叠加 Redis 存在性缓存
func initStore(ctx context.Context, repoPath string) (blobstore.Store, error) {
	var backend blobstore.Store

	switch storageType := viper.GetString("storage.type"); storageType {
	case "disk", "":
		store, err := disk.NewAdapter(viper.GetString("storage.path"))
		if err != nil {
			return nil, err
		}
		backend = store

	case "s3":
		bucket := viper.GetString("storage.s3.bucket")
		if bucket == "" {
			return nil, fmt.Errorf("s3 bucket is required")
		}
		store, err := s3.NewAdapter(ctx, s3.Config{
			Endpoint:        viper.GetString("storage.s3.endpoint"),
			Region:          viper.GetString("storage.s3.region"),
			Bucket:          bucket,
			AccessKeyID:     viper.GetString("storage.s3.access_key"),
			SecretAccessKey: viper.GetString("storage.s3.secret_key"),
		})
		if err != nil {
			return nil, err
		}
		backend = store

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}

	// 缓存是装饰器：任何后端都可以叠加
	if viper.GetBool("cache.enabled") {
		cached, err := cache.NewCachedStore(backend, cache.Config{
			RedisURL: "redis://" + viper.GetString("cache.addr"),
			TTL:      24 * time.Hour,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init redis cache: %w", err)
		}
		return cached, nil
	}

	return backend, nil
}

// initRepo 打开账本镜像数据库
// CLI 场景默认用仓库目录下的 SQLite 文件；服务器部署切到 Postgres。
func initRepo(ctx context.Context, repoPath string) (*meta.Repository, error) {
	switch driver := viper.GetString("database.driver"); driver {
	case "postgres":
		db, err := meta.NewDB(ctx, meta.Config{
			Host:     viper.GetString("database.host"),
			Port:     viper.GetInt("database.port"),
			User:     viper.GetString("database.user"),
			Password: viper.GetString("database.password"),
			DBName:   viper.GetString("database.dbname"),
			SSLMode:  viper.GetString("database.sslmode"),
		})
		if err != nil {
			return nil, err
		}
		return meta.NewRepository(db), nil

	case "sqlite", "":
		if err := os.MkdirAll(repoPath, 0o755); err != nil {
			return nil, err
		}
		dbPath := viper.GetString("database.path")
		if dbPath == "" {
			dbPath = filepath.Join(repoPath, "ledger.db")
		}
		conn, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		db := meta.NewWithConn(conn)
		if err := db.AutoMigrate(&meta.BlobModel{}, &meta.ReceiptModel{}); err != nil {
			return nil, err
		}
		return meta.NewRepository(db), nil

	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}
