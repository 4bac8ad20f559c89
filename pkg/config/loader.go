package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	// 1. 设置默认值 (Defaults)
	setDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		// 如果用户指定了文件，直接使用
		viper.SetConfigFile(cfgFile)
	} else {
		// 否则按优先级搜索
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		// 搜索顺序：
		// 1. 当前目录
		viper.AddConfigPath(".")
		// 2. 当前目录下的 .bv
		viper.AddConfigPath(".bv")
		// 3. 用户主目录下的 .bv
		viper.AddConfigPath(filepath.Join(home, ".bv"))

		viper.SetConfigType("yaml")
		viper.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量 (BV_DATABASE_HOST 等)
	viper.SetEnvPrefix("BV")
	viper.AutomaticEnv()

	// 4. 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		// 如果只是没找到配置文件，但可能有环境变量，不一定算错
		// 但如果是配置文件格式错，那就是错
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("⚠️  No config file found, using defaults/env vars")
		} else {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	} else {
		fmt.Println("🔧 Using config file:", viper.ConfigFileUsed())
	}

	return nil
}

func setDefaults() {
	// 数据库默认值
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")

	// 存储默认值
	wd, _ := os.Getwd()
	defaultStorePath := filepath.Join(wd, ".bv", "blobs")
	viper.SetDefault("storage.path", defaultStorePath)
	viper.SetDefault("storage.type", "disk")

	// Redis 存在性缓存 (默认关闭)
	viper.SetDefault("cache.enabled", false)
	viper.SetDefault("cache.addr", "localhost:6379")

	// 本地聚合器
	viper.SetDefault("aggregator.providers", []string{"local-node"})
	viper.SetDefault("aggregator.auto_certify", true)
	viper.SetDefault("aggregator.epoch_duration", "24h")
	viper.SetDefault("aggregator.quota_bytes", 0)

	// 余额/准入
	viper.SetDefault("allocation.min_tokens", 0)
	viper.SetDefault("allocation.min_fund_tokens", 0)
	viper.SetDefault("allocation.warn_utilization", 0.8)
	viper.SetDefault("oracle.token_balance", 10000)
	viper.SetDefault("oracle.fund_balance", 10000)
	viper.SetDefault("oracle.allocated_tokens", 10000)

	// 验证默认值
	viper.SetDefault("verify.wait_for_certification", true)
	viper.SetDefault("verify.wait_timeout", "30s")
	viper.SetDefault("verify.poll_interval", "2s")
	viper.SetDefault("verify.min_providers", 1)
}
