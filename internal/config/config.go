package config

import (
	"github.com/blues/spl/internal/logger"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Fallback FallbackConfig `mapstructure:"fallback"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Task     TaskConfig     `mapstructure:"task"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port    string `mapstructure:"port"`
	Mode    string `mapstructure:"mode"`
	BaseUrl string `mapstructure:"base_url"` // 分享链接的前缀
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// FallbackConfig 本地降级存储配置
type FallbackConfig struct {
	Backend       string `mapstructure:"backend"` // file 或 redis，为空表示未配置
	Path          string `mapstructure:"path"`    // file 后端的存储文件路径
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// ChainConfig 链配置
type ChainConfig struct {
	ChainType      string `mapstructure:"chain_type"`      // 链类型 (ethereum, polygon, etc.)
	ChainId        int64  `mapstructure:"chain_id"`        // 链ID
	RpcUrl         string `mapstructure:"rpc_url"`         // RPC节点URL，为空表示仅记账模式
	Confirmations  int64  `mapstructure:"confirmations"`   // 确认区块数
	ConfirmTimeout int    `mapstructure:"confirm_timeout"` // 等待确认的超时时间（秒）
	EscrowAddress  string `mapstructure:"escrow_address"`  // 领取托管合约地址，为空表示未部署
	TokenAddress   string `mapstructure:"token_address"`   // 稳定币合约地址
	Decimals       int32  `mapstructure:"decimals"`        // 主单位到最小单位的小数位数
}

type TaskConfig struct {
	ExpiryInterval    int `mapstructure:"expiry_interval"`    // 过期扫描间隔（秒）
	ReconcileInterval int `mapstructure:"reconcile_interval"` // 降级存储回放间隔（秒）
}

// MonitorConfig 链上事件监控配置
type MonitorConfig struct {
	Interval   int   `mapstructure:"interval"`    // 轮询间隔（秒）
	StartBlock int64 `mapstructure:"start_block"` // 起始区块号
	BatchSize  int64 `mapstructure:"batch_size"`  // 单次拉取的区块数
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error, fatal
	Output string `mapstructure:"output"` // 输出目标: stdout, file
	File   string `mapstructure:"file"`   // 日志文件路径（当output为file时使用）
}

func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/spl")

	// 设置默认值
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("server.base_url", "http://localhost:8080")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.dbname", "spl")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("fallback.backend", "file")
	viper.SetDefault("fallback.path", "data/fallback.json")
	viper.SetDefault("chain.chain_type", "ethereum")
	viper.SetDefault("chain.confirmations", 4)
	viper.SetDefault("chain.confirm_timeout", 60)
	viper.SetDefault("chain.decimals", 6)
	viper.SetDefault("task.expiry_interval", 60)
	viper.SetDefault("task.reconcile_interval", 120)
	viper.SetDefault("monitor.interval", 60)
	viper.SetDefault("monitor.batch_size", 500)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.file", "logs/app.log")

	// 自动读取环境变量
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		logger.Warn("Warning: Could not read config file: %v", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		logger.Fatal("Unable to decode config into struct: %v", err)
	}

	return &config
}
