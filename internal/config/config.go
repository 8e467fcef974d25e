package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	WorkerID int64  `mapstructure:"worker_id"`
	LogLevel string `mapstructure:"log_level"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	WalletEvent string `mapstructure:"wallet_event"`
	ThriftEvent string `mapstructure:"thrift_event"`
}

type BusinessConfig struct {
	Timezone                       string `mapstructure:"timezone"`
	ContributionCron               string `mapstructure:"contribution_cron"`
	SettlementSweepIntervalSeconds int    `mapstructure:"settlement_sweep_interval_seconds"`
	PendingCreditTimeoutMinutes    int    `mapstructure:"pending_credit_timeout_minutes"`
	MaxRetryCount                  int    `mapstructure:"max_retry_count"`
	BatchSize                      int    `mapstructure:"batch_size"`
}

// GatewayConfig 支付网关回调配置
type GatewayConfig struct {
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// Location 返回业务时区，日切以该时区为准
func (b BusinessConfig) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (b BusinessConfig) SweepInterval() time.Duration {
	if b.SettlementSweepIntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(b.SettlementSweepIntervalSeconds) * time.Second
}

func (b BusinessConfig) PendingCreditTimeout() time.Duration {
	if b.PendingCreditTimeoutMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(b.PendingCreditTimeoutMinutes) * time.Minute
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("kafka.topic.wallet_event", "wallet_event")
	v.SetDefault("kafka.topic.thrift_event", "thrift_event")
	v.SetDefault("business.timezone", "Africa/Lagos")
	v.SetDefault("business.contribution_cron", "0 1 * * *")
	v.SetDefault("business.settlement_sweep_interval_seconds", 300)
	v.SetDefault("business.pending_credit_timeout_minutes", 30)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.batch_size", 200)
}

var GlobalConfig *Config

// Load 加载配置文件，环境变量 THRIFT_* 覆盖文件配置（如 THRIFT_MYSQL_PASSWORD）
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("THRIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	GlobalConfig = cfg
	return cfg, nil
}

// Default 返回仅含默认值的配置，测试与命令行工具在无配置文件时使用
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}
