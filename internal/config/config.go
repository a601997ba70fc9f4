package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Auth   AuthConfig   `mapstructure:"auth"`
	NATS   NATSConfig   `mapstructure:"nats"`
	API    APIConfig    `mapstructure:"api"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Poll   PollConfig   `mapstructure:"poll"`
	Typing TypingConfig `mapstructure:"typing"`
	HTTP   HTTPConfig   `mapstructure:"http"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
}

// AuthConfig viewer 访问令牌配置
// 令牌由外部会话服务签发，这里只负责解析出 viewer 用户 ID
type AuthConfig struct {
	Token  string `mapstructure:"token"`
	Secret string `mapstructure:"secret"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// APIConfig REST 后端配置
type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	PageLimit int           `mapstructure:"page_limit"`
}

type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	SnapshotEnabled bool          `mapstructure:"snapshot_enabled"`
	SnapshotTTL     time.Duration `mapstructure:"snapshot_ttl"`
}

// GetAddr 获取 Redis 地址
func (c *RedisConfig) GetAddr() string {
	if c.Addr != "" {
		return c.Addr
	}
	if c.Host != "" && c.Port > 0 {
		return fmt.Sprintf("%s:%d", c.Host, c.Port)
	}
	return "localhost:6379"
}

// PollConfig 轮询兜底配置
type PollConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Jitter    time.Duration `mapstructure:"jitter"`
	Workers   int           `mapstructure:"workers"`
	QueueSize int           `mapstructure:"queue_size"`
}

// TypingConfig 输入状态配置
type TypingConfig struct {
	Throttle      time.Duration `mapstructure:"throttle"`
	Expiry        time.Duration `mapstructure:"expiry"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type HTTPConfig struct {
	Addr           string   `mapstructure:"addr"`
	Mode           string   `mapstructure:"mode"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load 从指定路径加载配置
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
