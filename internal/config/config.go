// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 先读取 .env (若存在), 再使用反射自动填充。
package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/joho/godotenv"

	"github.com/multi-agent/agent-sync/pkg/logger"
	"github.com/multi-agent/agent-sync/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// 后端连接
	BackendURL          string `env:"SYNC_BACKEND_URL" default:"ws://127.0.0.1:8000/ws"`
	HandshakeTimeoutMS  int    `env:"SYNC_HANDSHAKE_TIMEOUT_MS" default:"5000" min:"100"`
	WriteTimeoutMS      int    `env:"SYNC_WRITE_TIMEOUT_MS" default:"5000" min:"100"`
	PingIntervalSec     int    `env:"SYNC_PING_INTERVAL_SEC" default:"25" min:"1"`
	ReadIdleTimeoutSec  int    `env:"SYNC_READ_IDLE_TIMEOUT_SEC" default:"75" min:"1"`
	ReconnectMaxAttempt int    `env:"SYNC_RECONNECT_MAX_ATTEMPTS" default:"5" min:"0"`
	ReconnectBaseMS     int    `env:"SYNC_RECONNECT_BASE_DELAY_MS" default:"1000" min:"10"`
	ReconnectMaxMS      int    `env:"SYNC_RECONNECT_MAX_DELAY_MS" default:"5000" min:"10"`

	// 派生状态
	FallbackIdleMS   int    `env:"SYNC_FALLBACK_IDLE_MS" default:"350" min:"1"`
	DedupeCacheSize  int    `env:"SYNC_DEDUPE_CACHE_SIZE" default:"512" min:"1"`
	InitialSessionID string `env:"SYNC_SESSION_ID"`

	// 调试面板 (空 = 关闭)
	DebugListen string `env:"DEBUG_LISTEN"`

	// PostgreSQL 归档 (空 = 关闭)
	PostgresConnStr     string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresSchema      string `env:"POSTGRES_SCHEMA" default:"public"`
	PostgresPoolMinSize int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize int    `env:"POSTGRES_POOL_MAX_SIZE" default:"4" min:"1"`
	MigrationsDir       string `env:"MIGRATIONS_DIR"` // 空 = 使用内嵌脚本

	// 日志
	LogLevel string `env:"LOG_LEVEL" default:"INFO"`
	AppEnv   string `env:"APP_ENV" default:"production"`
}

// Load 从 .env 与环境变量加载配置。已存在的环境变量优先于 .env。
func Load() *Config {
	return LoadFiles(".env")
}

// LoadFiles 同 Load, 但可指定 .env 文件列表; 缺失的文件被忽略。
func LoadFiles(files ...string) *Config {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("config: .env load failed", logger.FieldPath, f, logger.FieldError, err)
		}
	}
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}

// HandshakeTimeout 返回握手超时。
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMS) * time.Millisecond
}

// WriteTimeout 返回写超时。
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMS) * time.Millisecond
}

// PingInterval 返回 ping 间隔。
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSec) * time.Second
}

// ReadIdleTimeout 返回读空闲超时。
func (c *Config) ReadIdleTimeout() time.Duration {
	return time.Duration(c.ReadIdleTimeoutSec) * time.Second
}

// ReconnectBaseDelay 返回首次重连延迟。
func (c *Config) ReconnectBaseDelay() time.Duration {
	return time.Duration(c.ReconnectBaseMS) * time.Millisecond
}

// ReconnectMaxDelay 返回重连延迟上限。
func (c *Config) ReconnectMaxDelay() time.Duration {
	return time.Duration(c.ReconnectMaxMS) * time.Millisecond
}

// FallbackIdle 返回 busy 兜底超时。
func (c *Config) FallbackIdle() time.Duration {
	return time.Duration(c.FallbackIdleMS) * time.Millisecond
}
