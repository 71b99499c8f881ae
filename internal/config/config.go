// Package config 配置
package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/storefront/orderedit/pkg/config"
)

// Config 服务配置
type Config struct {
	ServiceName string
	HTTPPort    int

	// PostgreSQL
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisAddr     string
	RedisPassword string

	// 支付网关
	GatewayBaseURL string
	GatewayAPIKey  string
	GatewayTimeout time.Duration

	// 库存服务
	InventoryBaseURL string

	// 修改令牌
	TokenSecret string
	TokenTTL    time.Duration

	// 对账任务
	ReconcileCron string
	StaleAfter    time.Duration

	// 可选的按订单互斥锁（安全加强，网关幂等键仍是兜底）
	OrderLockEnabled bool
	OrderLockTTL     time.Duration

	// 追踪
	TracingEnabled bool
	JaegerEndpoint string
	SampleRate     float64
}

// Load 加载配置
func Load() *Config {
	return &Config{
		ServiceName: pkgconfig.GetEnv("SERVICE_NAME", "orderedit"),
		HTTPPort:    pkgconfig.GetEnvInt("HTTP_PORT", 8090),

		DBHost:     pkgconfig.GetEnv("DB_HOST", "localhost"),
		DBPort:     pkgconfig.GetEnvInt("DB_PORT", 5432),
		DBUser:     pkgconfig.GetEnv("DB_USER", "storefront"),
		DBPassword: pkgconfig.GetEnv("DB_PASSWORD", "storefront123"),
		DBName:     pkgconfig.GetEnv("DB_NAME", "storefront"),

		RedisAddr:     pkgconfig.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: pkgconfig.GetEnv("REDIS_PASSWORD", ""),

		GatewayBaseURL: pkgconfig.GetEnv("GATEWAY_BASE_URL", "https://api.gateway.local"),
		GatewayAPIKey:  pkgconfig.GetEnv("GATEWAY_API_KEY", ""),
		GatewayTimeout: pkgconfig.GetEnvDuration("GATEWAY_TIMEOUT", 10*time.Second),

		InventoryBaseURL: pkgconfig.GetEnv("INVENTORY_BASE_URL", "http://localhost:8091"),

		TokenSecret: pkgconfig.GetEnv("TOKEN_SECRET", "dev-modification-token-secret-32-bytes"),
		TokenTTL:    pkgconfig.GetEnvDuration("TOKEN_TTL", 30*time.Minute),

		// 每小时零分执行
		ReconcileCron: pkgconfig.GetEnv("RECONCILE_CRON", "0 * * * *"),
		StaleAfter:    pkgconfig.GetEnvDuration("STALE_AFTER", 65*time.Minute),

		OrderLockEnabled: pkgconfig.GetEnvBool("ORDER_LOCK_ENABLED", true),
		OrderLockTTL:     pkgconfig.GetEnvDuration("ORDER_LOCK_TTL", 30*time.Second),

		TracingEnabled: pkgconfig.GetEnvBool("TRACING_ENABLED", false),
		JaegerEndpoint: pkgconfig.GetEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		SampleRate:     pkgconfig.GetEnvFloat64("TRACE_SAMPLE_RATE", 0.1),
	}
}

// DSN PostgreSQL 连接串
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName)
}
