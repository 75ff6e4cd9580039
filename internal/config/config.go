package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 3978（Bot Framework 约定端口）
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到控制台
}

// AnthropicConfig 定义语言模型调用配置
type AnthropicConfig struct {
	APIKey    string        // Anthropic API Key
	Model     string        // 模型名称
	MaxTokens int64         // 单次响应最大 token 数
	BaseURL   string        // 留空使用官方地址
	Timeout   time.Duration // 单次调用超时
}

// MimecastConfig 定义 Mimecast API 访问配置
type MimecastConfig struct {
	BaseURL   string        // API 地址，默认 https://api.mimecast.com
	AppID     string        // 应用 ID
	AppKey    string        // 应用 Key，参与签名
	AccessKey string        // 访问 Key
	SecretKey string        // Base64 编码的签名密钥
	Timeout   time.Duration // 单次调用超时，默认 30 秒
}

// TeamsConfig 定义 Bot Framework 凭据与入站校验
type TeamsConfig struct {
	AppID               string   // Microsoft App ID，留空时不校验入站令牌（仅限本地 Emulator）
	AppPassword         string   // Microsoft App Password（客户端密钥）
	TenantID            string   // 单租户机器人的租户 ID，多租户留空
	OpenIDMetadataURL   string   // Bot Framework OpenID 元数据地址
	AllowedServiceHosts []string // 允许回复的 serviceUrl 主机，"*.example.com" 匹配子域名
}

// JWTConfig 定义直连查询 API 的 JWT 认证配置
type JWTConfig struct {
	Secret       string        // JWT 签名密钥，必须至少 32 字符
	Issuer       string        // JWT 签发者标识，默认 "mailaudit"
	AccessExpiry time.Duration // 访问令牌有效期，默认 24 小时
}

// RedisConfig 定义 Redis 配置（用于分布式限流）
type RedisConfig struct {
	Address  string // Redis 服务地址，留空表示不使用 Redis
	Password string // Redis 认证密码
	DB       int    // Redis 数据库编号
}

// DatabaseConfig 定义查询历史数据库配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，留空使用内存
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 10
	MaxIdleConns    int           // 最大空闲连接数，默认 2
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RateLimitConfig 定义每个用户的查询限流
type RateLimitConfig struct {
	PerMinute int // 每分钟允许的查询数，0 表示不限流
	Burst     int // 突发容量
}

// WorkerConfig 定义机器人消息处理协程池
type WorkerConfig struct {
	Workers   int // 并发处理数
	QueueSize int // 等待队列长度
}

// ProbeConfig 定义 Mimecast 周期探测
type ProbeConfig struct {
	Interval time.Duration // 探测间隔，0 表示关闭
}

// CacheConfig 定义查询解析结果缓存
type CacheConfig struct {
	TTL     time.Duration // 相同查询文本复用解析结果的时长，0 表示关闭
	MaxSize int           // 最大缓存条目数
}

// AlertConfig 定义告警规则检查
type AlertConfig struct {
	Interval      time.Duration // 检查间隔，0 表示关闭
	WebhookURL    string        // 告警 Webhook 地址，留空只写日志
	MemoryLimitMB float64       // 内存告警阈值
}

// Config 是系统核心配置的根结构体
type Config struct {
	Server    ServerConfig
	CORS      CORSConfig
	Log       LogConfig
	Anthropic AnthropicConfig
	Mimecast  MimecastConfig
	Teams     TeamsConfig
	JWT       JWTConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig
	Worker    WorkerConfig
	Probe     ProbeConfig
	Cache     CacheConfig
	Alert     AlertConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//   1. 系统环境变量
//   2. .env 文件（如果存在）
//   3. 默认值
//
// 环境变量前缀: MAILAUDIT_
// 例如: MAILAUDIT_MIMECAST_APP_ID, MAILAUDIT_ANTHROPIC_API_KEY
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("mailaudit")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3978)
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "claude-3-5-sonnet-20241022")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.timeout", "30s")
	v.SetDefault("mimecast.base_url", "https://api.mimecast.com")
	v.SetDefault("mimecast.app_id", "")
	v.SetDefault("mimecast.app_key", "")
	v.SetDefault("mimecast.access_key", "")
	v.SetDefault("mimecast.secret_key", "")
	v.SetDefault("mimecast.timeout", "30s")
	v.SetDefault("teams.app_id", "")
	v.SetDefault("teams.app_password", "")
	v.SetDefault("teams.tenant_id", "")
	v.SetDefault("teams.openid_metadata_url", "https://login.botframework.com/v1/.well-known/openidconfiguration")
	v.SetDefault("teams.allowed_service_hosts", "smba.trafficmanager.net,*.botframework.com")
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.issuer", "mailaudit")
	v.SetDefault("jwt.access_expiry", "24h")
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.type", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("ratelimit.per_minute", 10)
	v.SetDefault("ratelimit.burst", 3)
	v.SetDefault("worker.workers", 8)
	v.SetDefault("worker.queue_size", 64)
	v.SetDefault("probe.interval", "5m")
	v.SetDefault("cache.ttl", "10m")
	v.SetDefault("cache.max_size", 1000)
	v.SetDefault("alert.interval", "1m")
	v.SetDefault("alert.webhook_url", "")
	v.SetDefault("alert.memory_limit_mb", 512)

	anthropicTimeout, err := time.ParseDuration(v.GetString("anthropic.timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid anthropic.timeout: %w", err)
	}

	mimecastTimeout, err := time.ParseDuration(v.GetString("mimecast.timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid mimecast.timeout: %w", err)
	}

	probeInterval, err := time.ParseDuration(v.GetString("probe.interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid probe.interval: %w", err)
	}

	alertInterval, err := time.ParseDuration(v.GetString("alert.interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid alert.interval: %w", err)
	}

	cacheTTL, err := time.ParseDuration(v.GetString("cache.ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid cache.ttl: %w", err)
	}

	connMaxLifetime, err := time.ParseDuration(v.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	accessExpiry, err := time.ParseDuration(v.GetString("jwt.access_expiry"))
	if err != nil {
		accessExpiry = 24 * time.Hour
	}

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	maxTokens := v.GetInt64("anthropic.max_tokens")
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	workers := v.GetInt("worker.workers")
	if workers <= 0 {
		workers = 8
	}
	queueSize := v.GetInt("worker.queue_size")
	if queueSize <= 0 {
		queueSize = 64
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
		Anthropic: AnthropicConfig{
			APIKey:    v.GetString("anthropic.api_key"),
			Model:     v.GetString("anthropic.model"),
			MaxTokens: maxTokens,
			BaseURL:   v.GetString("anthropic.base_url"),
			Timeout:   anthropicTimeout,
		},
		Mimecast: MimecastConfig{
			BaseURL:   strings.TrimRight(v.GetString("mimecast.base_url"), "/"),
			AppID:     v.GetString("mimecast.app_id"),
			AppKey:    v.GetString("mimecast.app_key"),
			AccessKey: v.GetString("mimecast.access_key"),
			SecretKey: v.GetString("mimecast.secret_key"),
			Timeout:   mimecastTimeout,
		},
		Teams: TeamsConfig{
			AppID:               v.GetString("teams.app_id"),
			AppPassword:         v.GetString("teams.app_password"),
			TenantID:            v.GetString("teams.tenant_id"),
			OpenIDMetadataURL:   v.GetString("teams.openid_metadata_url"),
			AllowedServiceHosts: parseList(v.GetString("teams.allowed_service_hosts")),
		},
		JWT: JWTConfig{
			Secret:       v.GetString("jwt.secret"),
			Issuer:       v.GetString("jwt.issuer"),
			AccessExpiry: accessExpiry,
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Database: DatabaseConfig{
			Type:            strings.ToLower(v.GetString("database.type")),
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		RateLimit: RateLimitConfig{
			PerMinute: v.GetInt("ratelimit.per_minute"),
			Burst:     v.GetInt("ratelimit.burst"),
		},
		Worker: WorkerConfig{
			Workers:   workers,
			QueueSize: queueSize,
		},
		Probe: ProbeConfig{
			Interval: probeInterval,
		},
		Cache: CacheConfig{
			TTL:     cacheTTL,
			MaxSize: v.GetInt("cache.max_size"),
		},
		Alert: AlertConfig{
			Interval:      alertInterval,
			WebhookURL:    v.GetString("alert.webhook_url"),
			MemoryLimitMB: v.GetFloat64("alert.memory_limit_mb"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate 检查必需配置项
func (c *Config) validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"anthropic.api_key", c.Anthropic.APIKey},
		{"mimecast.app_id", c.Mimecast.AppID},
		{"mimecast.app_key", c.Mimecast.AppKey},
		{"mimecast.access_key", c.Mimecast.AccessKey},
		{"mimecast.secret_key", c.Mimecast.SecretKey},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("missing required configuration: %s", r.key)
		}
	}

	if _, err := base64.StdEncoding.DecodeString(c.Mimecast.SecretKey); err != nil {
		return fmt.Errorf("mimecast.secret_key must be base64 encoded: %w", err)
	}

	// 安全检查：禁止使用默认的 JWT secret
	if c.JWT.Secret == "change-me-in-production" {
		return fmt.Errorf("SECURITY ERROR: JWT secret cannot be the default value. Please set MAILAUDIT_JWT_SECRET environment variable")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("SECURITY ERROR: JWT secret must be at least 32 characters long")
	}

	switch c.Database.Type {
	case "", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database.type: %s (supported: mysql, postgres)", c.Database.Type)
	}
	if c.Database.Type != "" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database.type is set")
	}

	return nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//   1. 当前目录的 .env
//   2. 父目录的 .env
//
// 文件不存在时静默跳过，已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
