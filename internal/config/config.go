package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"WalletHub/internal/user"

	"github.com/spf13/viper"
)

// EnvPrefix 是环境变量覆盖的前缀，例如 WALLETHUB_SERVER_ADDRESS。
const EnvPrefix = "WALLETHUB"

// Config 描述了 WalletHub 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Users    []user.User    `mapstructure:"users"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Web3     Web3Config     `mapstructure:"web3"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Intent   IntentConfig   `mapstructure:"intent"`
	Events   EventsConfig   `mapstructure:"events"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Alerting AlertingConfig `mapstructure:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address                  string `mapstructure:"address"`
	ReadHeaderTimeoutSeconds int    `mapstructure:"read_header_timeout_seconds"`
}

// ReadHeaderTimeout 返回读取请求头的超时时间。
func (c ServerConfig) ReadHeaderTimeout() time.Duration {
	return time.Duration(c.ReadHeaderTimeoutSeconds) * time.Second
}

// AuthConfig 配置调用方身份解析。
type AuthConfig struct {
	Mode   string    `mapstructure:"mode"`
	Header string    `mapstructure:"header"`
	JWT    JWTConfig `mapstructure:"jwt"`
}

// JWTConfig 描述 JWT 校验参数。
type JWTConfig struct {
	Secret   string `mapstructure:"secret"`
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level       string      `mapstructure:"level"`
	Format      string      `mapstructure:"format"`
	OutputPaths []string    `mapstructure:"output_paths"`
	Audit       AuditConfig `mapstructure:"audit"`
}

// AuditConfig 控制审计日志输出。
type AuditConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// StorageConfig 统一描述 MySQL、Redis 等后端的连接信息。
type StorageConfig struct {
	Driver string      `mapstructure:"driver"`
	MySQL  MySQLConfig `mapstructure:"mysql"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 描述 MySQL 连接池。
type MySQLConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `mapstructure:"conn_max_idle_time_seconds"`
}

// RedisConfig 描述 Redis 连接，会话存储、缓存与事件共用同一客户端。
type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Configured 判断是否配置了 Redis。
func (c RedisConfig) Configured() bool {
	return strings.TrimSpace(c.Address) != ""
}

// LLMConfig 用于配置意图识别的方式。
type LLMConfig struct {
	Provider string       `mapstructure:"provider"`
	OpenAI   OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig 描述 OpenAI 兼容接口。
type OpenAIConfig struct {
	APIKey         string `mapstructure:"api_key"`
	APIKeyEnv      string `mapstructure:"api_key_env"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Timeout 返回请求超时。
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResolveAPIKey 优先使用显式配置的密钥，其次读取 api_key_env 指向的环境变量。
func (c OpenAIConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(c.APIKey); key != "" {
		return key
	}
	if c.APIKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
	}
	return ""
}

// Web3Config 包含链配置与数据源参数。
type Web3Config struct {
	ChainConfig            string    `mapstructure:"chain_config"`
	ApprovalLookbackBlocks uint64    `mapstructure:"approval_lookback_blocks"`
	RPCRetries             int       `mapstructure:"rpc_retries"`
	NFT                    NFTConfig `mapstructure:"nft"`
}

// NFTConfig 描述 NFT 索引服务。
type NFTConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	PageSize       int    `mapstructure:"page_size"`
	MaxPages       int    `mapstructure:"max_pages"`
}

// CacheConfig 控制数据源缓存。
type CacheConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	BalanceTTLSeconds int  `mapstructure:"balance_ttl_seconds"`
	NFTTTLSeconds     int  `mapstructure:"nft_ttl_seconds"`
}

// WorkflowConfig 控制余额工作流。
type WorkflowConfig struct {
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds"`
	TokenFallback       string `mapstructure:"token_fallback"`
}

// FetchTimeout 返回单个数据源的超时。
func (c WorkflowConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// IntentConfig 控制意图校验。
type IntentConfig struct {
	MinConfidence float64 `mapstructure:"min_confidence"`
}

// EventsConfig 选择事件发布驱动。
type EventsConfig struct {
	Driver   string         `mapstructure:"driver"`
	Redis    EventsRedis    `mapstructure:"redis"`
	RabbitMQ EventsRabbitMQ `mapstructure:"rabbitmq"`
}

// EventsRedis 配置 Redis PUBLISH 频道。
type EventsRedis struct {
	Channel string `mapstructure:"channel"`
}

// EventsRabbitMQ 配置 RabbitMQ exchange。
type EventsRabbitMQ struct {
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
}

// MetricsConfig 控制 Prometheus 指标。
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// AlertingConfig 配置告警渠道。
type AlertingConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

var defaults = map[string]any{
	"server.address":                           ":8080",
	"server.read_header_timeout_seconds":       5,
	"auth.mode":                                "disabled",
	"auth.header":                              "X-User-ID",
	"auth.jwt.secret":                          "",
	"auth.jwt.issuer":                          "",
	"auth.jwt.audience":                        "",
	"logging.level":                            "info",
	"logging.format":                           "json",
	"logging.output_paths":                     []string{"stdout"},
	"logging.audit.enabled":                    false,
	"logging.audit.path":                       "",
	"logging.audit.max_size_mb":                100,
	"logging.audit.max_backups":                7,
	"logging.audit.max_age_days":               30,
	"storage.driver":                           "memory",
	"storage.mysql.dsn":                        "",
	"storage.mysql.max_open_conns":             10,
	"storage.mysql.max_idle_conns":             5,
	"storage.mysql.conn_max_lifetime_seconds":  300,
	"storage.mysql.conn_max_idle_time_seconds": 60,
	"storage.redis.address":                    "",
	"storage.redis.password":                   "",
	"storage.redis.db":                         0,
	"storage.redis.key_prefix":                 "wallethub",
	"llm.provider":                             "rules",
	"llm.openai.api_key":                       "",
	"llm.openai.api_key_env":                   "OPENAI_API_KEY",
	"llm.openai.base_url":                      "https://api.openai.com/v1",
	"llm.openai.model":                         "gpt-4o-mini",
	"llm.openai.timeout_seconds":               30,
	"web3.chain_config":                        "",
	"web3.approval_lookback_blocks":            50000,
	"web3.rpc_retries":                         2,
	"web3.nft.base_url":                        "",
	"web3.nft.api_key":                         "",
	"web3.nft.timeout_seconds":                 10,
	"web3.nft.page_size":                       100,
	"web3.nft.max_pages":                       5,
	"cache.enabled":                            false,
	"cache.balance_ttl_seconds":                30,
	"cache.nft_ttl_seconds":                    300,
	"workflow.fetch_timeout_seconds":           5,
	"workflow.token_fallback":                  "skip",
	"intent.min_confidence":                    0.3,
	"events.driver":                            "none",
	"events.redis.channel":                     "wallethub:events",
	"events.rabbitmq.url":                      "",
	"events.rabbitmq.exchange":                 "wallethub.events",
	"events.rabbitmq.routing_key":              "",
	"metrics.enabled":                          true,
	"metrics.address":                          "",
	"alerting.webhook_url":                     "",
}

// Load 读取 JSON 或 YAML 配置文件并叠加环境变量。path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	baseDir := "."
	if path != "" {
		baseDir = filepath.Dir(path)
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户显式填入零值时兜底，并把相对路径解析到配置文件目录。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadHeaderTimeoutSeconds <= 0 {
		c.Server.ReadHeaderTimeoutSeconds = 5
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "rules"
	}
	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}
	if c.Cache.BalanceTTLSeconds <= 0 {
		c.Cache.BalanceTTLSeconds = 30
	}
	if c.Cache.NFTTTLSeconds <= 0 {
		c.Cache.NFTTTLSeconds = 300
	}
	if c.Workflow.FetchTimeoutSeconds <= 0 {
		c.Workflow.FetchTimeoutSeconds = 5
	}
	if c.Workflow.TokenFallback == "" {
		c.Workflow.TokenFallback = "skip"
	}
	if c.Intent.MinConfidence <= 0 {
		c.Intent.MinConfidence = 0.3
	}
	if c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}
}

func (c *Config) validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Storage.MySQL.DSN) == "" {
			errs = append(errs, errors.New("storage.mysql.dsn 不能为空"))
		}
	case "redis":
		if !c.Storage.Redis.Configured() {
			errs = append(errs, errors.New("storage.redis.address 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的存储驱动: %s", c.Storage.Driver))
	}
	if c.Cache.Enabled && !c.Storage.Redis.Configured() {
		errs = append(errs, errors.New("cache.enabled 需要配置 storage.redis.address"))
	}
	if c.Intent.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("intent.min_confidence %v 超出 [0,1]", c.Intent.MinConfidence))
	}
	return errors.Join(errs...)
}
