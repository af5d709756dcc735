package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/wwwzy/ArcadeAgent/internal/checkpoint"
	"github.com/wwwzy/ArcadeAgent/internal/retention"
	"github.com/wwwzy/ArcadeAgent/internal/storage"
)

const (
	DefaultArkBaseURL    = "https://ark.cn-beijing.volces.com/api/v3"
	DefaultArcadeBaseURL = "https://api.arcade.dev"
)

type ArkConfig struct {
	APIKey  string `mapstructure:"api_key"`
	ModelID string `mapstructure:"model_id"`
	BaseURL string `mapstructure:"base_url"`
}

type ArcadeConfig struct {
	APIKey   string   `mapstructure:"api_key"`
	BaseURL  string   `mapstructure:"base_url"`
	Toolkits []string `mapstructure:"toolkits"`
	// UserID 为授权与执行工具时代表的用户，通常是邮箱
	UserID string `mapstructure:"user_id"`
	// HTTPTimeout 需大于 StatusWait，否则长轮询会被客户端提前断开
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
	StatusWait   time.Duration `mapstructure:"status_wait"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type AgentConfig struct {
	// MaxIterations 为每轮对话最多调用模型的次数，0 表示不限制
	MaxIterations int `mapstructure:"max_iterations"`
	// AuthorizationTimeout 为等待用户完成单次授权的最长时间，0 表示一直等待
	AuthorizationTimeout time.Duration `mapstructure:"authorization_timeout"`
	ThreadID             string        `mapstructure:"thread_id"`
}

type CheckpointConfig struct {
	Backend string                 `mapstructure:"backend"`
	Redis   checkpoint.RedisConfig `mapstructure:"redis"`
}

type Config struct {
	LogLevel   string           `mapstructure:"log_level"`
	LogFormat  string           `mapstructure:"log_format"`
	EnvFile    string           `mapstructure:"env_file"`
	Storage    storage.Config   `mapstructure:"storage"`
	Ark        ArkConfig        `mapstructure:"ark"`
	Arcade     ArcadeConfig     `mapstructure:"arcade"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Retention  retention.Config `mapstructure:"retention"`
}

func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		// 默认搜索路径
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.arcadeagent")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("ARCADEAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal 只会解码 viper 知道的 key，所有字段都需要有默认值或显式绑定
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	// .env 中的变量不覆盖已存在的环境变量
	if err := LoadEnvFile(v.GetString("env_file")); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnvFile 读取 KEY=VALUE 格式的文件写入进程环境变量；文件不存在时忽略
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("读取 env 文件失败: %w", err)
	}

	ev := viper.New()
	ev.SetConfigFile(path)
	ev.SetConfigType("env")
	if err := ev.ReadInConfig(); err != nil {
		return fmt.Errorf("读取 env 文件失败: %w", err)
	}
	for _, key := range ev.AllKeys() {
		name := strings.ToUpper(key)
		if _, exists := os.LookupEnv(name); exists {
			continue
		}
		if err := os.Setenv(name, ev.GetString(key)); err != nil {
			return fmt.Errorf("设置环境变量 %s 失败: %w", name, err)
		}
	}
	return nil
}

// Validate 校验所有命令共用的配置
func (c *Config) Validate() error {
	switch c.Checkpoint.Backend {
	case checkpoint.BackendSQLite, checkpoint.BackendMemory:
	case checkpoint.BackendRedis:
		if c.Checkpoint.Redis.Addr == "" {
			return fmt.Errorf("checkpoint.redis.addr is required when checkpoint.backend is redis")
		}
	default:
		return fmt.Errorf("unknown checkpoint.backend %q (supported: sqlite, memory, redis)", c.Checkpoint.Backend)
	}
	if c.Agent.MaxIterations < 0 {
		return fmt.Errorf("agent.max_iterations must not be negative")
	}
	if c.Agent.AuthorizationTimeout < 0 {
		return fmt.Errorf("agent.authorization_timeout must not be negative")
	}
	return nil
}

// ValidateAgent 校验需要调用模型和 Arcade 的命令所需的配置
func (c *Config) ValidateAgent() error {
	if c.Ark.APIKey == "" {
		return fmt.Errorf("ark.api_key is required (or set ARK_API_KEY env var)")
	}
	if c.Ark.ModelID == "" {
		return fmt.Errorf("ark.model_id is required (or set ARK_MODEL_ID env var)")
	}
	return c.ValidateArcade()
}

func (c *Config) ValidateArcade() error {
	if c.Arcade.APIKey == "" {
		return fmt.Errorf("arcade.api_key is required (or set ARCADE_API_KEY env var)")
	}
	if len(c.Arcade.Toolkits) == 0 {
		return fmt.Errorf("arcade.toolkits must not be empty")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	// -------------------------------------------------------------------------
	// Global Defaults (全局默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_format", def.LogFormat)
	v.SetDefault("env_file", def.EnvFile)

	// -------------------------------------------------------------------------
	// Storage Defaults (存储默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("storage.path", def.Storage.Path)
	v.SetDefault("storage.busy_timeout", def.Storage.BusyTimeout)
	v.SetDefault("storage.enable_wal", def.Storage.EnableWAL)

	// -------------------------------------------------------------------------
	// Ark AI Defaults (AI 模型默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("ark.api_key", "")
	v.SetDefault("ark.model_id", "")
	v.SetDefault("ark.base_url", def.Ark.BaseURL)

	_ = v.BindEnv("ark.api_key", "ARK_API_KEY")
	_ = v.BindEnv("ark.model_id", "ARK_MODEL_ID")
	_ = v.BindEnv("ark.base_url", "ARK_BASE_URL")

	// -------------------------------------------------------------------------
	// Arcade Defaults (工具平台默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("arcade.api_key", "")
	v.SetDefault("arcade.base_url", def.Arcade.BaseURL)
	v.SetDefault("arcade.toolkits", def.Arcade.Toolkits)
	v.SetDefault("arcade.user_id", "")
	v.SetDefault("arcade.http_timeout", def.Arcade.HTTPTimeout)
	v.SetDefault("arcade.status_wait", def.Arcade.StatusWait)
	v.SetDefault("arcade.poll_interval", def.Arcade.PollInterval)

	_ = v.BindEnv("arcade.api_key", "ARCADE_API_KEY")
	_ = v.BindEnv("arcade.base_url", "ARCADE_BASE_URL")
	_ = v.BindEnv("arcade.user_id", "ARCADE_USER_ID")

	// -------------------------------------------------------------------------
	// Agent Defaults (对话流程默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("agent.max_iterations", def.Agent.MaxIterations)
	v.SetDefault("agent.authorization_timeout", def.Agent.AuthorizationTimeout)
	v.SetDefault("agent.thread_id", def.Agent.ThreadID)

	// -------------------------------------------------------------------------
	// Checkpoint Defaults (检查点默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("checkpoint.backend", def.Checkpoint.Backend)
	v.SetDefault("checkpoint.redis.addr", def.Checkpoint.Redis.Addr)
	v.SetDefault("checkpoint.redis.password", "")
	v.SetDefault("checkpoint.redis.db", 0)
	v.SetDefault("checkpoint.redis.key_prefix", def.Checkpoint.Redis.KeyPrefix)
	v.SetDefault("checkpoint.redis.ttl", def.Checkpoint.Redis.TTL)

	// -------------------------------------------------------------------------
	// Retention Defaults (数据清理默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("retention.enabled", def.Retention.Enabled)
	v.SetDefault("retention.interval", def.Retention.Interval)
	v.SetDefault("retention.workers", def.Retention.Workers)
	v.SetDefault("retention.batch_rows", def.Retention.BatchRows)
	v.SetDefault("retention.idle_sleep", def.Retention.IdleSleep)
	v.SetDefault("retention.audit_keep_days", def.Retention.AuditKeepDays)
	v.SetDefault("retention.authorization_keep_days", def.Retention.AuthorizationKeepDays)
	v.SetDefault("retention.checkpoint_keep_days", def.Retention.CheckpointKeepDays)
}

func DefaultConfig() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "console",
		EnvFile:   ".env",
		Storage: storage.Config{
			Path:        "arcadeagent.db",
			BusyTimeout: 5 * time.Second,
			EnableWAL:   true,
		},
		Ark: ArkConfig{BaseURL: DefaultArkBaseURL},
		Arcade: ArcadeConfig{
			BaseURL:      DefaultArcadeBaseURL,
			Toolkits:     []string{"Google"},
			HTTPTimeout:  90 * time.Second,
			StatusWait:   30 * time.Second,
			PollInterval: time.Second,
		},
		Agent: AgentConfig{
			MaxIterations:        10,
			AuthorizationTimeout: 10 * time.Minute,
		},
		Checkpoint: CheckpointConfig{
			Backend: checkpoint.BackendSQLite,
			Redis: checkpoint.RedisConfig{
				Addr:      "127.0.0.1:6379",
				KeyPrefix: "arcadeagent:",
				TTL:       7 * 24 * time.Hour,
			},
		},
		Retention: retention.DefaultConfig(),
	}
}
