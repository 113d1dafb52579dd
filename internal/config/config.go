package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Keeper     KeeperConfig     `mapstructure:"keeper"`
	Events     EventsConfig     `mapstructure:"events"`
	Accounts   []AccountConfig  `mapstructure:"accounts"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type AuthConfig struct {
	RequireAPIKey bool   `mapstructure:"require_api_key"`
	AdminKey      string `mapstructure:"admin_key"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type DatabaseConfig struct {
	Driver               string `mapstructure:"driver"` // postgres | sqlite
	DSN                  string `mapstructure:"dsn"`
	EventRetentionDays   int    `mapstructure:"event_retention_days"`
	CleanupIntervalHours int    `mapstructure:"cleanup_interval_hours"`
}

type RedisConfig struct {
	Addr                  string `mapstructure:"addr"`
	Password              string `mapstructure:"password"`
	DB                    int    `mapstructure:"db"`
	ScheduleKey           string `mapstructure:"schedule_key"`
	IdempotencyTTLSeconds int    `mapstructure:"idempotency_ttl_seconds"`
}

type ChainConfig struct {
	Mode          string `mapstructure:"mode"` // memory | rpc
	RPCURL        string `mapstructure:"rpc_url"`
	ChainID       int64  `mapstructure:"chain_id"`
	OperatorKey   string `mapstructure:"operator_key"`
	CallTimeoutMs int    `mapstructure:"call_timeout_ms"`
	CallRetries   int    `mapstructure:"call_retries"`
}

type RegistryConfig struct {
	Address             string   `mapstructure:"address"`
	Owner               string   `mapstructure:"owner"`
	Settlers            []string `mapstructure:"settlers"`
	DefaultMaxBatchSize int      `mapstructure:"default_max_batch_size"`
}

type SettlementConfig struct {
	BatchCap        int  `mapstructure:"batch_cap"`
	Budget          int  `mapstructure:"budget"`
	ScanAll         bool `mapstructure:"scan_all"`
	TenantTimeoutMs int  `mapstructure:"tenant_timeout_ms"`
}

type KeeperConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Driver            string `mapstructure:"driver"` // local | contract
	IntervalSeconds   int    `mapstructure:"interval_seconds"`
	Account           string `mapstructure:"account"`
	ManagerAddress    string `mapstructure:"manager_address"`
	PrivateKey        string `mapstructure:"private_key"`
	GasMultiplier     int    `mapstructure:"gas_multiplier"`
	BalanceCheckEvery uint64 `mapstructure:"balance_check_every"`
	DangerThreshold   string `mapstructure:"danger_threshold"`   // ether
	DecreaseThreshold string `mapstructure:"decrease_threshold"` // ether
	SlackWebhookURL   string `mapstructure:"slack_webhook_url"`
}

type EventsConfig struct {
	LogDir     string `mapstructure:"log_dir"`
	BufferSize int    `mapstructure:"buffer_size"`
}

type AccountConfig struct {
	Name    string  `mapstructure:"name"`
	Address string  `mapstructure:"address"`
	APIKey  string  `mapstructure:"api_key"`
	QPS     float64 `mapstructure:"qps"`
	Burst   int     `mapstructure:"burst"`
}

func (c SettlementConfig) TenantTimeout() time.Duration {
	return time.Duration(c.TenantTimeoutMs) * time.Millisecond
}

func (c ChainConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMs) * time.Millisecond
}

func (c KeeperConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func Load() (*Config, error) {
	return LoadWith(viper.GetViper())
}

// LoadWith reads configuration through v, so CLI flags bound to v take effect.
func LoadWith(v *viper.Viper) (*Config, error) {
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// e.g. SETTLEGATE_CHAIN_RPC_URL
	v.SetEnvPrefix("settlegate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("auth.require_api_key", true)
	v.SetDefault("auth.admin_key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.event_retention_days", 30)
	v.SetDefault("database.cleanup_interval_hours", 6)
	v.SetDefault("redis.schedule_key", "settlegate:settle_required")
	v.SetDefault("redis.idempotency_ttl_seconds", 86400)
	v.SetDefault("chain.mode", "memory")
	v.SetDefault("chain.chain_id", 1)
	v.SetDefault("chain.call_timeout_ms", 5000)
	v.SetDefault("chain.call_retries", 1)
	v.SetDefault("registry.address", "0x000000000000000000000000000000000000beef")
	v.SetDefault("registry.default_max_batch_size", 5)
	v.SetDefault("settlement.batch_cap", 5)
	v.SetDefault("settlement.budget", 200)
	v.SetDefault("settlement.scan_all", false)
	v.SetDefault("settlement.tenant_timeout_ms", 10000)
	v.SetDefault("keeper.enabled", false)
	v.SetDefault("keeper.driver", "local")
	v.SetDefault("keeper.interval_seconds", 60)
	v.SetDefault("keeper.gas_multiplier", 2)
	v.SetDefault("keeper.balance_check_every", 100)
	v.SetDefault("keeper.danger_threshold", "0.5")
	v.SetDefault("keeper.decrease_threshold", "0.1")
	v.SetDefault("events.log_dir", "./logs")
	v.SetDefault("events.buffer_size", 1000)
}
