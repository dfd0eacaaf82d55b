package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"redis"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Auth struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"auth"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Sync SyncConfig `mapstructure:"sync"`
}

// SyncConfig 同步/广播引擎的全部调参项，键名与环境变量一一对应
type SyncConfig struct {
	PositionUpdateIntervalMs  int `mapstructure:"position_update_interval_ms"`
	PositionThrottleMinMs     int `mapstructure:"position_throttle_min_ms"`
	PlayerStateDebounceMs     int `mapstructure:"player_state_debounce_ms"`
	ClientPingIntervalSec     int `mapstructure:"client_ping_interval_sec"`
	ClientTimeoutSec          int `mapstructure:"client_timeout_sec"`
	MaxEventBatchSize         int `mapstructure:"max_event_batch_size"`
	CompressPayloadsOverBytes int `mapstructure:"compress_payloads_over_bytes"`
	OutboxSizeLimit           int `mapstructure:"outbox_size_limit"`
	OutboxCleanupBatch        int `mapstructure:"outbox_cleanup_batch"`
	OutboxRetryMax            int `mapstructure:"outbox_retry_max"`
	OperationDedupWindowSec   int `mapstructure:"operation_dedup_window_sec"`
	OperationResultTTLSec     int `mapstructure:"operation_result_ttl_sec"`
}

type setting struct {
	key string
	env string
	def any
}

var syncSettings = []setting{
	{"sync.position_update_interval_ms", "POSITION_UPDATE_INTERVAL_MS", 500},
	{"sync.position_throttle_min_ms", "POSITION_THROTTLE_MIN_MS", 400},
	{"sync.player_state_debounce_ms", "PLAYER_STATE_DEBOUNCE_MS", 100},
	{"sync.client_ping_interval_sec", "CLIENT_PING_INTERVAL_SEC", 30},
	{"sync.client_timeout_sec", "CLIENT_TIMEOUT_SEC", 60},
	{"sync.max_event_batch_size", "MAX_EVENT_BATCH_SIZE", 50},
	{"sync.compress_payloads_over_bytes", "COMPRESS_PAYLOADS_OVER_BYTES", 1024},
	{"sync.outbox_size_limit", "OUTBOX_SIZE_LIMIT", 1000},
	{"sync.outbox_cleanup_batch", "OUTBOX_CLEANUP_BATCH", 100},
	{"sync.outbox_retry_max", "OUTBOX_RETRY_MAX", 3},
	{"sync.operation_dedup_window_sec", "OPERATION_DEDUP_WINDOW_SEC", 300},
	{"sync.operation_result_ttl_sec", "OPERATION_RESULT_TTL_SEC", 600},
}

var otherSettings = []setting{
	{"running.port", "MUSICBOX_PORT", 5004},
	{"redis.password", "MUSICBOX_REDIS_PASSWORD", ""},
	{"mysql.dsn", "MUSICBOX_MYSQL_DSN", ""},
	{"kafka.topic", "MUSICBOX_KAFKA_TOPIC", "musicbox-state-events"},
	{"auth.secret", "MUSICBOX_AUTH_SECRET", ""},
	{"log.level", "MUSICBOX_LOG_LEVEL", "info"},
	{"log.format", "MUSICBOX_LOG_FORMAT", "text"},
}

// Load 读取配置文件（可选）+ 环境变量覆盖 + 默认值，最后做一次校验。
// path 为空时按 ./backend/config、./config、. 的顺序查找 musicboxConfig.yaml，找不到就只用默认值。
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("musicboxConfig")
		v.AddConfigPath("./backend/config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}
	for _, s := range append(append([]setting{}, syncSettings...), otherSettings...) {
		v.SetDefault(s.key, s.def)
		_ = v.BindEnv(s.key, s.env)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Sync.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultSync 返回全部取默认值的同步配置
func DefaultSync() SyncConfig {
	return SyncConfig{
		PositionUpdateIntervalMs:  500,
		PositionThrottleMinMs:     400,
		PlayerStateDebounceMs:     100,
		ClientPingIntervalSec:     30,
		ClientTimeoutSec:          60,
		MaxEventBatchSize:         50,
		CompressPayloadsOverBytes: 1024,
		OutboxSizeLimit:           1000,
		OutboxCleanupBatch:        100,
		OutboxRetryMax:            3,
		OperationDedupWindowSec:   300,
		OperationResultTTLSec:     600,
	}
}

var ErrInvalidSyncConfig = errors.New("INVALID_SYNC_CONFIG")

// Validate 一次性报告所有不合法的项，而不是遇到第一个就返回
func (c SyncConfig) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidSyncConfig}, args...)...))
	}

	if c.PositionUpdateIntervalMs < 50 || c.PositionUpdateIntervalMs > 5000 {
		bad("POSITION_UPDATE_INTERVAL_MS must be within [50, 5000], got %d", c.PositionUpdateIntervalMs)
	}
	if c.PositionThrottleMinMs < 1 || c.PositionThrottleMinMs >= c.PositionUpdateIntervalMs {
		bad("POSITION_THROTTLE_MIN_MS must be within [1, POSITION_UPDATE_INTERVAL_MS), got %d", c.PositionThrottleMinMs)
	}
	if c.PlayerStateDebounceMs < 0 {
		bad("PLAYER_STATE_DEBOUNCE_MS must not be negative, got %d", c.PlayerStateDebounceMs)
	}
	if c.ClientPingIntervalSec < 1 {
		bad("CLIENT_PING_INTERVAL_SEC must be at least 1, got %d", c.ClientPingIntervalSec)
	}
	if c.ClientTimeoutSec <= c.ClientPingIntervalSec {
		bad("CLIENT_TIMEOUT_SEC (%d) must exceed CLIENT_PING_INTERVAL_SEC (%d)", c.ClientTimeoutSec, c.ClientPingIntervalSec)
	}
	if c.MaxEventBatchSize < 1 {
		bad("MAX_EVENT_BATCH_SIZE must be at least 1, got %d", c.MaxEventBatchSize)
	}
	if c.CompressPayloadsOverBytes < 0 {
		bad("COMPRESS_PAYLOADS_OVER_BYTES must not be negative, got %d", c.CompressPayloadsOverBytes)
	}
	if c.OutboxSizeLimit < 100 {
		bad("OUTBOX_SIZE_LIMIT must be at least 100, got %d", c.OutboxSizeLimit)
	}
	if c.OutboxCleanupBatch < 1 || c.OutboxCleanupBatch >= c.OutboxSizeLimit {
		bad("OUTBOX_CLEANUP_BATCH must be within [1, OUTBOX_SIZE_LIMIT), got %d", c.OutboxCleanupBatch)
	}
	if c.OutboxRetryMax < 0 {
		bad("OUTBOX_RETRY_MAX must not be negative, got %d", c.OutboxRetryMax)
	}
	if c.OperationDedupWindowSec < 1 {
		bad("OPERATION_DEDUP_WINDOW_SEC must be at least 1, got %d", c.OperationDedupWindowSec)
	}
	if c.OperationResultTTLSec < c.OperationDedupWindowSec {
		bad("OPERATION_RESULT_TTL_SEC (%d) must be at least OPERATION_DEDUP_WINDOW_SEC (%d)", c.OperationResultTTLSec, c.OperationDedupWindowSec)
	}
	return errors.Join(errs...)
}

func (c SyncConfig) PositionUpdateInterval() time.Duration {
	return time.Duration(c.PositionUpdateIntervalMs) * time.Millisecond
}

func (c SyncConfig) PositionThrottleMin() time.Duration {
	return time.Duration(c.PositionThrottleMinMs) * time.Millisecond
}

func (c SyncConfig) PlayerStateDebounce() time.Duration {
	return time.Duration(c.PlayerStateDebounceMs) * time.Millisecond
}

func (c SyncConfig) ClientPingInterval() time.Duration {
	return time.Duration(c.ClientPingIntervalSec) * time.Second
}

func (c SyncConfig) ClientTimeout() time.Duration {
	return time.Duration(c.ClientTimeoutSec) * time.Second
}

func (c SyncConfig) DedupWindow() time.Duration {
	return time.Duration(c.OperationDedupWindowSec) * time.Second
}

func (c SyncConfig) OperationResultTTL() time.Duration {
	return time.Duration(c.OperationResultTTLSec) * time.Second
}
