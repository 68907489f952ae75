package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"sudooom.planverse/internal/chat"
	"sudooom.planverse/internal/feedsync"
	"sudooom.planverse/internal/functions"
	"sudooom.planverse/internal/notification"
	"sudooom.planverse/internal/session"
	"sudooom.planverse/internal/storage"
	sharedConfig "sudooom.planverse/shared/config"
)

type Config struct {
	App          AppConfig                `mapstructure:"app"`
	JWT          JWTConfig                `mapstructure:"jwt"`
	Database     DatabaseConfig           `mapstructure:"database"`
	Redis        sharedConfig.RedisConfig `mapstructure:"redis"`
	NATS         sharedConfig.NATSConfig  `mapstructure:"nats"`
	Kafka        notification.KafkaConfig `mapstructure:"kafka"`
	Storage      storage.Config           `mapstructure:"storage"`
	Functions    functions.Config         `mapstructure:"functions"`
	FeedSync     feedsync.Config          `mapstructure:"feed_sync"`
	Sync         SyncConfig               `mapstructure:"sync"`
	Session      SessionConfig            `mapstructure:"session"`
	Scheduler    SchedulerConfig          `mapstructure:"scheduler"`
	Feed         FeedConfig               `mapstructure:"feed"`
	Notification NotificationConfig       `mapstructure:"notification"`
	CORS         CORSConfig               `mapstructure:"cors"`
	RateLimit    RateLimitConfig          `mapstructure:"rate_limit"`
	Telemetry    TelemetryConfig          `mapstructure:"telemetry"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Port     int    `mapstructure:"port"`
	OpsPort  int    `mapstructure:"ops_port"`
	Mode     string `mapstructure:"mode"`
	LogLevel string `mapstructure:"log_level"`
	NodeID   int64  `mapstructure:"node_id"`
}

type JWTConfig struct {
	SecretKey     string        `mapstructure:"secret_key"`
	AccessExpire  time.Duration `mapstructure:"access_expire"`
	RefreshExpire time.Duration `mapstructure:"refresh_expire"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// DSN pgx 连接串
func (c *DatabaseConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, sslMode)
}

// SyncConfig 私信同步的时间参数
type SyncConfig struct {
	ConfirmWindow     time.Duration `mapstructure:"confirm_window"`
	FallbackDelay     time.Duration `mapstructure:"fallback_delay"`
	ConfirmTimeout    time.Duration `mapstructure:"confirm_timeout"`
	UnconfirmedPolicy string        `mapstructure:"unconfirmed_policy"`
	PageSize          int           `mapstructure:"page_size"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	TypingTTL         time.Duration `mapstructure:"typing_ttl"`
	TypingRate        float64       `mapstructure:"typing_rate"`
	ReadDebounce      time.Duration `mapstructure:"read_debounce"`
	IOTimeout         time.Duration `mapstructure:"io_timeout"`
}

type SessionConfig struct {
	IdleTTL          time.Duration `mapstructure:"idle_ttl"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	QueueSize        int           `mapstructure:"queue_size"`
	SubscriberBuffer int           `mapstructure:"subscriber_buffer"`
	PresenceTTL      time.Duration `mapstructure:"presence_ttl"`
}

type SchedulerConfig struct {
	Tick    time.Duration `mapstructure:"tick"`
	Slots   int           `mapstructure:"slots"`
	Workers int           `mapstructure:"workers"`
}

type FeedConfig struct {
	PromotedEvery int   `mapstructure:"promoted_every"`
	DefaultCPM    int64 `mapstructure:"default_cpm_cents"`
}

type NotificationConfig struct {
	// OfflineQuiet 同一会话的离线私信通知间隔
	OfflineQuiet time.Duration `mapstructure:"offline_quiet"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
}

type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load 先加载 .env，再读配置文件，最后用环境变量覆盖
func Load(path string, envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// 从环境变量覆盖配置
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "planverse")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.ops_port", 9090)
	v.SetDefault("app.mode", "release")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.node_id", 1)

	v.SetDefault("jwt.access_expire", 15*time.Minute)
	v.SetDefault("jwt.refresh_expire", 7*24*time.Hour)

	v.SetDefault("sync.confirm_window", 5*time.Second)
	v.SetDefault("sync.fallback_delay", 3*time.Second)
	v.SetDefault("sync.confirm_timeout", 15*time.Second)
	v.SetDefault("sync.unconfirmed_policy", string(chat.PolicySurface))
	v.SetDefault("sync.page_size", 50)
	v.SetDefault("sync.poll_interval", 5*time.Second)
	v.SetDefault("sync.typing_ttl", 3*time.Second)
	v.SetDefault("sync.typing_rate", 1.0)
	v.SetDefault("sync.read_debounce", 800*time.Millisecond)
	v.SetDefault("sync.io_timeout", 10*time.Second)

	v.SetDefault("session.idle_ttl", 10*time.Minute)
	v.SetDefault("session.sweep_interval", time.Minute)
	v.SetDefault("session.queue_size", 1024)
	v.SetDefault("session.subscriber_buffer", 64)
	v.SetDefault("session.presence_ttl", 2*time.Minute)

	v.SetDefault("scheduler.tick", 50*time.Millisecond)
	v.SetDefault("scheduler.slots", 3600)
	v.SetDefault("scheduler.workers", 8)

	v.SetDefault("feed.promoted_every", 5)
	v.SetDefault("feed.default_cpm_cents", 1000)
	v.SetDefault("notification.offline_quiet", time.Minute)
}

// applyEnv 从环境变量覆盖配置
func (c *Config) applyEnv() {
	// App
	c.App.Port = sharedConfig.GetEnvInt("PLANVERSE_PORT", c.App.Port)
	c.App.OpsPort = sharedConfig.GetEnvInt("PLANVERSE_OPS_PORT", c.App.OpsPort)
	c.App.LogLevel = sharedConfig.GetEnv("LOG_LEVEL", c.App.LogLevel)

	// JWT
	c.JWT.SecretKey = sharedConfig.GetEnv("JWT_SECRET", c.JWT.SecretKey)
	c.JWT.AccessExpire = sharedConfig.GetEnvDuration("JWT_ACCESS_EXPIRE", c.JWT.AccessExpire)
	c.JWT.RefreshExpire = sharedConfig.GetEnvDuration("JWT_REFRESH_EXPIRE", c.JWT.RefreshExpire)

	// Database
	c.Database.Host = sharedConfig.GetEnv("POSTGRES_HOST", c.Database.Host)
	c.Database.Port = sharedConfig.GetEnvInt("POSTGRES_PORT", c.Database.Port)
	c.Database.User = sharedConfig.GetEnv("POSTGRES_USER", c.Database.User)
	c.Database.Password = sharedConfig.GetEnv("POSTGRES_PASSWORD", c.Database.Password)
	c.Database.Name = sharedConfig.GetEnv("POSTGRES_DB", c.Database.Name)
	c.Database.MaxOpenConns = sharedConfig.GetEnvInt("POSTGRES_MAX_OPEN_CONNS", c.Database.MaxOpenConns)

	// Redis
	c.Redis.Addr = sharedConfig.GetEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = sharedConfig.GetEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = sharedConfig.GetEnvInt("REDIS_DB", c.Redis.DB)

	// NATS / Kafka
	c.NATS.URL = sharedConfig.GetEnv("NATS_URL", c.NATS.URL)
	c.Kafka.Brokers = sharedConfig.GetEnvSlice("KAFKA_BROKERS", c.Kafka.Brokers)

	// MinIO
	c.Storage.Endpoint = sharedConfig.GetEnv("MINIO_ENDPOINT", c.Storage.Endpoint)
	c.Storage.AccessKey = sharedConfig.GetEnv("MINIO_ACCESS_KEY", c.Storage.AccessKey)
	c.Storage.SecretKey = sharedConfig.GetEnv("MINIO_SECRET_KEY", c.Storage.SecretKey)
	c.Storage.PublicURL = sharedConfig.GetEnv("MINIO_PUBLIC_URL", c.Storage.PublicURL)

	// Telemetry
	c.Telemetry.Enabled = sharedConfig.GetEnvBool("OTEL_ENABLED", c.Telemetry.Enabled)
	c.Telemetry.Endpoint = sharedConfig.GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.Endpoint)

	c.Sync.UnconfirmedPolicy = sharedConfig.GetEnv("SYNC_UNCONFIRMED_POLICY", c.Sync.UnconfirmedPolicy)
}

func (c *Config) validate() error {
	if c.JWT.SecretKey == "" {
		return errors.New("jwt.secret_key is required")
	}
	switch chat.UnconfirmedPolicy(c.Sync.UnconfirmedPolicy) {
	case chat.PolicySurface, chat.PolicyDrop:
	default:
		return fmt.Errorf("unknown sync.unconfirmed_policy %q", c.Sync.UnconfirmedPolicy)
	}
	if c.Sync.FallbackDelay >= c.Sync.ConfirmTimeout {
		return errors.New("sync.fallback_delay must be shorter than sync.confirm_timeout")
	}
	return nil
}

// SessionConfig 转换为会话参数
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		Chat: chat.Options{
			ConfirmWindow:  c.Sync.ConfirmWindow,
			FallbackDelay:  c.Sync.FallbackDelay,
			ConfirmTimeout: c.Sync.ConfirmTimeout,
			Policy:         chat.UnconfirmedPolicy(c.Sync.UnconfirmedPolicy),
			PageSize:       c.Sync.PageSize,
			IOTimeout:      c.Sync.IOTimeout,
		},
		PollInterval:     c.Sync.PollInterval,
		TypingTTL:        c.Sync.TypingTTL,
		TypingRate:       c.Sync.TypingRate,
		ReadDebounce:     c.Sync.ReadDebounce,
		IOTimeout:        c.Sync.IOTimeout,
		SubscriberBuffer: c.Session.SubscriberBuffer,
	}
}
