package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix  = ""
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Password     PasswordConfig
	Cache        CacheConfig
	Queue        QueueConfig
	Stock        StockConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ORDERFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"ORDERFLOW_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ORDERFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ORDERFLOW_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"ORDERFLOW_DB_DSN"`
	Driver string `envconfig:"ORDERFLOW_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"ORDERFLOW_DB_HOST"`
	Port     int    `envconfig:"ORDERFLOW_DB_PORT" default:"5432"`
	User     string `envconfig:"ORDERFLOW_DB_USER"`
	Password string `envconfig:"ORDERFLOW_DB_PASSWORD"`
	Name     string `envconfig:"ORDERFLOW_DB_NAME"`
	SSLMode  string `envconfig:"ORDERFLOW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ORDERFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ORDERFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ORDERFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ORDERFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (d *DBConfig) ensureDSN() error {
	if d.DSN != "" {
		return nil
	}
	if d.Host == "" || d.User == "" || d.Name == "" {
		return fmt.Errorf("either ORDERFLOW_DB_DSN or host/user/name settings are required")
	}
	dsn := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.Name,
	}
	query := dsn.Query()
	query.Set("sslmode", d.SSLMode)
	dsn.RawQuery = query.Encode()
	d.DSN = dsn.String()
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"ORDERFLOW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ORDERFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"ORDERFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"ORDERFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ORDERFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ORDERFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ORDERFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ORDERFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ORDERFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"ORDERFLOW_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"ORDERFLOW_JWT_ISSUER" required:"true"`
	ExpirationMinutes      int    `envconfig:"ORDERFLOW_JWT_EXPIRATION_MINUTES" default:"30"`
	RefreshTokenTTLMinutes int    `envconfig:"ORDERFLOW_REFRESH_TOKEN_TTL_MINUTES" default:"10080"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"ORDERFLOW_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"ORDERFLOW_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"ORDERFLOW_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"ORDERFLOW_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"ORDERFLOW_ARGON_KEY_LEN" default:"32"`
}

// CacheConfig bounds staleness per data class. Stock moves fast, order history
// barely moves at all.
type CacheConfig struct {
	StockTTL        time.Duration `envconfig:"ORDERFLOW_CACHE_STOCK_TTL" default:"10m"`
	LowStockTTL     time.Duration `envconfig:"ORDERFLOW_CACHE_LOW_STOCK_TTL" default:"3m"`
	OrderSummaryTTL time.Duration `envconfig:"ORDERFLOW_CACHE_ORDER_SUMMARY_TTL" default:"30m"`
}

type QueueConfig struct {
	Workers           int           `envconfig:"ORDERFLOW_QUEUE_WORKERS" default:"4"`
	PollInterval      time.Duration `envconfig:"ORDERFLOW_QUEUE_POLL_INTERVAL" default:"250ms"`
	BackoffBase       time.Duration `envconfig:"ORDERFLOW_QUEUE_BACKOFF_BASE" default:"2s"`
	BackoffMax        time.Duration `envconfig:"ORDERFLOW_QUEUE_BACKOFF_MAX" default:"2m"`
	DefaultMaxRetries int           `envconfig:"ORDERFLOW_QUEUE_DEFAULT_MAX_RETRIES" default:"3"`
	Consumer          string        `envconfig:"ORDERFLOW_QUEUE_CONSUMER"`
	ReconcileInterval time.Duration `envconfig:"ORDERFLOW_QUEUE_RECONCILE_INTERVAL" default:"5m"`
	StalePendingAfter time.Duration `envconfig:"ORDERFLOW_QUEUE_STALE_PENDING_AFTER" default:"10m"`
}

type StockConfig struct {
	AdjustRetries        int           `envconfig:"ORDERFLOW_STOCK_ADJUST_RETRIES" default:"3"`
	AdjustBackoffBase    time.Duration `envconfig:"ORDERFLOW_STOCK_ADJUST_BACKOFF_BASE" default:"50ms"`
	ReorderSweepInterval time.Duration `envconfig:"ORDERFLOW_STOCK_REORDER_SWEEP_INTERVAL" default:"15m"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"ORDERFLOW_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"ORDERFLOW_AUTO_MIGRATE" default:"false"`
}
