package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Gateway      GatewayConfig
	Billing      BillingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
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
	Env          string   `envconfig:"ASPY_APP_ENV" required:"true"`
	Port         string   `envconfig:"ASPY_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"ASPY_LOG_LEVEL" default:"info"`
	LogFormat    string   `envconfig:"ASPY_LOG_FORMAT" default:"json"`
	LogWarnStack bool     `envconfig:"ASPY_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"ASPY_CORS_ALLOWED_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ASPY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ASPY_DB_DSN"`
	Driver string `envconfig:"ASPY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ASPY_DB_HOST"`
	LegacyPort     int    `envconfig:"ASPY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ASPY_DB_USER"`
	LegacyPassword string `envconfig:"ASPY_DB_PASSWORD"`
	LegacyName     string `envconfig:"ASPY_DB_NAME"`
	LegacySSLMode  string `envconfig:"ASPY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ASPY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ASPY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ASPY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ASPY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ASPY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ASPY_REDIS_ADDR"`
	Password     string        `envconfig:"ASPY_REDIS_PASSWORD"`
	DB           int           `envconfig:"ASPY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ASPY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ASPY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ASPY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ASPY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ASPY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"ASPY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ASPY_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ASPY_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ASPY_AUTO_MIGRATE" default:"false"`
}

// GatewayConfig holds the payment gateway credentials. An empty or "dummy" key id
// puts the gateway in mock mode.
type GatewayConfig struct {
	Provider       string        `envconfig:"ASPY_GATEWAY_PROVIDER" default:"razorpay"`
	KeyID          string        `envconfig:"ASPY_GATEWAY_KEY_ID"`
	KeySecret      string        `envconfig:"ASPY_GATEWAY_KEY_SECRET"`
	WebhookSecret  string        `envconfig:"ASPY_GATEWAY_WEBHOOK_SECRET"`
	NativeCurrency string        `envconfig:"ASPY_GATEWAY_NATIVE_CURRENCY" default:"INR"`
	Timeout        time.Duration `envconfig:"ASPY_GATEWAY_TIMEOUT" default:"10s"`
	RetryBackoff   time.Duration `envconfig:"ASPY_GATEWAY_RETRY_BACKOFF" default:"250ms"`
}

// IsMock reports whether no live gateway credential is configured.
func (g GatewayConfig) IsMock() bool {
	key := strings.TrimSpace(g.KeyID)
	return key == "" || strings.EqualFold(key, MockKeyID)
}

type BillingConfig struct {
	PeriodDays           int           `envconfig:"ASPY_BILLING_PERIOD_DAYS" default:"30"`
	StaleInvoiceTTL      time.Duration `envconfig:"ASPY_BILLING_STALE_INVOICE_TTL" default:"72h"`
	WebhookIdempotentTTL time.Duration `envconfig:"ASPY_BILLING_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
	SweepBatchSize       int           `envconfig:"ASPY_BILLING_SWEEP_BATCH_SIZE" default:"250"`
}

// Period returns the subscription period length.
func (b BillingConfig) Period() time.Duration {
	days := b.PeriodDays
	if days <= 0 {
		days = DefaultPeriodDays
	}
	return time.Duration(days) * 24 * time.Hour
}

type GCPConfig struct {
	ProjectID string `envconfig:"ASPY_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	BillingTopic string `envconfig:"ASPY_PUBSUB_BILLING_TOPIC" default:"aspy-billing-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"ASPY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"ASPY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"ASPY_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"ASPY_CRON_INTERVAL" default:"1h"`
}

// RateLimitConfig bounds order creation per user. A zero limit disables it.
type RateLimitConfig struct {
	OrdersPerWindow int           `envconfig:"ASPY_RATE_LIMIT_ORDERS" default:"10"`
	Window          time.Duration `envconfig:"ASPY_RATE_LIMIT_WINDOW" default:"1m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
