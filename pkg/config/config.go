package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "GEARMARKET"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "GEARMARKET_APP_ENV"
	EnvPort     = "GEARMARKET_APP_PORT"
	EnvDBDSN    = "GEARMARKET_DB_DSN"
	EnvDBHost   = "GEARMARKET_DB_HOST"
	EnvDBUser   = "GEARMARKET_DB_USER"
	EnvDBName   = "GEARMARKET_DB_NAME"
	EnvRedisURL = "GEARMARKET_REDIS_URL"
	EnvJWTSecret = "GEARMARKET_JWT_SECRET"
	EnvJWTIssuer = "GEARMARKET_JWT_ISSUER"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Gateway      GatewayConfig
	Payments     PaymentsConfig
	Refunds      RefundsConfig
	Invoices     InvoicesConfig
	RateLimit    RateLimitConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
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
	Env          string `envconfig:"GEARMARKET_APP_ENV" required:"true"`
	Port         string `envconfig:"GEARMARKET_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"GEARMARKET_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"GEARMARKET_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"GEARMARKET_DB_DSN"`
	Driver string `envconfig:"GEARMARKET_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"GEARMARKET_DB_HOST"`
	LegacyPort     int    `envconfig:"GEARMARKET_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"GEARMARKET_DB_USER"`
	LegacyPassword string `envconfig:"GEARMARKET_DB_PASSWORD"`
	LegacyName     string `envconfig:"GEARMARKET_DB_NAME"`
	LegacySSLMode  string `envconfig:"GEARMARKET_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"GEARMARKET_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"GEARMARKET_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"GEARMARKET_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"GEARMARKET_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"GEARMARKET_REDIS_URL" required:"true"`
	Address      string        `envconfig:"GEARMARKET_REDIS_ADDR"`
	Password     string        `envconfig:"GEARMARKET_REDIS_PASSWORD"`
	DB           int           `envconfig:"GEARMARKET_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"GEARMARKET_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"GEARMARKET_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"GEARMARKET_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"GEARMARKET_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"GEARMARKET_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"GEARMARKET_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"GEARMARKET_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"GEARMARKET_JWT_EXPIRATION_MINUTES" default:"60"`
}

// RateLimitConfig throttles the API and, more tightly, the money routes.
type RateLimitConfig struct {
	APIWindow      time.Duration `envconfig:"GEARMARKET_RATE_LIMIT_API_WINDOW" default:"1m"`
	APIUserLimit   int           `envconfig:"GEARMARKET_RATE_LIMIT_API_USER_LIMIT" default:"120"`
	APIIPLimit     int           `envconfig:"GEARMARKET_RATE_LIMIT_API_IP_LIMIT" default:"300"`
	MoneyWindow    time.Duration `envconfig:"GEARMARKET_RATE_LIMIT_MONEY_WINDOW" default:"1m"`
	MoneyUserLimit int           `envconfig:"GEARMARKET_RATE_LIMIT_MONEY_USER_LIMIT" default:"20"`
	MoneyIPLimit   int           `envconfig:"GEARMARKET_RATE_LIMIT_MONEY_IP_LIMIT" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"GEARMARKET_AUTO_MIGRATE" default:"false"`
}

// GatewayConfig selects and parameterizes the payment gateway adapter.
// Provider has no default on purpose: a processor without an explicitly
// chosen gateway must fail to boot rather than silently auto-approve.
type GatewayConfig struct {
	Provider       string        `envconfig:"GEARMARKET_GATEWAY_PROVIDER"`
	APIKey         string        `envconfig:"GEARMARKET_GATEWAY_API_KEY"`
	Secret         string        `envconfig:"GEARMARKET_GATEWAY_SECRET"`
	ChargeTimeout  time.Duration `envconfig:"GEARMARKET_GATEWAY_CHARGE_TIMEOUT" default:"30s"`
	ReverseTimeout time.Duration `envconfig:"GEARMARKET_GATEWAY_REVERSE_TIMEOUT" default:"30s"`
}

type PaymentsConfig struct {
	SellerPayout   string `envconfig:"GEARMARKET_PAYMENTS_SELLER_PAYOUT" default:"on_payment"`
	PlatformFeeBps int64  `envconfig:"GEARMARKET_PAYMENTS_PLATFORM_FEE_BPS" default:"0"`
}

type RefundsConfig struct {
	// PartialMarksOrder controls whether a partial refund moves the order to
	// refunded. Full refunds always do.
	PartialMarksOrder bool `envconfig:"GEARMARKET_REFUNDS_PARTIAL_MARKS_ORDER" default:"false"`
	// AllowShipped extends RequestRefund eligibility from delivered-only to
	// shipped orders as well.
	AllowShipped bool `envconfig:"GEARMARKET_REFUNDS_ALLOW_SHIPPED" default:"false"`
}

type InvoicesConfig struct {
	DueInDays int `envconfig:"GEARMARKET_INVOICES_DUE_IN_DAYS" default:"14"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"GEARMARKET_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"GEARMARKET_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"GEARMARKET_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic string `envconfig:"GEARMARKET_PUBSUB_DOMAIN_TOPIC" default:"gm-domain-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"GEARMARKET_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"GEARMARKET_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"GEARMARKET_OUTBOX_MAX_ATTEMPTS" default:"10"`
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
