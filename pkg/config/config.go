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
	Square       SquareConfig
	Payments     PaymentsConfig
	Scheduler    SchedulerConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	CORS         CORSConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Payments.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FULFILLMENT_APP_ENV" required:"true"`
	Port         string `envconfig:"FULFILLMENT_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"FULFILLMENT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FULFILLMENT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"FULFILLMENT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"FULFILLMENT_DB_DSN"`

	LegacyHost     string `envconfig:"FULFILLMENT_DB_HOST"`
	LegacyPort     int    `envconfig:"FULFILLMENT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FULFILLMENT_DB_USER"`
	LegacyPassword string `envconfig:"FULFILLMENT_DB_PASSWORD"`
	LegacyName     string `envconfig:"FULFILLMENT_DB_NAME"`
	LegacySSLMode  string `envconfig:"FULFILLMENT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FULFILLMENT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FULFILLMENT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FULFILLMENT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FULFILLMENT_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// StatementTimeout is sent as a session parameter; zero leaves the server default.
	StatementTimeout time.Duration `envconfig:"FULFILLMENT_DB_STATEMENT_TIMEOUT" default:"15s"`
	SlowQuery        time.Duration `envconfig:"FULFILLMENT_DB_SLOW_QUERY" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FULFILLMENT_REDIS_URL" required:"true"`
	Password     string        `envconfig:"FULFILLMENT_REDIS_PASSWORD"`
	PoolSize     int           `envconfig:"FULFILLMENT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FULFILLMENT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FULFILLMENT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FULFILLMENT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FULFILLMENT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"FULFILLMENT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"FULFILLMENT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"FULFILLMENT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type SquareConfig struct {
	AccessToken      string `envconfig:"FULFILLMENT_SQUARE_ACCESS_TOKEN" required:"true"`
	Env              string `envconfig:"FULFILLMENT_SQUARE_ENV" default:"sandbox"`
	WebhookSignature string `envconfig:"FULFILLMENT_SQUARE_WEBHOOK_SIGNATURE_KEY"`
	WebhookURL       string `envconfig:"FULFILLMENT_SQUARE_WEBHOOK_URL"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

// PaymentsConfig holds the knobs of the authorization and capture engine.
type PaymentsConfig struct {
	Currency            string          `envconfig:"FULFILLMENT_PAYMENTS_CURRENCY" default:"EUR"`
	PricingConvention   string          `envconfig:"FULFILLMENT_PAYMENTS_PRICING_CONVENTION" default:"gross_inclusive"`
	PlatformFeeBps      int64           `envconfig:"FULFILLMENT_PAYMENTS_PLATFORM_FEE_BPS" default:"500"`
	AuthorizationWindow time.Duration   `envconfig:"FULFILLMENT_PAYMENTS_AUTHORIZATION_WINDOW" default:"168h"`
	GatewayTimeout      time.Duration   `envconfig:"FULFILLMENT_PAYMENTS_GATEWAY_TIMEOUT" default:"15s"`
	RetrySchedule       []time.Duration `envconfig:"FULFILLMENT_PAYMENTS_RETRY_SCHEDULE" default:"1m,5m,30m,2h"`
	MaxCaptureAttempts  int             `envconfig:"FULFILLMENT_PAYMENTS_MAX_CAPTURE_ATTEMPTS" default:"8"`
	MaxAuthAttempts     int             `envconfig:"FULFILLMENT_PAYMENTS_MAX_AUTHORIZATION_ATTEMPTS" default:"5"`
}

func (p PaymentsConfig) validate() error {
	switch p.PricingConvention {
	case PricingGrossInclusive, PricingNetExclusive:
	default:
		return fmt.Errorf("%s must be %s or %s", EnvPricingConvention, PricingGrossInclusive, PricingNetExclusive)
	}
	if p.PlatformFeeBps < 0 || p.PlatformFeeBps > 10000 {
		return fmt.Errorf("%s must be between 0 and 10000", EnvPlatformFeeBps)
	}
	if len(p.RetrySchedule) == 0 {
		return fmt.Errorf("%s requires at least one step", EnvRetrySchedule)
	}
	if p.MaxCaptureAttempts <= 0 {
		return fmt.Errorf("%s must be positive", EnvMaxCaptureAttempts)
	}
	if p.MaxAuthAttempts <= 0 {
		return fmt.Errorf("%s must be positive", EnvMaxAuthAttempts)
	}
	return nil
}

type SchedulerConfig struct {
	Interval         time.Duration `envconfig:"FULFILLMENT_SCHEDULER_INTERVAL" default:"1m"`
	BatchSize        int           `envconfig:"FULFILLMENT_SCHEDULER_BATCH_SIZE" default:"50"`
	LeaseDuration    time.Duration `envconfig:"FULFILLMENT_SCHEDULER_LEASE_DURATION" default:"2m"`
	StalePendingAuth time.Duration `envconfig:"FULFILLMENT_SCHEDULER_STALE_PENDING_AUTH" default:"10m"`
	LockTTL          time.Duration `envconfig:"FULFILLMENT_SCHEDULER_LOCK_TTL" default:"5m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"FULFILLMENT_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"FULFILLMENT_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookIdempotencyTTL time.Duration `envconfig:"FULFILLMENT_EVENTING_WEBHOOK_TTL" default:"72h"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"FULFILLMENT_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	DomainTopic string `envconfig:"FULFILLMENT_PUBSUB_DOMAIN_TOPIC" default:"fulfillment-domain-events"`
	// OrderedDelivery publishes with the aggregate id as ordering key, so a
	// sub order's authorized/captured/settled events arrive in commit order.
	OrderedDelivery bool `envconfig:"FULFILLMENT_PUBSUB_ORDERED_DELIVERY" default:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"FULFILLMENT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"FULFILLMENT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"FULFILLMENT_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"FULFILLMENT_CORS_ALLOWED_ORIGINS" default:"*"`
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
