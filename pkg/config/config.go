package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	HTTP         HTTPConfig
	FeatureFlags FeatureFlagsConfig
	Cart         CartConfig
	Abandonment  AbandonmentConfig
	Queue        QueueConfig
	Email        EmailConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if _, err := cfg.Cart.TaxRateDecimal(); err != nil {
		return nil, fmt.Errorf("%s: %w", EnvCartTaxRate, err)
	}
	if err := cfg.Email.validate(cfg.PubSub); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CARTRECOVERY_APP_ENV" required:"true"`
	Port         string `envconfig:"CARTRECOVERY_APP_PORT" default:"8080"`
	MetricsPort  string `envconfig:"CARTRECOVERY_METRICS_PORT" default:"9090"`
	LogLevel     string `envconfig:"CARTRECOVERY_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"CARTRECOVERY_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"CARTRECOVERY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"CARTRECOVERY_DB_DSN"`
	Driver string `envconfig:"CARTRECOVERY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CARTRECOVERY_DB_HOST"`
	LegacyPort     int    `envconfig:"CARTRECOVERY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CARTRECOVERY_DB_USER"`
	LegacyPassword string `envconfig:"CARTRECOVERY_DB_PASSWORD"`
	LegacyName     string `envconfig:"CARTRECOVERY_DB_NAME"`
	LegacySSLMode  string `envconfig:"CARTRECOVERY_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"CARTRECOVERY_SQLITE_PATH" default:"cartrecovery.db"`

	MaxOpenConns    int           `envconfig:"CARTRECOVERY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CARTRECOVERY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CARTRECOVERY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CARTRECOVERY_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"CARTRECOVERY_DB_SLOW_QUERY_THRESHOLD" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CARTRECOVERY_REDIS_URL"`
	Address      string        `envconfig:"CARTRECOVERY_REDIS_ADDR"`
	Password     string        `envconfig:"CARTRECOVERY_REDIS_PASSWORD"`
	DB           int           `envconfig:"CARTRECOVERY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CARTRECOVERY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CARTRECOVERY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CARTRECOVERY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CARTRECOVERY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CARTRECOVERY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig is only used to verify bearer tokens minted by the auth service.
type JWTConfig struct {
	Secret string `envconfig:"CARTRECOVERY_JWT_SECRET"`
	Issuer string `envconfig:"CARTRECOVERY_JWT_ISSUER" default:"cartrecovery"`
}

// Enabled reports whether bearer token verification is configured.
func (j JWTConfig) Enabled() bool {
	return strings.TrimSpace(j.Secret) != ""
}

type HTTPConfig struct {
	CORSOrigins     []string      `envconfig:"CARTRECOVERY_HTTP_CORS_ORIGINS" default:"http://localhost:3000"`
	RateLimitWindow time.Duration `envconfig:"CARTRECOVERY_HTTP_RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitMax    int           `envconfig:"CARTRECOVERY_HTTP_RATE_LIMIT_MAX" default:"120"`
	ReadTimeout     time.Duration `envconfig:"CARTRECOVERY_HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"CARTRECOVERY_HTTP_WRITE_TIMEOUT" default:"30s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CARTRECOVERY_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CARTRECOVERY_AUTO_MIGRATE" default:"false"`
}

type CartConfig struct {
	GuestTTL     time.Duration `envconfig:"CARTRECOVERY_CART_GUEST_TTL" default:"720h"`
	TaxRate      string        `envconfig:"CARTRECOVERY_CART_TAX_RATE" default:"0"`
	MaxLockHours int           `envconfig:"CARTRECOVERY_CART_MAX_LOCK_HOURS" default:"168"`
}

// TaxRateDecimal parses the configured tax rate (0.0825 for 8.25%).
func (c CartConfig) TaxRateDecimal() (decimal.Decimal, error) {
	raw := strings.TrimSpace(c.TaxRate)
	if raw == "" {
		return decimal.Zero, nil
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid tax rate %q: %w", raw, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("tax rate %q must be within [0, 1)", raw)
	}
	return rate, nil
}

type AbandonmentConfig struct {
	IdleThreshold  time.Duration `envconfig:"CARTRECOVERY_ABANDONMENT_IDLE_THRESHOLD" default:"30m"`
	BatchSize      int           `envconfig:"CARTRECOVERY_ABANDONMENT_BATCH_SIZE" default:"500"`
	EmailBatchSize int           `envconfig:"CARTRECOVERY_ABANDONMENT_EMAIL_BATCH_SIZE" default:"100"`
	RetentionDays  int           `envconfig:"CARTRECOVERY_ABANDONMENT_RETENTION_DAYS" default:"90"`

	DetectSchedule  string `envconfig:"CARTRECOVERY_SCHEDULE_DETECT" default:"@every 15m"`
	EmailSchedule   string `envconfig:"CARTRECOVERY_SCHEDULE_EMAIL" default:"@every 5m"`
	CleanupSchedule string `envconfig:"CARTRECOVERY_SCHEDULE_CLEANUP" default:"0 3 1 * *"`
	ReportSchedule  string `envconfig:"CARTRECOVERY_SCHEDULE_REPORT" default:"0 6 * * 1"`
}

type QueueConfig struct {
	Workers                   int           `envconfig:"CARTRECOVERY_QUEUE_WORKERS" default:"4"`
	PollInterval              time.Duration `envconfig:"CARTRECOVERY_QUEUE_POLL_INTERVAL" default:"1s"`
	JobTimeout                time.Duration `envconfig:"CARTRECOVERY_QUEUE_JOB_TIMEOUT" default:"2m"`
	VisibilityTimeout         time.Duration `envconfig:"CARTRECOVERY_QUEUE_VISIBILITY_TIMEOUT" default:"10m"`
	MaxAttempts               int           `envconfig:"CARTRECOVERY_QUEUE_MAX_ATTEMPTS" default:"3"`
	BackoffBase               time.Duration `envconfig:"CARTRECOVERY_QUEUE_BACKOFF_BASE" default:"5s"`
	CompletedGrace            time.Duration `envconfig:"CARTRECOVERY_QUEUE_COMPLETED_GRACE" default:"24h"`
	OverloadedActiveThreshold int64         `envconfig:"CARTRECOVERY_QUEUE_OVERLOADED_ACTIVE" default:"100"`
	DegradedFailedThreshold   int64         `envconfig:"CARTRECOVERY_QUEUE_DEGRADED_FAILED" default:"50"`
	SchedulerTick             time.Duration `envconfig:"CARTRECOVERY_QUEUE_SCHEDULER_TICK" default:"30s"`
}

const (
	EmailTransportLog    = "log"
	EmailTransportPubSub = "pubsub"
)

type EmailConfig struct {
	Transport       string  `envconfig:"CARTRECOVERY_EMAIL_TRANSPORT" default:"log"`
	FromAddress     string  `envconfig:"CARTRECOVERY_EMAIL_FROM" default:"no-reply@cartrecovery.local"`
	RatePerSecond   float64 `envconfig:"CARTRECOVERY_EMAIL_RATE_PER_SECOND" default:"20"`
	RecoveryBaseURL string  `envconfig:"CARTRECOVERY_EMAIL_RECOVERY_BASE_URL" default:"http://localhost:3000/cart"`
}

func (e EmailConfig) validate(ps PubSubConfig) error {
	switch strings.ToLower(strings.TrimSpace(e.Transport)) {
	case EmailTransportLog:
		return nil
	case EmailTransportPubSub:
		if strings.TrimSpace(ps.EmailTopic) == "" {
			return fmt.Errorf("%s is required when %s=pubsub", EnvEmailTopic, EnvEmailTransport)
		}
		return nil
	default:
		return fmt.Errorf("unsupported email transport %q", e.Transport)
	}
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CARTRECOVERY_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"CARTRECOVERY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CARTRECOVERY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	EmailTopic     string        `envconfig:"CARTRECOVERY_PUBSUB_EMAIL_TOPIC"`
	PublishDelay   time.Duration `envconfig:"CARTRECOVERY_PUBSUB_PUBLISH_DELAY" default:"10ms"`
	PublishTimeout time.Duration `envconfig:"CARTRECOVERY_PUBSUB_PUBLISH_TIMEOUT" default:"60s"`
}

type BigQueryConfig struct {
	Enabled     bool   `envconfig:"CARTRECOVERY_BIGQUERY_ENABLED" default:"false"`
	Dataset     string `envconfig:"CARTRECOVERY_BIGQUERY_DATASET" default:"cartrecovery"`
	ReportTable string `envconfig:"CARTRECOVERY_BIGQUERY_REPORT_TABLE" default:"weekly_recovery_reports"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
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
