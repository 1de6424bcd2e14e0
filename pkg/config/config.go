package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App        AppConfig
	Service    ServiceConfig
	DB         DBConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Square     SquareConfig
	PubSub     PubSubConfig
	Outbox     OutboxConfig
	Settlement SettlementConfig
	Cron       CronConfig
	GCP        GCPConfig
	Features   FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Settlement.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"HALDIRECT_APP_ENV" required:"true"`
	Port         string `envconfig:"HALDIRECT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"HALDIRECT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"HALDIRECT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"HALDIRECT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"HALDIRECT_DB_DSN"`
	Driver string `envconfig:"HALDIRECT_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"HALDIRECT_DB_HOST"`
	Port     int    `envconfig:"HALDIRECT_DB_PORT" default:"5432"`
	User     string `envconfig:"HALDIRECT_DB_USER"`
	Password string `envconfig:"HALDIRECT_DB_PASSWORD"`
	Name     string `envconfig:"HALDIRECT_DB_NAME"`
	SSLMode  string `envconfig:"HALDIRECT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"HALDIRECT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"HALDIRECT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"HALDIRECT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"HALDIRECT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"HALDIRECT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"HALDIRECT_REDIS_ADDR"`
	Password     string        `envconfig:"HALDIRECT_REDIS_PASSWORD"`
	DB           int           `envconfig:"HALDIRECT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"HALDIRECT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"HALDIRECT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"HALDIRECT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"HALDIRECT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"HALDIRECT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"HALDIRECT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"HALDIRECT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"HALDIRECT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type SquareConfig struct {
	AccessToken   string `envconfig:"HALDIRECT_SQUARE_ACCESS_TOKEN"`
	Env           string `envconfig:"HALDIRECT_SQUARE_ENV" default:"sandbox"`
	LocationID    string `envconfig:"HALDIRECT_SQUARE_LOCATION_ID"`
	WebhookSecret string `envconfig:"HALDIRECT_SQUARE_WEBHOOK_SECRET"`

	CallTimeout time.Duration `envconfig:"HALDIRECT_SQUARE_CALL_TIMEOUT" default:"15s"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type GCPConfig struct {
	ProjectID              string `envconfig:"HALDIRECT_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"HALDIRECT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"HALDIRECT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	SettlementTopic        string `envconfig:"HALDIRECT_PUBSUB_SETTLEMENT_TOPIC" default:"hd-settlement-events"`
	SettlementSubscription string `envconfig:"HALDIRECT_PUBSUB_SETTLEMENT_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"HALDIRECT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"HALDIRECT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"HALDIRECT_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// SettlementConfig carries the money-reconciliation knobs. Thresholds are in
// whole percent; amounts in kurus.
type SettlementConfig struct {
	AdminApprovalThresholdPercent int           `envconfig:"HALDIRECT_SETTLEMENT_ADMIN_THRESHOLD_PERCENT" default:"20"`
	SecurityMarginPercent         int           `envconfig:"HALDIRECT_SETTLEMENT_SECURITY_MARGIN_PERCENT" default:"15"`
	AutoApproveFloorCents         int64         `envconfig:"HALDIRECT_SETTLEMENT_AUTO_APPROVE_FLOOR_CENTS" default:"0"`
	PreAuthHoldWindow             time.Duration `envconfig:"HALDIRECT_SETTLEMENT_PREAUTH_HOLD_WINDOW" default:"48h"`
	MaxGatewayAttempts            int           `envconfig:"HALDIRECT_SETTLEMENT_MAX_GATEWAY_ATTEMPTS" default:"3"`
	RetryBackoffBase              time.Duration `envconfig:"HALDIRECT_SETTLEMENT_RETRY_BACKOFF_BASE" default:"2s"`
	RetryBackoffCap               time.Duration `envconfig:"HALDIRECT_SETTLEMENT_RETRY_BACKOFF_CAP" default:"1m"`
	IntakeRetention               time.Duration `envconfig:"HALDIRECT_SETTLEMENT_INTAKE_RETENTION" default:"2160h"`
	Currency                      string        `envconfig:"HALDIRECT_SETTLEMENT_CURRENCY" default:"TRY"`
}

func (s SettlementConfig) validate() error {
	if s.AdminApprovalThresholdPercent <= 0 || s.AdminApprovalThresholdPercent > 100 {
		return fmt.Errorf("admin approval threshold must be within (0, 100], got %d", s.AdminApprovalThresholdPercent)
	}
	if s.SecurityMarginPercent < 0 || s.SecurityMarginPercent > 100 {
		return fmt.Errorf("security margin must be within [0, 100], got %d", s.SecurityMarginPercent)
	}
	if s.MaxGatewayAttempts <= 0 {
		return fmt.Errorf("max gateway attempts must be positive, got %d", s.MaxGatewayAttempts)
	}
	return nil
}

type CronConfig struct {
	Interval time.Duration `envconfig:"HALDIRECT_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"HALDIRECT_CRON_LOCK_TTL" default:"10m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"HALDIRECT_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	for env, value := range map[string]string{
		"HALDIRECT_DB_HOST": db.Host,
		"HALDIRECT_DB_USER": db.User,
		"HALDIRECT_DB_NAME": db.Name,
	} {
		if value == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either HALDIRECT_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
