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
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Publisher    PublisherConfig
	Wallet       WalletConfig
	Ingest       IngestConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DriverSQLite
	} else if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Publisher.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWorker parses the configuration for processes that never touch the database.
func LoadWorker() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"AKUA_APP_ENV" required:"true"`
	Port         string `envconfig:"AKUA_APP_PORT" default:"8081"`
	LogLevel     string `envconfig:"AKUA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"AKUA_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"AKUA_LOG_FORMAT" default:"json"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"AKUA_SERVICE_KIND" default:"publisher"`
}

type DBConfig struct {
	DSN    string `envconfig:"AKUA_DB_DSN"`
	Driver string `envconfig:"AKUA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"AKUA_DB_HOST"`
	LegacyPort     int    `envconfig:"AKUA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"AKUA_DB_USER"`
	LegacyPassword string `envconfig:"AKUA_DB_PASSWORD"`
	LegacyName     string `envconfig:"AKUA_DB_NAME"`
	LegacySSLMode  string `envconfig:"AKUA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"AKUA_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"AKUA_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"AKUA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"AKUA_DB_CONN_MAX_IDLE_TIME" default:"30s"`
	SQLitePath      string        `envconfig:"AKUA_SQLITE_PATH" default:"akua.db"`
}

// RedisConfig is optional for the publisher: without a URL or address the
// rate limiter and locks fall back to in-process implementations.
type RedisConfig struct {
	URL          string        `envconfig:"AKUA_REDIS_URL"`
	Address      string        `envconfig:"AKUA_REDIS_ADDR"`
	Password     string        `envconfig:"AKUA_REDIS_PASSWORD"`
	DB           int           `envconfig:"AKUA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"AKUA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"AKUA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"AKUA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"AKUA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"AKUA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a Redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type GCPConfig struct {
	ProjectID              string `envconfig:"AKUA_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"AKUA_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"AKUA_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	InTopic             string `envconfig:"AKUA_PUBSUB_IN_TOPIC" default:"iot.payload.in"`
	InSubscription      string `envconfig:"AKUA_PUBSUB_IN_SUBSCRIPTION" default:"iot.payload.in"`
	OutTopic            string `envconfig:"AKUA_PUBSUB_OUT_TOPIC" default:"iot.payload.out"`
	DLQTopic            string `envconfig:"AKUA_PUBSUB_DLQ_TOPIC" default:"iot.payload.in.dlq"`
	ReceiptSubscription string `envconfig:"AKUA_PUBSUB_RECEIPT_SUBSCRIPTION" default:"iot.payload.out.archive"`
}

type BigQueryConfig struct {
	Dataset       string `envconfig:"AKUA_BIGQUERY_DATASET" default:"akua"`
	ReceiptsTable string `envconfig:"AKUA_BIGQUERY_RECEIPTS_TABLE" default:"anchor_receipts"`
	CreateTable   bool   `envconfig:"AKUA_BIGQUERY_CREATE_TABLE" default:"false"`
}

type PublisherConfig struct {
	Network            string        `envconfig:"AKUA_NETWORK" default:"testnet"`
	AuthToken          string        `envconfig:"AKUA_PUBLISHER_AUTH_TOKEN"`
	RateLimitPerMin    int           `envconfig:"AKUA_RATE_LIMIT_PER_MIN" default:"100"`
	Stub               bool          `envconfig:"AKUA_PUBLISHER_STUB" default:"false"`
	AllowStubOnMainnet bool          `envconfig:"AKUA_PUBLISHER_ALLOW_STUB_ON_MAINNET" default:"false"`
	MaxFeeSats         int64         `envconfig:"AKUA_MAX_FEE_SATS" default:"10000"`
	MinBalanceSats     int64         `envconfig:"AKUA_MIN_BALANCE_SATS" default:"1000000"`
	FeePerKb           int64         `envconfig:"AKUA_FEE_PER_KB" default:"1000"`
	SelectionBuffer    int64         `envconfig:"AKUA_SELECTION_BUFFER_SATS" default:"10000"`
	SerializeByHash    bool          `envconfig:"AKUA_PUBLISHER_SERIALIZE_BY_HASH" default:"false"`
	LockTTL            time.Duration `envconfig:"AKUA_PUBLISHER_LOCK_TTL" default:"30s"`
}

// IsMainnet reports whether the publisher anchors on BSV mainnet.
func (p PublisherConfig) IsMainnet() bool {
	return strings.EqualFold(strings.TrimSpace(p.Network), NetworkMainnet)
}

const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func (p PublisherConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(p.Network)) {
	case NetworkMainnet, NetworkTestnet:
	default:
		return fmt.Errorf("%s must be %q or %q, got %q", EnvPublisherNetwork, NetworkMainnet, NetworkTestnet, p.Network)
	}
	if p.MaxFeeSats <= 0 {
		return fmt.Errorf("%s must be positive", EnvPublisherMaxFee)
	}
	if p.FeePerKb <= 0 {
		return fmt.Errorf("%s must be positive", EnvPublisherFeePerKb)
	}
	return nil
}

type WalletConfig struct {
	FundingWIF     string `envconfig:"AKUA_FUNDING_WIF"`
	FundingAddress string `envconfig:"AKUA_FUNDING_ADDR"`
	WOCBaseURL     string `envconfig:"AKUA_WOC_BASE_URL"`
	UTXOCachePath  string `envconfig:"AKUA_UTXO_CACHE_PATH" default:"utxos.json"`
}

// Configured reports whether both funding credentials are present.
func (w WalletConfig) Configured() bool {
	return strings.TrimSpace(w.FundingWIF) != "" && strings.TrimSpace(w.FundingAddress) != ""
}

type IngestConfig struct {
	PublisherURL     string        `envconfig:"AKUA_PUBLISHER_URL" default:"http://localhost:8081/publish"`
	PublisherTimeout time.Duration `envconfig:"AKUA_PUBLISHER_TIMEOUT" default:"8s"`
	PublisherToken   string        `envconfig:"AKUA_PUBLISHER_TOKEN"`
	MaxAttempts      int           `envconfig:"AKUA_MAX_ATTEMPTS" default:"5"`
	Prefetch         int           `envconfig:"AKUA_PREFETCH" default:"20"`
	HTTPPort         string        `envconfig:"AKUA_HASHSVC_PORT" default:"8080"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"AKUA_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"AKUA_AUTO_MIGRATE" default:"false"`
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
