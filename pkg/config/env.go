package config

const (
	EnvPrefix = "AKUA"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv       = "AKUA_APP_ENV"
	EnvPort         = "AKUA_APP_PORT"
	EnvLogLevel     = "AKUA_LOG_LEVEL"
	EnvLogWarnStack = "AKUA_LOG_WARN_STACK"
	EnvLogFormat    = "AKUA_LOG_FORMAT"
	EnvServiceKind  = "AKUA_SERVICE_KIND"

	EnvDBDSN      = "AKUA_DB_DSN"
	EnvDBDriver   = "AKUA_DB_DRIVER"
	EnvDBHost     = "AKUA_DB_HOST"
	EnvDBPort     = "AKUA_DB_PORT"
	EnvDBUser     = "AKUA_DB_USER"
	EnvDBPassword = "AKUA_DB_PASSWORD"
	EnvDBName     = "AKUA_DB_NAME"
	EnvDBSSLMode  = "AKUA_DB_SSLMODE"

	EnvRedisURL  = "AKUA_REDIS_URL"
	EnvRedisAddr = "AKUA_REDIS_ADDR"

	EnvGCPProjectID       = "AKUA_GCP_PROJECT_ID"
	EnvGCPCredentialsJSON = "AKUA_GCP_CREDENTIALS_JSON"
	EnvGCPCredentialsFile = "AKUA_GOOGLE_APPLICATION_CREDENTIALS"

	EnvPubSubInTopic             = "AKUA_PUBSUB_IN_TOPIC"
	EnvPubSubInSubscription      = "AKUA_PUBSUB_IN_SUBSCRIPTION"
	EnvPubSubOutTopic            = "AKUA_PUBSUB_OUT_TOPIC"
	EnvPubSubDLQTopic            = "AKUA_PUBSUB_DLQ_TOPIC"
	EnvPubSubReceiptSubscription = "AKUA_PUBSUB_RECEIPT_SUBSCRIPTION"

	EnvBigQueryDataset       = "AKUA_BIGQUERY_DATASET"
	EnvBigQueryReceiptsTable = "AKUA_BIGQUERY_RECEIPTS_TABLE"
	EnvBigQueryCreateTable   = "AKUA_BIGQUERY_CREATE_TABLE"

	EnvPublisherNetwork          = "AKUA_NETWORK"
	EnvPublisherAuthToken        = "AKUA_PUBLISHER_AUTH_TOKEN"
	EnvPublisherRateLimit        = "AKUA_RATE_LIMIT_PER_MIN"
	EnvPublisherStub             = "AKUA_PUBLISHER_STUB"
	EnvPublisherAllowStubMainnet = "AKUA_PUBLISHER_ALLOW_STUB_ON_MAINNET"
	EnvPublisherMaxFee           = "AKUA_MAX_FEE_SATS"
	EnvPublisherMinBalance       = "AKUA_MIN_BALANCE_SATS"
	EnvPublisherFeePerKb         = "AKUA_FEE_PER_KB"
	EnvPublisherSelectionBuffer  = "AKUA_SELECTION_BUFFER_SATS"
	EnvPublisherSerializeByHash  = "AKUA_PUBLISHER_SERIALIZE_BY_HASH"
	EnvPublisherLockTTL          = "AKUA_PUBLISHER_LOCK_TTL"

	EnvWalletFundingWIF     = "AKUA_FUNDING_WIF"
	EnvWalletFundingAddress = "AKUA_FUNDING_ADDR"
	EnvWalletWOCBaseURL     = "AKUA_WOC_BASE_URL"
	EnvWalletUTXOCachePath  = "AKUA_UTXO_CACHE_PATH"

	EnvIngestPublisherURL     = "AKUA_PUBLISHER_URL"
	EnvIngestPublisherTimeout = "AKUA_PUBLISHER_TIMEOUT"
	EnvIngestPublisherToken   = "AKUA_PUBLISHER_TOKEN"
	EnvIngestMaxAttempts      = "AKUA_MAX_ATTEMPTS"
	EnvIngestPrefetch         = "AKUA_PREFETCH"
	EnvIngestHTTPPort         = "AKUA_HASHSVC_PORT"

	EnvUseSQLite   = "AKUA_USE_SQLITE"
	EnvAutoMigrate = "AKUA_AUTO_MIGRATE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
