package config

const EnvPrefix = "CARTRECOVERY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "CARTRECOVERY_APP_ENV"
	EnvPort     = "CARTRECOVERY_APP_PORT"
	EnvLogLevel = "CARTRECOVERY_LOG_LEVEL"

	EnvDBDSN  = "CARTRECOVERY_DB_DSN"
	EnvDBHost = "CARTRECOVERY_DB_HOST"
	EnvDBUser = "CARTRECOVERY_DB_USER"
	EnvDBName = "CARTRECOVERY_DB_NAME"

	EnvRedisURL = "CARTRECOVERY_REDIS_URL"

	EnvUseSQLite   = "CARTRECOVERY_USE_SQLITE"
	EnvAutoMigrate = "CARTRECOVERY_AUTO_MIGRATE"

	EnvJWTSecret = "CARTRECOVERY_JWT_SECRET"
	EnvJWTIssuer = "CARTRECOVERY_JWT_ISSUER"

	EnvCartGuestTTL = "CARTRECOVERY_CART_GUEST_TTL"
	EnvCartTaxRate  = "CARTRECOVERY_CART_TAX_RATE"

	EnvIdleThreshold  = "CARTRECOVERY_ABANDONMENT_IDLE_THRESHOLD"
	EnvRetentionDays  = "CARTRECOVERY_ABANDONMENT_RETENTION_DAYS"
	EnvQueueWorkers   = "CARTRECOVERY_QUEUE_WORKERS"
	EnvEmailTransport = "CARTRECOVERY_EMAIL_TRANSPORT"
	EnvEmailTopic     = "CARTRECOVERY_PUBSUB_EMAIL_TOPIC"
	EnvGCPProjectID   = "CARTRECOVERY_GCP_PROJECT_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
