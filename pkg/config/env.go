package config

// EnvPrefix is passed to envconfig; every field carries its full variable name.
const EnvPrefix = "ASPY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	MockKeyID         = "dummy"
	DefaultPeriodDays = 30
)

const (
	EnvAppEnv   = "ASPY_APP_ENV"
	EnvPort     = "ASPY_APP_PORT"
	EnvDBDSN    = "ASPY_DB_DSN"
	EnvDBHost   = "ASPY_DB_HOST"
	EnvDBUser   = "ASPY_DB_USER"
	EnvDBName   = "ASPY_DB_NAME"
	EnvRedisURL = "ASPY_REDIS_URL"

	EnvJWTSecret = "ASPY_JWT_SECRET"
	EnvJWTIssuer = "ASPY_JWT_ISSUER"

	EnvGatewayKeyID         = "ASPY_GATEWAY_KEY_ID"
	EnvGatewayKeySecret     = "ASPY_GATEWAY_KEY_SECRET"
	EnvGatewayWebhookSecret = "ASPY_GATEWAY_WEBHOOK_SECRET"
	EnvBillingPeriodDays    = "ASPY_BILLING_PERIOD_DAYS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
