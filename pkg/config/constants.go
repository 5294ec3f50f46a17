package config

const (
	EnvPrefix = "FULFILLMENT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	PricingGrossInclusive = "gross_inclusive"
	PricingNetExclusive   = "net_exclusive"
)

const (
	EnvAppEnv             = "FULFILLMENT_APP_ENV"
	EnvPort               = "FULFILLMENT_APP_PORT"
	EnvDBDSN              = "FULFILLMENT_DB_DSN"
	EnvDBHost             = "FULFILLMENT_DB_HOST"
	EnvDBUser             = "FULFILLMENT_DB_USER"
	EnvDBName             = "FULFILLMENT_DB_NAME"
	EnvRedisURL           = "FULFILLMENT_REDIS_URL"
	EnvJWTSecret          = "FULFILLMENT_JWT_SECRET"
	EnvJWTIssuer          = "FULFILLMENT_JWT_ISSUER"
	EnvSquareAccessToken  = "FULFILLMENT_SQUARE_ACCESS_TOKEN"
	EnvPricingConvention  = "FULFILLMENT_PAYMENTS_PRICING_CONVENTION"
	EnvPlatformFeeBps     = "FULFILLMENT_PAYMENTS_PLATFORM_FEE_BPS"
	EnvRetrySchedule      = "FULFILLMENT_PAYMENTS_RETRY_SCHEDULE"
	EnvMaxCaptureAttempts = "FULFILLMENT_PAYMENTS_MAX_CAPTURE_ATTEMPTS"
	EnvMaxAuthAttempts    = "FULFILLMENT_PAYMENTS_MAX_AUTHORIZATION_ATTEMPTS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
