package config

import "github.com/angelmondragon/bookshop-backend/pkg/env"

// EnvPrefix is handed to envconfig; every field carries its full variable name.
const EnvPrefix = env.Prefix

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv                  = "BOOKSHOP_APP_ENV"
	EnvPort                    = "BOOKSHOP_APP_PORT"
	EnvDBDSN                   = "BOOKSHOP_DB_DSN"
	EnvDBHost                  = "BOOKSHOP_DB_HOST"
	EnvDBUser                  = "BOOKSHOP_DB_USER"
	EnvDBName                  = "BOOKSHOP_DB_NAME"
	EnvUseSQLite               = "BOOKSHOP_USE_SQLITE"
	EnvSQLitePath              = "BOOKSHOP_SQLITE_PATH"
	EnvRedisURL                = "BOOKSHOP_REDIS_URL"
	EnvJWTSecret               = "BOOKSHOP_JWT_SECRET"
	EnvJWTIssuer               = "BOOKSHOP_JWT_ISSUER"
	EnvJWTExpMins              = "BOOKSHOP_JWT_EXPIRATION_MINUTES"
	EnvRefreshTokenTTLMinutes  = "BOOKSHOP_REFRESH_TOKEN_TTL_MINUTES"
	EnvCatalogBaseURL          = "BOOKSHOP_CATALOG_BASE_URL"
	EnvCatalogAPIKey           = "BOOKSHOP_GOOGLE_BOOKS_API_KEY"
	EnvCatalogBreakerThreshold = "BOOKSHOP_CATALOG_BREAKER_FAILURE_THRESHOLD"
	EnvCartLockTTL             = "BOOKSHOP_CART_LOCK_TTL"
	EnvCORSAllowedOrigins      = "BOOKSHOP_CORS_ALLOWED_ORIGINS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
