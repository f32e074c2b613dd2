package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Catalog       CatalogConfig
	Cart          CartConfig
	CORS          CORSConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Catalog.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BOOKSHOP_APP_ENV" required:"true"`
	Port         string `envconfig:"BOOKSHOP_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BOOKSHOP_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BOOKSHOP_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"BOOKSHOP_DB_DSN"`
	Driver string `envconfig:"BOOKSHOP_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BOOKSHOP_DB_HOST"`
	LegacyPort     int    `envconfig:"BOOKSHOP_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BOOKSHOP_DB_USER"`
	LegacyPassword string `envconfig:"BOOKSHOP_DB_PASSWORD"`
	LegacyName     string `envconfig:"BOOKSHOP_DB_NAME"`
	LegacySSLMode  string `envconfig:"BOOKSHOP_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"BOOKSHOP_SQLITE_PATH" default:"bookshop.db"`

	MaxOpenConns    int           `envconfig:"BOOKSHOP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BOOKSHOP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BOOKSHOP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BOOKSHOP_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BOOKSHOP_REDIS_URL"`
	Address      string        `envconfig:"BOOKSHOP_REDIS_ADDR"`
	Password     string        `envconfig:"BOOKSHOP_REDIS_PASSWORD"`
	DB           int           `envconfig:"BOOKSHOP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BOOKSHOP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BOOKSHOP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BOOKSHOP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BOOKSHOP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BOOKSHOP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"BOOKSHOP_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"BOOKSHOP_JWT_ISSUER" required:"true"`
	ExpirationMinutes      int    `envconfig:"BOOKSHOP_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenTTLMinutes int    `envconfig:"BOOKSHOP_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"BOOKSHOP_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"BOOKSHOP_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"BOOKSHOP_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"BOOKSHOP_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"BOOKSHOP_ARGON_KEY_LEN" default:"32"`
}

type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"BOOKSHOP_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit    int           `envconfig:"BOOKSHOP_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit       int           `envconfig:"BOOKSHOP_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	RegisterWindow     time.Duration `envconfig:"BOOKSHOP_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"5m"`
	RegisterEmailLimit int           `envconfig:"BOOKSHOP_AUTH_RATE_LIMIT_REGISTER_EMAIL_LIMIT" default:"3"`
	RegisterIPLimit    int           `envconfig:"BOOKSHOP_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"20"`
}

type FeatureFlagsConfig struct {
	UseSQLite            bool `envconfig:"BOOKSHOP_USE_SQLITE" default:"false"`
	AutoMigrate          bool `envconfig:"BOOKSHOP_AUTO_MIGRATE" default:"false"`
	DistributedCartLocks bool `envconfig:"BOOKSHOP_DISTRIBUTED_CART_LOCKS" default:"true"`
}

type CatalogConfig struct {
	BaseURL string        `envconfig:"BOOKSHOP_CATALOG_BASE_URL" default:"https://www.googleapis.com/books/v1"`
	APIKey  string        `envconfig:"BOOKSHOP_GOOGLE_BOOKS_API_KEY"`
	Timeout time.Duration `envconfig:"BOOKSHOP_CATALOG_TIMEOUT" default:"10s"`

	BreakerMaxRequests      uint32        `envconfig:"BOOKSHOP_CATALOG_BREAKER_MAX_REQUESTS" default:"5"`
	BreakerInterval         time.Duration `envconfig:"BOOKSHOP_CATALOG_BREAKER_INTERVAL" default:"30s"`
	BreakerTimeout          time.Duration `envconfig:"BOOKSHOP_CATALOG_BREAKER_TIMEOUT" default:"60s"`
	BreakerFailureThreshold float64       `envconfig:"BOOKSHOP_CATALOG_BREAKER_FAILURE_THRESHOLD" default:"0.8"`
	BreakerMinRequests      uint32        `envconfig:"BOOKSHOP_CATALOG_BREAKER_MIN_REQUESTS" default:"5"`
}

func (c CatalogConfig) validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("%s is required", EnvCatalogBaseURL)
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid %s: %w", EnvCatalogBaseURL, err)
	}
	if c.BreakerFailureThreshold <= 0 || c.BreakerFailureThreshold > 1 {
		return fmt.Errorf("%s must be in (0, 1]", EnvCatalogBreakerThreshold)
	}
	return nil
}

type CartConfig struct {
	LockTTL           time.Duration `envconfig:"BOOKSHOP_CART_LOCK_TTL" default:"5s"`
	LockRetryInterval time.Duration `envconfig:"BOOKSHOP_CART_LOCK_RETRY_INTERVAL" default:"25ms"`
	SessionIdleTTL    time.Duration `envconfig:"BOOKSHOP_CART_SESSION_IDLE_TTL" default:"30m"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"BOOKSHOP_CORS_ALLOWED_ORIGINS" default:"http://localhost:5173,http://localhost:3000"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		if strings.TrimSpace(db.SQLitePath) == "" {
			return fmt.Errorf("%s is required when %s is set", EnvSQLitePath, EnvUseSQLite)
		}
		return nil
	}
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
