package config

import (
	"fmt"
	"time"

	"packmarket/internal/db"
	"packmarket/internal/logger"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppPort          string  `env:"APP_PORT" envDefault:"8080"`
	DatabaseURL      string  `env:"DATABASE_URL"`
	BotToken         string  `env:"BOT_TOKEN"`
	BotUsername      string  `env:"BOT_USERNAME" envDefault:"PackMarket BOT"`
	JWTSecret        string  `env:"JWT_SECRET"`
	AdminTelegramIDs []int64 `env:"ADMIN_TELEGRAM_IDS" envSeparator:","` // tg id админов через запятую
	AdminBotEnabled  bool    `env:"ADMIN_BOT_ENABLED" envDefault:"false"`

	DevMode        bool          `env:"DEV_MODE" envDefault:"false"` // без проверки initData
	AllowedOrigin  string        `env:"ALLOWED_ORIGIN"`
	InitDataMaxAge time.Duration `env:"INIT_DATA_MAX_AGE" envDefault:"1h"`

	DBMaxConns       int32         `env:"DB_MAX_CONNS" envDefault:"20"`
	DBConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"5s"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"LOG_JSON" envDefault:"false"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Внутренний токен для сервисов боёв и трейдов
	ServiceToken string `env:"SERVICE_TOKEN"`

	// Паки
	PublishCooldown        time.Duration `env:"PUBLISH_COOLDOWN" envDefault:"168h"`
	CreatorRevenueSharePct int64         `env:"CREATOR_REVENUE_SHARE_PCT" envDefault:"70"`
	MaxPackPrice           int64         `env:"MAX_PACK_PRICE" envDefault:"100000"`

	// Сезоны
	SeasonLength           time.Duration `env:"SEASON_LENGTH" envDefault:"1440h"`
	LeaderboardTopN        int           `env:"LEADERBOARD_TOP_N" envDefault:"100"`
	SeasonBonusTopN        int           `env:"SEASON_BONUS_TOP_N" envDefault:"10"`
	SeasonRolloverInterval time.Duration `env:"SEASON_ROLLOVER_INTERVAL" envDefault:"5m"`

	// Реконсиляция покупок
	ReconcileInterval    time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`
	ReconcileMaxAttempts int           `env:"RECONCILE_MAX_ATTEMPTS" envDefault:"10"`
	ReconcileBatchSize   int           `env:"RECONCILE_BATCH_SIZE" envDefault:"50"`
	CaptureGrace         time.Duration `env:"CAPTURE_GRACE" envDefault:"5m"`

	// Обогащение метаданных
	EnrichmentBaseURL  string        `env:"ENRICHMENT_BASE_URL" envDefault:"https://api.spotify.com/v1"`
	EnrichmentAPIKey   string        `env:"ENRICHMENT_API_KEY"`
	EnrichmentTimeout  time.Duration `env:"ENRICHMENT_TIMEOUT" envDefault:"10s"`
	EnrichmentCacheTTL time.Duration `env:"ENRICHMENT_CACHE_TTL" envDefault:"24h"`

	// Rate limit API (запросов за окно)
	APIRateLimit  int           `env:"API_RATE_LIMIT" envDefault:"60"`
	APIRateWindow time.Duration `env:"API_RATE_WINDOW" envDefault:"1m"`
	AuthRateLimit int           `env:"AUTH_RATE_LIMIT" envDefault:"5"`
	BuyRateLimit  int           `env:"BUY_RATE_LIMIT" envDefault:"10"`
}

// Parse reads the config from the environment without validating required values.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// Загрузка конфига из .env и окружения
func Load() *Config {
	_ = godotenv.Load()

	cfg, err := Parse()
	if err != nil {
		logger.Fatal("failed to parse config", "error", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", "error", err)
	}
	return cfg
}

// Validate checks required values and ranges
func (c *Config) Validate() error {
	switch {
	case c.DatabaseURL == "":
		return fmt.Errorf("DATABASE_URL is not set")
	case c.JWTSecret == "":
		return fmt.Errorf("JWT_SECRET is not set")
	case c.BotToken == "":
		return fmt.Errorf("BOT_TOKEN is not set")
	case c.CreatorRevenueSharePct < 0 || c.CreatorRevenueSharePct > 100:
		return fmt.Errorf("CREATOR_REVENUE_SHARE_PCT must be within 0..100, got %d", c.CreatorRevenueSharePct)
	case c.SeasonLength <= 0:
		return fmt.Errorf("SEASON_LENGTH must be positive")
	case c.PublishCooldown < 0:
		return fmt.Errorf("PUBLISH_COOLDOWN must not be negative")
	case c.DBMaxConns < 0:
		return fmt.Errorf("DB_MAX_CONNS must not be negative")
	}
	return nil
}

// Pool returns the postgres pool settings
func (c *Config) Pool() db.PoolOptions {
	return db.PoolOptions{MaxConns: c.DBMaxConns, ConnectTimeout: c.DBConnectTimeout}
}

// IsAdmin reports whether the telegram id belongs to an admin
func (c *Config) IsAdmin(tgID int64) bool {
	for _, id := range c.AdminTelegramIDs {
		if id == tgID {
			return true
		}
	}
	return false
}
