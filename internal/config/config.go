package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string   `mapstructure:"PORT"`
	Env                   string   `mapstructure:"ENV"`
	DatabaseURL           string   `mapstructure:"DATABASE_URL"`
	DBMaxConns            int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32    `mapstructure:"DB_MIN_CONNS"`
	JWTSigningKey         string   `mapstructure:"JWT_SIGNING_KEY"`
	JWTIssuer             string   `mapstructure:"JWT_ISSUER"`
	CORSOrigins           []string `mapstructure:"CORS_ORIGINS"`
	ImportMaxBytes        int64    `mapstructure:"IMPORT_MAX_BYTES"`
	PostingMaxRetries     int      `mapstructure:"POSTING_MAX_RETRIES"`
	PostingRetryBackoffMS int      `mapstructure:"POSTING_RETRY_BACKOFF_MS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("IMPORT_MAX_BYTES", 10<<20)
	v.SetDefault("POSTING_MAX_RETRIES", 3)
	v.SetDefault("POSTING_RETRY_BACKOFF_MS", 50)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("JWT_SIGNING_KEY")
	v.BindEnv("JWT_ISSUER")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("IMPORT_MAX_BYTES")
	v.BindEnv("POSTING_MAX_RETRIES")
	v.BindEnv("POSTING_RETRY_BACKOFF_MS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: dev auth is active; all requests get the billing role.")
		log.Println("WARNING: set ENV=production and JWT_SIGNING_KEY for production.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside of
// development a JWT signing key must be set so that authentication is
// actually enforced.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY must be set when ENV=%q; refusing to start without authentication", c.Env)
	}
	if c.ImportMaxBytes <= 0 {
		return fmt.Errorf("IMPORT_MAX_BYTES must be positive, got %d", c.ImportMaxBytes)
	}
	if c.PostingMaxRetries < 1 {
		return fmt.Errorf("POSTING_MAX_RETRIES must be at least 1, got %d", c.PostingMaxRetries)
	}
	return nil
}
