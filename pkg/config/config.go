package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreFirestore = "firestore"
	StorePostgres  = "postgres"
	StoreMemory    = "memory"

	AuthFirebase = "firebase"
	AuthJWT      = "jwt"
)

type Config struct {
	ServerPort  string `env:"SERVER_PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"firestore"`
	DatabaseURL string `env:"DATABASE_URL"`

	Firebase FirebaseConfig `envPrefix:"FIREBASE_"`

	AuthProvider string        `env:"AUTH_PROVIDER" envDefault:"firebase"`
	JWTSecret    string        `env:"JWT_SECRET"`
	JWTIssuer    string        `env:"JWT_ISSUER" envDefault:"marketchat"`
	JWTExpiry    time.Duration `env:"JWT_EXPIRY" envDefault:"24h"`

	Redis RedisConfig `envPrefix:"REDIS_"`

	RateLimitEnabled bool   `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	MemorySeedPath   string `env:"MEMORY_SEED_PATH"`
}

type FirebaseConfig struct {
	ProjectID          string `env:"PROJECT_ID"`
	ServiceAccountJSON string `env:"SERVICE_ACCOUNT_JSON"`
	ServiceAccountPath string `env:"SERVICE_ACCOUNT_PATH"`
}

type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
	Channel  string `env:"CHANNEL" envDefault:"marketchat:events"`
}

func Load() (*Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreFirestore:
		if c.Firebase.ProjectID == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID is required for the firestore store")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.AuthProvider {
	case AuthFirebase:
		if c.Firebase.ProjectID == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID is required for firebase auth")
		}
	case AuthJWT:
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required for jwt auth")
		}
	default:
		return fmt.Errorf("unknown AUTH_PROVIDER %q", c.AuthProvider)
	}

	return nil
}

// ClientConfig configures the terminal client.
type ClientConfig struct {
	APIURL            string        `env:"MARKETCHAT_API_URL" envDefault:"http://localhost:8080"`
	Token             string        `env:"MARKETCHAT_TOKEN"`
	UserID            string        `env:"MARKETCHAT_USER"`
	TypingIdleTimeout time.Duration `env:"TYPING_IDLE_TIMEOUT" envDefault:"2s"`
}

func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate runs after command-line flags have been applied.
func (c *ClientConfig) Validate() error {
	if c.TypingIdleTimeout <= 0 {
		return fmt.Errorf("TYPING_IDLE_TIMEOUT must be positive")
	}
	if c.Token == "" && c.UserID == "" {
		return fmt.Errorf("MARKETCHAT_TOKEN or MARKETCHAT_USER is required")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) UsesFirebase() bool {
	return c.StoreDriver == StoreFirestore || c.AuthProvider == AuthFirebase
}
