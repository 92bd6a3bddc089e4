package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Hold     HoldConfig
	Refund   RefundConfig
	Gateway  GatewayConfig
	Mailer   MailerConfig
	Rate     RateLimitConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
}

type HoldConfig struct {
	DefaultTTL    time.Duration
	MinTTL        time.Duration
	MaxTTL        time.Duration
	SweepInterval time.Duration
}

type RefundConfig struct {
	// Currency used when a request carries none.
	DefaultCurrency string
}

type GatewayConfig struct {
	// Provider is "stripe", "square" or "mock".
	Provider          string
	StripeSecretKey   string
	SquareAccessToken string
	SquareEnvironment string
}

type MailerConfig struct {
	Provider           string
	FromAddress        string
	FromName           string
	SESRegion          string
	SESAccessKeyID     string
	SESSecretAccessKey string
}

type RateLimitConfig struct {
	ReserveLimit  int
	ReserveWindow time.Duration
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	serverPort, err := envInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	serverCfg := ServerConfig{
		Host: envStr("SERVER_HOST", "localhost"),
		Port: serverPort,
	}

	postgresPort, err := envInt("POSTGRES_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	postgresUser := os.Getenv("POSTGRES_USER")
	if postgresUser == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_USER", op)
	}

	postgresPassword := os.Getenv("POSTGRES_PASSWORD")
	if postgresPassword == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_PASSWORD", op)
	}

	postgresDB := os.Getenv("POSTGRES_DB")
	if postgresDB == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_DB", op)
	}

	postgresCfg := PostgresConfig{
		User:     postgresUser,
		Password: postgresPassword,
		Name:     postgresDB,
		Host:     envStr("POSTGRES_HOST", "localhost"),
		Port:     postgresPort,
		SSLMode:  envStr("POSTGRES_SSLMODE", "disable"),
	}

	redisCfg := RedisConfig{
		Addr:     envStr("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	}

	holdDefault, err := envDuration("HOLD_DEFAULT_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	holdMin, err := envDuration("HOLD_MIN_TTL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	holdMax, err := envDuration("HOLD_MAX_TTL", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sweep, err := envDuration("HOLD_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	holdCfg := HoldConfig{
		DefaultTTL:    holdDefault,
		MinTTL:        holdMin,
		MaxTTL:        holdMax,
		SweepInterval: sweep,
	}

	gatewayCfg := GatewayConfig{
		Provider:          envStr("PAYMENT_PROVIDER", "mock"),
		StripeSecretKey:   os.Getenv("STRIPE_SECRET_KEY"),
		SquareAccessToken: os.Getenv("SQUARE_ACCESS_TOKEN"),
		SquareEnvironment: envStr("SQUARE_ENVIRONMENT", "sandbox"),
	}

	mailerCfg := MailerConfig{
		Provider:           envStr("MAIL_PROVIDER", "noop"),
		FromAddress:        os.Getenv("MAIL_FROM_ADDRESS"),
		FromName:           os.Getenv("MAIL_FROM_NAME"),
		SESRegion:          envStr("SES_REGION", "us-east-1"),
		SESAccessKeyID:     os.Getenv("SES_ACCESS_KEY_ID"),
		SESSecretAccessKey: os.Getenv("SES_SECRET_ACCESS_KEY"),
	}

	reserveLimit, err := envInt("RATE_RESERVE_LIMIT", 10)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	reserveWindow, err := envDuration("RATE_RESERVE_WINDOW", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Config{
		Server:   serverCfg,
		Postgres: postgresCfg,
		Redis:    redisCfg,
		Hold:     holdCfg,
		Refund:   RefundConfig{DefaultCurrency: envStr("REFUND_CURRENCY", "CAD")},
		Gateway:  gatewayCfg,
		Mailer:   mailerCfg,
		Rate: RateLimitConfig{
			ReserveLimit:  reserveLimit,
			ReserveWindow: reserveWindow,
		},
	}, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
