package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"checkout-service/database"
	"checkout-service/models"
	"checkout-service/services"

	"github.com/shopspring/decimal"
)

const (
	backendPostgres = "postgres"
	backendDynamoDB = "dynamodb"
)

type Config struct {
	Port   string
	AppEnv string

	StoreBackend        string
	Postgres            database.Config
	DynamoOrdersTable   string
	DynamoProductsTable string

	StripeAPIKey        string
	StripeWebhookSecret string

	Currency      string
	TaxRate       decimal.Decimal
	ShippingRates map[models.ShippingMethod]decimal.Decimal

	JWTSecret           string
	TrustGatewayHeaders bool

	RedisAddr      string
	RedisPassword  string
	EventLedgerTTL time.Duration

	KafkaBrokers          []string
	OrderEventsTopic      string
	OrderSNSTopicARN      string
	GatewayEventsQueueURL string

	CloudWatchEnabled bool
	LogGroupName      string
	AllowedOrigins    []string
	CheckoutPerMinute int
	RequestTimeout    time.Duration
}

// secretSource is implemented by awspkg.SecretsClient.
type secretSource interface {
	GetSecret(ctx context.Context, name string) (string, error)
	GetSecretMap(ctx context.Context, name string) (map[string]string, error)
}

// LoadConfig reads the environment. When secrets is non-nil, credentials
// stored in Secrets Manager override the environment.
func LoadConfig(ctx context.Context, secrets secretSource) (*Config, error) {
	cfg := &Config{
		Port:   getEnv("PORT", "8080"),
		AppEnv: getEnv("APP_ENV", "development"),

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", backendPostgres)),
		Postgres: database.Config{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			User:     os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			Name:     os.Getenv("POSTGRES_DB"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			TimeZone: getEnv("POSTGRES_TIMEZONE", "UTC"),
		},
		DynamoOrdersTable:   getEnv("DYNAMO_ORDERS_TABLE", "checkout-orders"),
		DynamoProductsTable: getEnv("DYNAMO_PRODUCTS_TABLE", "checkout-products"),

		StripeAPIKey:        os.Getenv("STRIPE_API_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),

		Currency: strings.ToLower(getEnv("CURRENCY", "usd")),

		JWTSecret:           os.Getenv("JWT_SECRET"),
		TrustGatewayHeaders: getEnvBool("TRUST_GATEWAY_HEADERS", false),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		KafkaBrokers:          splitList(os.Getenv("KAFKA_BROKERS")),
		OrderEventsTopic:      getEnv("ORDER_EVENTS_TOPIC", "order-events"),
		OrderSNSTopicARN:      os.Getenv("ORDER_SNS_TOPIC_ARN"),
		GatewayEventsQueueURL: os.Getenv("GATEWAY_EVENTS_QUEUE_URL"),

		CloudWatchEnabled: getEnvBool("CLOUDWATCH_ENABLED", false),
		LogGroupName:      os.Getenv("CLOUDWATCH_LOG_GROUP"),
		AllowedOrigins:    splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
	}

	var err error
	if cfg.TaxRate, err = decimal.NewFromString(getEnv("TAX_RATE", "0")); err != nil {
		return nil, fmt.Errorf("invalid TAX_RATE: %w", err)
	}
	if cfg.ShippingRates, err = services.ParseShippingRates(getEnv("SHIPPING_RATES", services.DefaultShippingRates)); err != nil {
		return nil, err
	}
	if cfg.CheckoutPerMinute, err = strconv.Atoi(getEnv("CHECKOUT_RATE_LIMIT", "30")); err != nil {
		return nil, fmt.Errorf("invalid CHECKOUT_RATE_LIMIT: %w", err)
	}
	if cfg.RequestTimeout, err = time.ParseDuration(getEnv("REQUEST_TIMEOUT", "30s")); err != nil {
		return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
	}
	if cfg.EventLedgerTTL, err = time.ParseDuration(getEnv("EVENT_LEDGER_TTL", "24h")); err != nil {
		return nil, fmt.Errorf("invalid EVENT_LEDGER_TTL: %w", err)
	}

	if secrets != nil {
		applySecrets(ctx, cfg, secrets)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applySecrets overlays Secrets Manager values. A missing secret keeps the
// environment value.
func applySecrets(ctx context.Context, cfg *Config, secrets secretSource) {
	if m, err := secrets.GetSecretMap(ctx, "checkout/DB_CREDENTIALS"); err == nil {
		overlay(&cfg.Postgres.User, m["POSTGRES_USER"])
		overlay(&cfg.Postgres.Password, m["POSTGRES_PASSWORD"])
		overlay(&cfg.Postgres.Name, m["POSTGRES_DB"])
		overlay(&cfg.Postgres.Host, m["POSTGRES_HOST"])
		overlay(&cfg.Postgres.Port, m["POSTGRES_PORT"])
	}
	if v, err := secrets.GetSecret(ctx, "checkout/STRIPE_API_KEY"); err == nil {
		overlay(&cfg.StripeAPIKey, v)
	}
	if v, err := secrets.GetSecret(ctx, "checkout/STRIPE_WEBHOOK_SECRET"); err == nil {
		overlay(&cfg.StripeWebhookSecret, v)
	}
}

func overlay(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case backendPostgres:
		if c.Postgres.User == "" || c.Postgres.Password == "" || c.Postgres.Name == "" || c.Postgres.Host == "" {
			return fmt.Errorf("database config incomplete")
		}
	case backendDynamoDB:
		if c.DynamoOrdersTable == "" || c.DynamoProductsTable == "" {
			return fmt.Errorf("DYNAMO_ORDERS_TABLE and DYNAMO_PRODUCTS_TABLE are required")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.StripeAPIKey == "" || c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_API_KEY and STRIPE_WEBHOOK_SECRET are required")
	}
	if c.CheckoutPerMinute < 0 {
		return fmt.Errorf("CHECKOUT_RATE_LIMIT must not be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
