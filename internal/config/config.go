// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/ashendes/petadoption-payments/internal/gateway"
	"github.com/caarlos0/env/v11"
)

// Provider holds one gateway provider's endpoint and credentials
type Provider struct {
	URL    string `env:"URL"`
	Key    string `env:"KEY"`
	Secret string `env:"SECRET"`
}

// Config is the payment service configuration
type Config struct {
	Port     string `env:"PORT"      envDefault:"8083"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	GatewayTimeout time.Duration     `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL time.Duration     `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	ReplayWait     time.Duration     `env:"REPLAY_WAIT"     envDefault:"15s"`
	GatewayRoutes  map[string]string `env:"GATEWAY_ROUTES"  envDefault:"USD/card:card,USD/bank-transfer:bank,USD/mobile-wallet:wallet" envKeyValSeparator:":"`
	BulkheadSize   int               `env:"GATEWAY_BULKHEAD_SIZE" envDefault:"10"`
	BulkheadWait   time.Duration     `env:"GATEWAY_BULKHEAD_WAIT" envDefault:"2s"`

	Card   Provider `envPrefix:"CARD_GATEWAY_"`
	Bank   Provider `envPrefix:"BANK_GATEWAY_"`
	Wallet Provider `envPrefix:"WALLET_GATEWAY_"`

	MockGateway   bool          `env:"MOCK_GATEWAY_ENABLED"    envDefault:"false"`
	MockSlowDelay time.Duration `env:"MOCK_GATEWAY_SLOW_DELAY" envDefault:"15s"`
	ChaosEnabled  bool          `env:"CHAOS_ENABLED"           envDefault:"false"`

	RedisAddr  string `env:"REDIS_ADDR"`
	LedgerPath string `env:"LEDGER_PATH"`

	KafkaBrokers        []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic          string        `env:"KAFKA_TOPIC"   envDefault:"donation.completed"`
	NotifyWebhookURL    string        `env:"NOTIFY_WEBHOOK_URL"`
	NotificationTimeout time.Duration `env:"NOTIFICATION_TIMEOUT" envDefault:"5s"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and checks the service configuration
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.GatewayTimeout <= 0 {
		return Config{}, fmt.Errorf("GATEWAY_TIMEOUT must be positive, got %s", cfg.GatewayTimeout)
	}
	if cfg.ReplayWait <= cfg.GatewayTimeout {
		return Config{}, fmt.Errorf("REPLAY_WAIT (%s) must exceed GATEWAY_TIMEOUT (%s)", cfg.ReplayWait, cfg.GatewayTimeout)
	}
	if cfg.BulkheadSize <= 0 {
		return Config{}, fmt.Errorf("GATEWAY_BULKHEAD_SIZE must be positive, got %d", cfg.BulkheadSize)
	}
	return cfg, nil
}

// Providers returns provider settings keyed by the names routes refer to
func (c Config) Providers() map[string]gateway.ProviderConfig {
	return map[string]gateway.ProviderConfig{
		"card":   gateway.ProviderConfig(c.Card),
		"bank":   gateway.ProviderConfig(c.Bank),
		"wallet": gateway.ProviderConfig(c.Wallet),
	}
}
