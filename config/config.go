// Package config loads the relay daemon's configuration from the
// environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Config holds every knob the relay daemon reads at startup. The relay
// private key is custodial: it is consumed here, handed to the signer, and
// never surfaced anywhere else.
type Config struct {
	// HTTP listener.
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"HTTP_PORT" envDefault:"8080"`

	// Chain access.
	RPCURL          string `env:"RPC_URL,required"`
	RelayPrivateKey string `env:"RELAYER_PRIVATE_KEY,required,unset"`
	ContractAddress string `env:"CONTRACT_ADDRESS,required"`
	TokenAddress    string `env:"TOKEN_ADDRESS"`

	// Relay economics.
	FeeRecipient string `env:"PLATFORM_FEE_RECIPIENT,required"`
	FeeBps       int64  `env:"FEE_BPS" envDefault:"500"`

	// Price oracle.
	OracleURL         string `env:"ORACLE_URL"`
	OracleFallbackUsd string `env:"ORACLE_FALLBACK_USD"`

	// Catalog (PostgREST).
	SupabaseURL    string `env:"SUPABASE_URL"`
	SupabaseAPIKey string `env:"SUPABASE_API_KEY"`

	// Metadata pinning.
	PinataJWT     string `env:"PINATA_JWT"`
	PinataGateway string `env:"PINATA_GATEWAY"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.FeeBps < 0 || cfg.FeeBps > 10000 {
		return nil, fmt.Errorf("FEE_BPS must be between 0 and 10000, got %d", cfg.FeeBps)
	}
	return &cfg, nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CatalogEnabled reports whether the catalog surface is configured.
func (c *Config) CatalogEnabled() bool {
	return c.SupabaseURL != ""
}

// PinningEnabled reports whether the metadata pinning surface is
// configured.
func (c *Config) PinningEnabled() bool {
	return c.PinataJWT != ""
}
