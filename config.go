package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Postgres PostgresConfig `yaml:"postgres"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Ipfs     IpfsConfig     `yaml:"ipfs"`
}

type ServiceConfig struct {
	Name                string `yaml:"name"`
	Port                int    `yaml:"port"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
}

type PostgresConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Database       string `yaml:"database"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	SSLMode        string `yaml:"sslmode"`
	MaxConnections int    `yaml:"max_connections"`
}

type LedgerConfig struct {
	Endpoint       string `yaml:"endpoint"`
	ProgramID      string `yaml:"program_id"`
	SignerSeed     string `yaml:"signer_seed"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type IpfsConfig struct {
	APIURL         string `yaml:"api_url"`
	GatewayURL     string `yaml:"gateway_url"`
	APIKey         string `yaml:"api_key"`
	APISecret      string `yaml:"api_secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Secrets may come from the environment instead of the file.
	config.Postgres.Password = envOverride("POSTGRES_PASSWORD", config.Postgres.Password)
	config.Ledger.SignerSeed = envOverride("LEDGER_SIGNER_SEED", config.Ledger.SignerSeed)
	config.Ipfs.APIKey = envOverride("PINATA_API_KEY", config.Ipfs.APIKey)
	config.Ipfs.APISecret = envOverride("PINATA_SECRET_API_KEY", config.Ipfs.APISecret)

	return &config, nil
}

func envOverride(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}
