package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Property backends
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendDynamoDB = "dynamodb"
)

// Config holds all configuration for the application
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	// XMPPDomain and MUCSubdomain form the service address
	// (<subdomain>.<domain>); MUCSubdomain is also the property namespace
	// the history defaults are read from.
	XMPPDomain   string `yaml:"xmppDomain"`
	MUCSubdomain string `yaml:"mucSubdomain"`

	PropertyBackend string `yaml:"propertyBackend"`
	BadgerPath      string `yaml:"badgerPath"`

	DynamoDBEndpoint string `yaml:"dynamodbEndpoint"`
	DynamoDBRegion   string `yaml:"dynamodbRegion"`
	AWSAccessKey     string `yaml:"awsAccessKeyId"`
	AWSSecretKey     string `yaml:"awsSecretAccessKey"`

	SnapshotCompression string `yaml:"snapshotCompression"`
	PersistOnShutdown   bool   `yaml:"persistOnShutdown"`
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:                getEnv("PORT", "8080"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		XMPPDomain:          getEnv("XMPP_DOMAIN", "localhost"),
		MUCSubdomain:        getEnv("MUC_SUBDOMAIN", "conference"),
		PropertyBackend:     getEnv("PROPERTY_BACKEND", BackendMemory),
		BadgerPath:          getEnv("BADGER_PATH", "./data/properties"),
		DynamoDBEndpoint:    getEnv("DYNAMODB_ENDPOINT", "http://localhost:8000"),
		DynamoDBRegion:      getEnv("DYNAMODB_REGION", "us-east-1"),
		AWSAccessKey:        getEnv("AWS_ACCESS_KEY_ID", "dummy"),
		AWSSecretKey:        getEnv("AWS_SECRET_ACCESS_KEY", "dummy"),
		SnapshotCompression: getEnv("SNAPSHOT_COMPRESSION", "zstd"),
		PersistOnShutdown:   getEnvBool("PERSIST_ON_SHUTDOWN", true),
	}
}

// LoadFile reads configuration from the environment and then overlays the
// YAML file at path. Keys missing from the file keep their environment value.
func LoadFile(path string) (*Config, error) {
	cfg := Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that enumerated settings hold known values
func (c *Config) Validate() error {
	switch c.PropertyBackend {
	case BackendMemory, BackendBadger, BackendDynamoDB:
	default:
		return fmt.Errorf("unknown property backend %q", c.PropertyBackend)
	}

	switch c.SnapshotCompression {
	case "none", "lz4", "zstd":
	default:
		return fmt.Errorf("unknown snapshot compression %q", c.SnapshotCompression)
	}

	if c.MUCSubdomain == "" {
		return fmt.Errorf("MUC subdomain must not be empty")
	}
	return nil
}

// ServiceAddress returns the address of the MUC service
func (c *Config) ServiceAddress() string {
	return c.MUCSubdomain + "." + c.XMPPDomain
}

// RoomAddress returns the bare address of a room on the MUC service
func (c *Config) RoomAddress(room string) string {
	return room + "@" + c.ServiceAddress()
}

// getEnv reads an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool reads a boolean environment variable; unparsable values use the default
func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
