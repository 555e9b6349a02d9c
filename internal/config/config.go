/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the ingestion-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`

	EventsExchange            string `mapstructure:"EVENTS_EXCHANGE"`
	ReplicationQueue          string `mapstructure:"REPLICATION_QUEUE"`
	ReplicationDeadLetter     string `mapstructure:"REPLICATION_DEAD_LETTER_QUEUE"`
	ReplicationMaxAttempts    int64  `mapstructure:"REPLICATION_MAX_ATTEMPTS"`
	ReplicationRetryDelaySecs int64  `mapstructure:"REPLICATION_RETRY_DELAY_SECONDS"`

	ProviderAPIBaseURL    string `mapstructure:"PROVIDER_API_BASE_URL"`
	ProviderMainnetAPIKey string `mapstructure:"PROVIDER_MAINNET_API_KEY"`
	ProviderDevnetAPIKey  string `mapstructure:"PROVIDER_DEVNET_API_KEY"`

	WebhookURL           string `mapstructure:"WEBHOOK_URL"`
	WebhookMainnetSecret string `mapstructure:"WEBHOOK_MAINNET_SECRET"`
	WebhookDevnetSecret  string `mapstructure:"WEBHOOK_DEVNET_SECRET"`

	VaultEncryptionKey string `mapstructure:"VAULT_ENCRYPTION_KEY"`
	ClerkJWKSURL       string `mapstructure:"CLERK_JWKS_URL"`
	ClerkAudience      string `mapstructure:"CLERK_AUDIENCE"`
	ClerkIssuer        string `mapstructure:"CLERK_ISSUER"`

	IndexingCreditCost     int64 `mapstructure:"INDEXING_CREDIT_COST"`
	TenantDBMaxIdleMinutes int   `mapstructure:"TENANT_DB_MAX_IDLE_MINUTES"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("EVENTS_EXCHANGE", "solixdb.events")
	viper.SetDefault("REPLICATION_QUEUE", "ingestion_service.replication_jobs")
	viper.SetDefault("REPLICATION_DEAD_LETTER_QUEUE", "ingestion_service.replication_jobs.dead")
	viper.SetDefault("REPLICATION_MAX_ATTEMPTS", 5)
	viper.SetDefault("REPLICATION_RETRY_DELAY_SECONDS", 30)
	viper.SetDefault("PROVIDER_API_BASE_URL", "https://api.helius.xyz/v0")
	viper.SetDefault("INDEXING_CREDIT_COST", 100)
	viper.SetDefault("TENANT_DB_MAX_IDLE_MINUTES", 10)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("REPLICATION_QUEUE")
	_ = viper.BindEnv("REPLICATION_DEAD_LETTER_QUEUE")
	_ = viper.BindEnv("REPLICATION_MAX_ATTEMPTS")
	_ = viper.BindEnv("REPLICATION_RETRY_DELAY_SECONDS")
	_ = viper.BindEnv("PROVIDER_API_BASE_URL")
	_ = viper.BindEnv("PROVIDER_MAINNET_API_KEY", "PROVIDER_MAINNET_API_KEY", "HELIUS_API_KEY")
	_ = viper.BindEnv("PROVIDER_DEVNET_API_KEY")
	_ = viper.BindEnv("WEBHOOK_URL")
	_ = viper.BindEnv("WEBHOOK_MAINNET_SECRET")
	_ = viper.BindEnv("WEBHOOK_DEVNET_SECRET")
	_ = viper.BindEnv("VAULT_ENCRYPTION_KEY", "VAULT_ENCRYPTION_KEY", "ENCRYPTION_KEY")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("CLERK_AUDIENCE")
	_ = viper.BindEnv("CLERK_ISSUER")
	_ = viper.BindEnv("INDEXING_CREDIT_COST")
	_ = viper.BindEnv("TENANT_DB_MAX_IDLE_MINUTES")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.WebhookMainnetSecret = strings.TrimSpace(config.WebhookMainnetSecret)
	config.WebhookDevnetSecret = strings.TrimSpace(config.WebhookDevnetSecret)
	config.VaultEncryptionKey = strings.TrimSpace(config.VaultEncryptionKey)

	if config.IndexingCreditCost < 0 {
		log.Printf("level=warn component=config msg=\"negative credit cost configured; coercing to zero\" credit_cost=%d", config.IndexingCreditCost)
		config.IndexingCreditCost = 0
	}
	if config.ReplicationMaxAttempts <= 0 {
		config.ReplicationMaxAttempts = 5
	}
	if config.ReplicationRetryDelaySecs <= 0 {
		config.ReplicationRetryDelaySecs = 30
	}
	if config.TenantDBMaxIdleMinutes <= 0 {
		config.TenantDBMaxIdleMinutes = 10
	}

	return
}
